package assets

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"maps"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Pipeline owns the page templates and the built static assets.
type Pipeline struct {
	config Config
	static fs.FS

	pages map[string]*template.Template

	mu     sync.RWMutex
	assets map[string]*Asset
	byPath map[string]*Asset
}

// New creates a pipeline with no templates, serving static files only.
func New(config Config, static fs.FS) *Pipeline {
	return &Pipeline{
		config: config,
		static: static,
	}
}

// NewWithTemplates creates a pipeline and parses every page in templates.
// Each page is parsed on its own clone of the layout and partials, so
// pages may all define the same blocks.
func NewWithTemplates(config Config, static, templates fs.FS, customFuncs template.FuncMap) (*Pipeline, error) {
	p := New(config, static)

	funcs := template.FuncMap{
		"asset": p.assetURL,
	}

	// Merge custom functions
	maps.Copy(funcs, customFuncs)

	base, err := template.New(config.Layout).Funcs(funcs).ParseFS(templates, config.Layout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}

	if config.PartialGlob != "" {
		partials, err := fs.Glob(templates, config.PartialGlob)
		if err != nil {
			return nil, err
		}
		if len(partials) > 0 {
			if base, err = base.ParseFS(templates, config.PartialGlob); err != nil {
				return nil, fmt.Errorf("failed to parse partials: %w", err)
			}
		}
	}

	pageFiles, err := fs.Glob(templates, config.PageGlob)
	if err != nil {
		return nil, err
	}
	if len(pageFiles) == 0 {
		return nil, errors.New("no page templates found")
	}

	p.pages = make(map[string]*template.Template, len(pageFiles))
	for _, file := range pageFiles {
		clone, err := base.Clone()
		if err != nil {
			return nil, err
		}
		page, err := clone.ParseFS(templates, file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse page %s: %w", file, err)
		}
		name := strings.TrimSuffix(path.Base(file), path.Ext(file))
		p.pages[name] = page
	}

	return p, nil
}

// Pages lists the parsed page names.
func (p *Pipeline) Pages() []string {
	names := make([]string, 0, len(p.pages))
	for name := range p.pages {
		names = append(names, name)
	}
	return names
}

// Render executes the named page into a buffer, then writes status and body.
// A template failure becomes a plain 500.
func (p *Pipeline) Render(w http.ResponseWriter, status int, page string, data any) {
	tmpl, ok := p.pages[page]
	if !ok {
		log.Error().Str("page", page).Msg("Unknown page template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, p.config.Layout, data); err != nil {
		log.Error().Err(err).Str("page", page).Msg("Failed to render template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// assetURL is the template helper behind {{asset "site.css"}}.
func (p *Pipeline) assetURL(name string) (string, error) {
	return p.AssetPath(name)
}
