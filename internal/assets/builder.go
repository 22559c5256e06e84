package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/minio/crc64nvme"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
)

// Asset is a built static file served under a fingerprinted path.
type Asset struct {
	Name        string // logical name, e.g. "site.css"
	Path        string // URL path including prefix and fingerprint
	ContentType string
	Content     []byte
}

// Build minifies every stylesheet and script in the static FS with esbuild
// and assigns each a content fingerprinted URL.
func (p *Pipeline) Build() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.static == nil {
		return errors.New("no static files configured")
	}

	built := make(map[string]*Asset)
	byPath := make(map[string]*Asset)

	err := fs.WalkDir(p.static, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		source, err := fs.ReadFile(p.static, name)
		if err != nil {
			return err
		}

		content, err := p.transform(name, source)
		if err != nil {
			return err
		}

		asset := &Asset{
			Name:        name,
			Path:        p.config.Prefix + fingerprintName(name, content),
			ContentType: contentType(name),
			Content:     content,
		}
		built[name] = asset
		byPath[asset.Path] = asset

		log.Info().Str("file", name).Str("path", asset.Path).Int("bytes", len(content)).Msg("Built asset")
		return nil
	})
	if err != nil {
		return err
	}

	if len(built) == 0 {
		return errors.New("no static files found")
	}

	p.assets = built
	p.byPath = byPath
	return nil
}

func (p *Pipeline) transform(name string, source []byte) ([]byte, error) {
	var loader api.Loader
	switch path.Ext(name) {
	case ".css":
		loader = api.LoaderCSS
	case ".js":
		loader = api.LoaderJS
	default:
		return source, nil
	}

	result := api.Transform(string(source), api.TransformOptions{
		Loader:            loader,
		Sourcefile:        name,
		MinifyWhitespace:  p.config.Minify,
		MinifyIdentifiers: p.config.Minify,
		MinifySyntax:      p.config.Minify,
	})

	if len(result.Errors) > 0 {
		for _, msg := range result.Errors {
			log.Error().Str("file", name).Str("error", msg.Text).Msg("Build error")
		}
		return nil, fmt.Errorf("esbuild failed on %s", name)
	}

	return result.Code, nil
}

// fingerprintName inserts a base58 CRC-64 of content before the extension.
func fingerprintName(name string, content []byte) string {
	h := crc64nvme.New()
	_, _ = h.Write(content)

	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "." + base58.Encode(h.Sum(nil)) + ext
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// AssetPath returns the fingerprinted URL of a built asset.
func (p *Pipeline) AssetPath(name string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.assets == nil {
		return "", errors.New("assets not built yet, call Build() first")
	}

	asset, ok := p.assets[name]
	if !ok {
		return "", fmt.Errorf("asset %q not found", name)
	}
	return asset.Path, nil
}

// StaticHandler serves built assets. Fingerprinted paths never change
// content, so responses are cacheable for a year.
func (p *Pipeline) StaticHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.RLock()
		asset, ok := p.byPath[r.URL.Path]
		p.mu.RUnlock()

		if !ok {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", asset.ContentType)
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		_, _ = w.Write(asset.Content)
	})
}
