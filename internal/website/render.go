package website

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/mujeresenbici/rodada/internal/aggregate"
	"github.com/mujeresenbici/rodada/internal/login"
	"github.com/rs/zerolog/log"
)

func templateFuncs(loc *time.Location) template.FuncMap {
	return template.FuncMap{
		"inc": func(i int) int { return i + 1 },
		"add": func(a, b int) int { return a + b },
		"opt": func(v *string) string {
			if v == nil || *v == "" {
				return "-"
			}
			return *v
		},
		"fecha": func(t time.Time) string {
			return t.In(loc).Format("02/01/2006 15:04")
		},
		"decimal": func(f float64) string {
			return fmt.Sprintf("%.1f", f)
		},
		"join":  strings.Join,
		"field": companionField,
		"dict":  dict,
	}
}

// dict builds a map from alternating keys and values so a template can pass
// several values to a partial.
func dict(pairs ...any) (map[string]any, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("dict needs an even number of arguments, got %d", len(pairs))
	}
	out := make(map[string]any, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict key %v is not a string", pairs[i])
		}
		out[key] = pairs[i+1]
	}
	return out, nil
}

// layoutData is what every page's layout reads. Each request builds its own.
type layoutData struct {
	Title    string
	Event    EventInfo
	Identity *login.Identity
}

func (s *Server) layout(r *http.Request, title string) layoutData {
	identity, _ := login.IdentityFromContext(r.Context())
	return layoutData{
		Title:    title,
		Event:    s.cfg.Event,
		Identity: identity,
	}
}

type errorPage struct {
	layoutData
	Heading  string
	Message  string
	RetryURL string
}

// renderError shows an error page with a way home and, when retry is set, a
// link that repeats the request.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, heading, message string, retry bool) {
	data := errorPage{
		layoutData: s.layout(r, heading),
		Heading:    heading,
		Message:    message,
	}
	if retry {
		data.RetryURL = r.URL.RequestURI()
	}
	s.assets.Render(w, status, "error", data)
}

type apiError struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// sizeOptions are the jersey sizes offered by the form.
func sizeOptions() []string {
	return aggregate.SizeOrder
}
