// Package website serves the landing page, the registration form, the
// organizer sign-in and the admin dashboard, plus a small JSON API.
package website

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"filippo.io/csrf"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/mujeresenbici/rodada/internal/access"
	"github.com/mujeresenbici/rodada/internal/aggregate"
	"github.com/mujeresenbici/rodada/internal/assets"
	httpmiddleware "github.com/mujeresenbici/rodada/internal/http"
	"github.com/mujeresenbici/rodada/internal/logger"
	"github.com/mujeresenbici/rodada/internal/login"
	"github.com/mujeresenbici/rodada/internal/registration"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

//go:embed templates
var templateFiles embed.FS

//go:embed static
var staticFiles embed.FS

// Deps are the collaborators behind the routes. Password and Github are
// optional; at least one sign-in method must be configured.
type Deps struct {
	Registrations *registration.Service
	Dashboard     *aggregate.Loader
	Gate          *access.Gate
	Sessions      *login.Sessions
	Password      *login.PasswordAuthenticator
	Github        *login.Github

	Logger zerolog.Logger

	// Tracer starts the per-request server spans. Default: the global provider.
	Tracer trace.Tracer

	// Registerer and Gatherer back /metrics. Default: the global registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server is the website's HTTP surface.
type Server struct {
	cfg  Config
	deps Deps

	identity login.IdentityProvider
	assets   *assets.Pipeline
	metrics  *httpmiddleware.Metrics
}

// New parses templates, builds static assets and wires the routes.
func New(cfg Config, deps Deps) (*Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid website config: %w", err)
	}

	switch {
	case deps.Registrations == nil:
		return nil, errors.New("registration service is required")
	case deps.Dashboard == nil:
		return nil, errors.New("dashboard loader is required")
	case deps.Gate == nil:
		return nil, errors.New("access gate is required")
	case deps.Sessions == nil:
		return nil, errors.New("sessions are required")
	case deps.Password == nil && deps.Github == nil:
		return nil, errors.New("at least one sign-in method is required")
	}

	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	templates, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		return nil, err
	}
	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, err
	}

	pipeline, err := assets.NewWithTemplates(assets.DefaultConfig(), static, templates, templateFuncs(cfg.Location))
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	if err := pipeline.Build(); err != nil {
		return nil, fmt.Errorf("failed to build static assets: %w", err)
	}

	return &Server{
		cfg:      cfg,
		deps:     deps,
		identity: deps.Sessions,
		assets:   pipeline,
		metrics:  httpmiddleware.NewMetrics(deps.Registerer),
	}, nil
}

// Handler returns the full router. HTML routes get cross-origin request
// protection, API routes get CORS, and every response may be gzipped.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(httpmiddleware.Tracing(s.deps.Tracer))
	r.Use(logger.Requests(s.deps.Logger))
	r.Use(httpmiddleware.ClientIPMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	r.Handle(assets.DefaultConfig().Prefix+"*", s.assets.StaticHandler())

	protection := csrf.New()

	r.Group(func(r chi.Router) {
		r.Use(protection.Handler)

		r.Get("/", s.gated(access.RoutePublic, s.handleLanding))
		r.Get("/registro", s.gated(access.RoutePublic, s.handleRegistrationForm))
		r.Post("/registro", s.gated(access.RoutePublic, s.handleRegistrationSubmit))

		r.Get("/login", s.gated(access.RouteLogin, s.handleLoginForm))
		r.Post("/login", s.gated(access.RouteLogin, s.handleLoginSubmit))
		if s.deps.Github != nil {
			r.Get("/login/github", s.gated(access.RouteLogin, s.deps.Github.LoginHandler))
			r.Get("/github/callback", s.gated(access.RouteLogin, s.deps.Github.CallbackHandler))
		}
		r.Post("/logout", s.handleLogout)

		r.Get("/admin", s.gated(access.RouteDashboard, s.handleDashboard))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true, // dashboard summary uses the session cookie
		}).Handler)

		r.Post("/registrations", s.gatedAPI(access.RoutePublic, s.handleAPISubmit))
		r.Get("/summary", s.gatedAPI(access.RouteDashboard, s.handleAPISummary))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.renderError(w, r, http.StatusNotFound, "Página no encontrada", "La página que buscas no existe.", false)
	})

	return gzhttp.GzipHandler(r)
}
