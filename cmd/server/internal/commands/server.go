package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mujeresenbici/rodada/internal/access"
	"github.com/mujeresenbici/rodada/internal/aggregate"
	"github.com/mujeresenbici/rodada/internal/client"
	"github.com/mujeresenbici/rodada/internal/logger"
	"github.com/mujeresenbici/rodada/internal/login"
	"github.com/mujeresenbici/rodada/internal/registration"
	"github.com/mujeresenbici/rodada/internal/telemetry"
	"github.com/mujeresenbici/rodada/internal/website"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"RODADA_LISTEN"`
	Cert   string `help:"path to TLS cert file, serves plain HTTP when empty" default:"" env:"RODADA_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"RODADA_TLS_KEY"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" env:"RODADA_CORS_ORIGINS"`

	// Submission behaviour
	AtomicSubmissions bool `help:"write each registration and its companions in one transaction" default:"false" env:"RODADA_ATOMIC_SUBMISSIONS"`

	// Telemetry
	Tracing          bool    `help:"enable tracing" default:"false" env:"RODADA_TRACING"`
	TraceSampleRatio float64 `help:"fraction of requests traced" default:"1.0" env:"RODADA_TRACE_SAMPLE_RATIO"`

	Store   StoreFlags   `embed:""`
	Admin   AdminFlags   `embed:"" prefix:"admin-"`
	Session SessionFlags `embed:"" prefix:"session-"`
	Redis   RedisFlags   `embed:"" prefix:"redis-"`
	Github  GithubFlags  `embed:"" prefix:"github-"`
	Event   EventFlags   `embed:"" prefix:"event-"`
}

type AdminFlags struct {
	Emails       []string `help:"emails allowed to open the dashboard" env:"RODADA_ADMIN_EMAILS"`
	Email        string   `help:"account email for password sign-in" default:"${default_admin_email}" env:"RODADA_ADMIN_EMAIL"`
	PasswordHash string   `help:"bcrypt hash for password sign-in, see hash-password" env:"RODADA_ADMIN_PASSWORD_HASH"`
}

type SessionFlags struct {
	Secret   string        `help:"HMAC secret for session tokens (at least 32 bytes)" env:"RODADA_SESSION_SECRET"`
	TTL      time.Duration `help:"session TTL" default:"12h" env:"RODADA_SESSION_TTL"`
	Insecure bool          `help:"send the session cookie over plain HTTP (development only)" default:"false" env:"RODADA_SESSION_INSECURE"`
}

func (s *SessionFlags) Validate() error {
	if len(s.Secret) < 32 {
		return errors.New("session secret must be at least 32 bytes (--session-secret or RODADA_SESSION_SECRET)")
	}
	return nil
}

type RedisFlags struct {
	Addr     string `help:"Redis address for session revocations, in-memory when empty" default:"" env:"RODADA_REDIS_ADDR"`
	Password string `help:"Redis password" default:"" env:"RODADA_REDIS_PASSWORD"`
	DB       int    `help:"Redis database" default:"0" env:"RODADA_REDIS_DB"`
}

type GithubFlags struct {
	ClientID     string `help:"GitHub client ID, GitHub sign-in is disabled when empty" default:"" env:"RODADA_GITHUB_CLIENT_ID"`
	ClientSecret string `help:"GitHub client secret" default:"" env:"RODADA_GITHUB_CLIENT_SECRET"`
	CallbackURL  string `help:"GitHub callback URL" default:"" env:"RODADA_GITHUB_CALLBACK_URL"`
	CacheDir     string `help:"directory for cached GitHub API responses, in-memory when empty" default:"" env:"RODADA_GITHUB_CACHE_DIR"`
}

type EventFlags struct {
	Name          string   `help:"event name" default:"Rodada 8M"`
	Tagline       string   `help:"landing page tagline" default:"Pedaleamos juntas por Maravatío en una ruta diseñada para inspirar."`
	Date          string   `help:"event date as shown on the landing page" default:"8 de marzo"`
	Place         string   `help:"event town" default:"Maravatío, Michoacán"`
	MeetingTime   string   `help:"meeting time" default:"7:30 AM"`
	DepartureTime string   `help:"departure time" default:"8:00 AM"`
	MeetingPoint  string   `help:"meeting point" default:"Canchas del Chirimoyo"`
	MapsURL       string   `help:"map link for the meeting point" default:"https://www.google.com/maps/dir/?api=1&destination=Cancha+del+Chirimoyo"`
	ContactEmail  string   `help:"contact email" default:"mujeresenbici2026@gmail.com"`
	InstagramURL  string   `help:"Instagram profile link" default:""`
	Routes        []string `help:"routes as name=distance" default:"Ruta corta=20 km,Ruta larga=30 km"`
	Timezone      string   `help:"time zone for displayed timestamps" default:"America/Mexico_City" env:"RODADA_TIMEZONE"`
	MaxCompanions int      `help:"maximum companions per registration" default:"20"`
}

func (e *EventFlags) config() (website.Config, error) {
	routes, err := website.ParseRoutes(e.Routes)
	if err != nil {
		return website.Config{}, err
	}

	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return website.Config{}, fmt.Errorf("invalid time zone %q: %w", e.Timezone, err)
	}

	return website.Config{
		Event: website.EventInfo{
			Name:          e.Name,
			Tagline:       e.Tagline,
			Date:          e.Date,
			Place:         e.Place,
			MeetingTime:   e.MeetingTime,
			DepartureTime: e.DepartureTime,
			MeetingPoint:  e.MeetingPoint,
			MapsURL:       e.MapsURL,
			ContactEmail:  e.ContactEmail,
			InstagramURL:  e.InstagramURL,
			Routes:        routes,
		},
		Location:      loc,
		MaxCompanions: e.MaxCompanions,
	}, nil
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.Store.checkCompanionLimit(c.Event.MaxCompanions); err != nil {
		return err
	}

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "rodada",
			Version:     globals.Version,
			SampleRatio: c.TraceSampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	st, err := c.Store.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close record store")
		}
	}()

	var svcOpts []registration.Option
	if c.AtomicSubmissions {
		svcOpts = append(svcOpts, registration.WithAtomicWrites())
		log.Info().Msg("Atomic submissions enabled")
	} else {
		log.Warn().Msg("Atomic submissions disabled, a failed companion write leaves the primary registration without companions")
	}

	svc, err := registration.NewService(st, svcOpts...)
	if err != nil {
		return fmt.Errorf("failed to create registration service: %w", err)
	}

	sessions, closeSessions, err := c.sessions(ctx, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSessions(); err != nil {
			log.Error().Err(err).Msg("Failed to close session revocation list")
		}
	}()

	deps := website.Deps{
		Registrations: svc,
		Dashboard:     aggregate.NewLoader(st),
		Gate:          access.NewGate(access.NewAllowList(c.Admin.Emails...)),
		Sessions:      sessions,
		Logger:        log,
	}

	if c.Admin.PasswordHash != "" {
		deps.Password, err = login.NewPasswordAuthenticator(c.Admin.Email, c.Admin.PasswordHash)
		if err != nil {
			return fmt.Errorf("failed to configure password sign-in: %w", err)
		}
		log.Info().Str("user", c.Admin.Email).Msg("Password sign-in enabled")
	}

	if c.Github.ClientID != "" {
		gh, err := login.NewGithub(c.Github.ClientID, c.Github.ClientSecret, c.Github.CallbackURL, "/admin", sessions)
		if err != nil {
			return fmt.Errorf("failed to initialize GitHub OAuth: %w", err)
		}
		deps.Github = gh.WithHTTPClient(client.NewCachingHTTPClient(c.Github.CacheDir))
		log.Info().Msg("GitHub sign-in enabled")
	}

	siteCfg, err := c.Event.config()
	if err != nil {
		return err
	}
	siteCfg.CORSOrigins = c.CORSOrigins

	site, err := website.New(siteCfg, deps)
	if err != nil {
		return fmt.Errorf("failed to create website: %w", err)
	}

	srv := configureHTTPServer(c.Listen, site.Handler())

	errCh := make(chan error, 1)
	go func() {
		tls := c.Cert != "" && c.Key != ""
		log.Info().Str("addr", c.Listen).Bool("tls", tls).Msg("Starting HTTP server")
		if tls {
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// sessions builds the session manager. Revocations go to Redis when an
// address is configured so every replica sees a sign-out. The returned
// func releases the Redis client.
func (c *ServerCmd) sessions(ctx context.Context, log zerolog.Logger) (*login.Sessions, func() error, error) {
	var revocations login.RevocationList
	closer := func() error { return nil }
	if c.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		closer = rdb.Close
		revocations = login.NewRedisRevocationList(rdb)
		log.Info().Str("addr", c.Redis.Addr).Msg("Using Redis session revocation list")
	} else {
		revocations = login.NewMemoryRevocationList(10 * time.Minute)
		log.Info().Msg("Using in-memory session revocation list")
	}

	var opts []login.SessionOption
	if c.Session.Insecure {
		log.Warn().Msg("Session cookie is not marked Secure. This should only be used in development!")
		opts = append(opts, login.WithInsecureCookie())
	}

	sessions, err := login.NewSessions([]byte(c.Session.Secret), c.Session.TTL, revocations, opts...)
	if err != nil {
		_ = closer()
		return nil, nil, fmt.Errorf("failed to create sessions: %w", err)
	}
	return sessions, closer, nil
}
