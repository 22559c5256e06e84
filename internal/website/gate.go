package website

import (
	"errors"
	"net/http"

	"github.com/mujeresenbici/rodada/internal/access"
	"github.com/mujeresenbici/rodada/internal/login"
	"github.com/rs/zerolog"
)

// currentIdentity resolves the request's session. Anything other than a
// valid session counts as signed out.
func (s *Server) currentIdentity(r *http.Request) *login.Identity {
	identity, err := s.identity.CurrentIdentity(r)
	if err != nil {
		if !errors.Is(err, login.ErrNoSession) {
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("Ignoring unusable session")
		}
		return nil
	}
	return identity
}

// decide runs the access gate for the request and signs out when asked to.
func (s *Server) decide(w http.ResponseWriter, r *http.Request, class access.RouteClass) (*login.Identity, access.Decision) {
	identity := s.currentIdentity(r)

	email := ""
	if identity != nil {
		email = identity.Email
	}

	decision := s.deps.Gate.Decide(r.Context(), email, class)
	if decision.SignOut {
		if err := s.identity.SignOut(w, r); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to sign out unauthorized user")
		}
		identity = nil
	}

	return identity, decision
}

// gated evaluates the access gate on every request before an HTML handler.
func (s *Server) gated(class access.RouteClass, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, decision := s.decide(w, r, class)

		switch decision.Outcome {
		case access.RedirectLogin:
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		case access.RedirectHome:
			http.Redirect(w, r, "/", http.StatusFound)
			return
		case access.RedirectDashboard:
			http.Redirect(w, r, "/admin", http.StatusFound)
			return
		}

		ctx := r.Context()
		if identity != nil {
			ctx = login.ContextWithIdentity(ctx, identity)
		}
		next(w, r.WithContext(ctx))
	}
}

// gatedAPI is gated for JSON routes: redirects become status codes, and a
// redirect to the dashboard is irrelevant so the request proceeds.
func (s *Server) gatedAPI(class access.RouteClass, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, decision := s.decide(w, r, class)

		switch decision.Outcome {
		case access.RedirectLogin:
			writeJSON(w, http.StatusUnauthorized, apiError{Error: "Inicia sesión para continuar"})
			return
		case access.RedirectHome:
			writeJSON(w, http.StatusForbidden, apiError{Error: "Acceso no autorizado"})
			return
		}

		ctx := r.Context()
		if identity != nil {
			ctx = login.ContextWithIdentity(ctx, identity)
		}
		next(w, r.WithContext(ctx))
	}
}
