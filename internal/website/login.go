package website

import (
	"errors"
	"net/http"

	"github.com/mujeresenbici/rodada/internal/login"
)

const methodPassword = "password"

var loginErrors = map[string]string{
	"github":  "No se pudo iniciar sesión con GitHub.",
	"session": "No se pudo iniciar la sesión. Intenta de nuevo.",
}

type loginPage struct {
	layoutData
	Email    string
	Error    string
	Password bool
	Github   bool
}

func (s *Server) loginPage(r *http.Request) loginPage {
	return loginPage{
		layoutData: s.layout(r, "Iniciar sesión"),
		Password:   s.deps.Password != nil,
		Github:     s.deps.Github != nil,
	}
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	page := s.loginPage(r)
	page.Error = loginErrors[r.URL.Query().Get("error")]
	s.assets.Render(w, http.StatusOK, "login", page)
}

func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Password == nil {
		s.renderError(w, r, http.StatusNotFound, "Página no encontrada", "El inicio de sesión con contraseña no está habilitado.", false)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "Solicitud inválida", "No pudimos leer el formulario.", false)
		return
	}

	page := s.loginPage(r)
	page.Email = r.PostForm.Get("email")

	email, err := s.deps.Password.Authenticate(page.Email, r.PostForm.Get("password"))
	if err != nil {
		if errors.Is(err, login.ErrInvalidCredentials) {
			loggerFor(r).Warn().Str("user", page.Email).Msg("Rejected sign-in attempt")
			page.Error = "Correo o contraseña incorrectos."
			s.assets.Render(w, http.StatusUnauthorized, "login", page)
			return
		}
		loggerFor(r).Error().Err(err).Msg("Failed to verify password")
		page.Error = "No se pudo verificar la contraseña."
		s.assets.Render(w, http.StatusInternalServerError, "login", page)
		return
	}

	if _, err := s.deps.Sessions.Establish(r.Context(), w, email, "", methodPassword); err != nil {
		loggerFor(r).Error().Err(err).Str("user", email).Msg("Failed to establish session")
		page.Error = loginErrors["session"]
		s.assets.Render(w, http.StatusServiceUnavailable, "login", page)
		return
	}

	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}
