package website

import "net/http"

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	s.assets.Render(w, http.StatusOK, "inicio", s.layout(r, s.cfg.Event.Name))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.identity.SignOut(w, r); err != nil {
		// the cookie is cleared regardless
		loggerFor(r).Error().Err(err).Msg("Failed to revoke session on logout")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
