package website

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/mujeresenbici/rodada/internal/aggregate"
)

type dashboardPage struct {
	layoutData
	View     *aggregate.View
	Page     aggregate.Page
	Expanded uuid.UUID
}

// IsExpanded reports whether the companions of id are shown.
func (p dashboardPage) IsExpanded(id uuid.UUID) bool {
	return p.Expanded != uuid.Nil && p.Expanded == id
}

// pageNumber reads the 1-based "pagina" parameter. Bad values mean page 1,
// large values are clamped by the view.
func pageNumber(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("pagina"))
	if err != nil {
		return 1
	}
	return n
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Dashboard.Load(r.Context())
	if err != nil {
		loggerFor(r).Error().Err(err).Msg("Failed to load dashboard")
		s.renderError(w, r, http.StatusServiceUnavailable,
			"No se pudieron cargar los registros",
			"Hubo un problema al consultar los registros. Intenta de nuevo en unos momentos.",
			true)
		return
	}

	page := dashboardPage{
		layoutData: s.layout(r, "Panel de registros"),
		View:       view,
		Page:       view.Page(pageNumber(r), aggregate.DefaultPageSize),
	}

	if id, err := uuid.Parse(r.URL.Query().Get("ver")); err == nil {
		if _, ok := view.Find(id); ok {
			page.Expanded = id
		}
	}

	s.assets.Render(w, http.StatusOK, "admin", page)
}
