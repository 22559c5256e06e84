package website

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mujeresenbici/rodada/internal/registration"
	"github.com/rs/zerolog"
)

const (
	actionAdd       = "add"
	actionRemove    = "remove-"
	savedQueryParam = "guardado"

	tooManyCompanions = "Demasiados integrantes"
)

type registrationPage struct {
	layoutData
	Form          registration.Form
	Sizes         []string
	MaxCompanions int
	Saved         bool
	Error         string
	Problems      []string
}

func (p registrationPage) CanAddCompanion() bool {
	return len(p.Form.Companions) < p.MaxCompanions
}

func (s *Server) registrationPage(r *http.Request, form registration.Form) registrationPage {
	return registrationPage{
		layoutData:    s.layout(r, "Registro"),
		Form:          form,
		Sizes:         sizeOptions(),
		MaxCompanions: s.cfg.MaxCompanions,
	}
}

func (s *Server) handleRegistrationForm(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	rows := s.clampCompanions(query.Get("integrantes"))
	page := s.registrationPage(r, registration.Form{
		Companions: make([]registration.CompanionForm, rows),
	})
	page.Saved = query.Get(savedQueryParam) == "1"

	s.assets.Render(w, http.StatusOK, "registro", page)
}

func (s *Server) handleRegistrationSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "Solicitud inválida", "No pudimos leer el formulario.", false)
		return
	}

	form := s.readForm(r)
	action := r.PostForm.Get("accion")

	if len(form.Companions) > s.cfg.MaxCompanions && !strings.HasPrefix(action, actionRemove) {
		page := s.registrationPage(r, form)
		page.Error = tooManyCompanions
		page.Problems = []string{s.companionLimitMessage()}
		s.assets.Render(w, http.StatusUnprocessableEntity, "registro", page)
		return
	}

	switch {
	case action == actionAdd:
		if len(form.Companions) < s.cfg.MaxCompanions {
			form.Companions = append(form.Companions, registration.CompanionForm{})
		}
		s.assets.Render(w, http.StatusOK, "registro", s.registrationPage(r, form))
		return

	case strings.HasPrefix(action, actionRemove):
		i, err := strconv.Atoi(strings.TrimPrefix(action, actionRemove))
		if err == nil && i >= 0 && i < len(form.Companions) {
			form.Companions = append(form.Companions[:i], form.Companions[i+1:]...)
		}
		s.assets.Render(w, http.StatusOK, "registro", s.registrationPage(r, form))
		return
	}

	if _, err := s.deps.Registrations.Submit(r.Context(), form); err != nil {
		status, problems := submitFailure(r, err)
		page := s.registrationPage(r, form)
		page.Error = registration.UserMessage(err)
		page.Problems = problems
		s.assets.Render(w, status, "registro", page)
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/registro?%s=1", savedQueryParam), http.StatusSeeOther)
}

// submitFailure maps a pipeline error to a status code and the list shown
// under the alert.
func submitFailure(r *http.Request, err error) (int, []string) {
	var verr *registration.ValidationError
	if errors.As(err, &verr) {
		problems := make([]string, 0, len(verr.Violations))
		for _, v := range verr.Violations {
			problems = append(problems, v.Message())
		}
		return http.StatusUnprocessableEntity, problems
	}

	var serr *registration.SubmitError
	if errors.As(err, &serr) {
		loggerFor(r).Error().Err(serr.Err).Str("step", string(serr.Kind)).Msg("Failed to save registration")
		return http.StatusBadGateway, nil
	}

	loggerFor(r).Error().Err(err).Msg("Unexpected registration failure")
	return http.StatusInternalServerError, nil
}

// readForm rebuilds the form from posted values so a re-render keeps
// everything the registrant typed.
func (s *Server) readForm(r *http.Request) registration.Form {
	values := r.PostForm

	form := registration.Form{
		Name:  values.Get("nombre"),
		Place: values.Get("procedencia"),
		Age:   values.Get("edad"),
		Group: values.Get("grupo"),
		Phone: values.Get("telefono"),
		Size:  values.Get("talla"),
	}

	// Every posted row is kept, even past the limit, so the handler can
	// reject the submission instead of losing rows. Each rendered row posts
	// its own fields, which bounds the count.
	rows, err := strconv.Atoi(values.Get("integrantes"))
	if err != nil || rows < 0 {
		rows = 0
	}
	rows = min(rows, len(values))

	form.Companions = make([]registration.CompanionForm, 0, rows)
	for i := range rows {
		form.Companions = append(form.Companions, registration.CompanionForm{
			Name: values.Get(companionField(i, "nombre")),
			Age:  values.Get(companionField(i, "edad")),
			Size: values.Get(companionField(i, "talla")),
		})
	}

	return form
}

func (s *Server) companionLimitMessage() string {
	return fmt.Sprintf("El registro admite hasta %d integrantes", s.cfg.MaxCompanions)
}

func (s *Server) clampCompanions(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return min(n, s.cfg.MaxCompanions)
}

func companionField(i int, name string) string {
	return fmt.Sprintf("integrantes-%d-%s", i, name)
}

func loggerFor(r *http.Request) *zerolog.Logger {
	return zerolog.Ctx(r.Context())
}
