package website

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mujeresenbici/rodada/internal/aggregate"
	"github.com/mujeresenbici/rodada/internal/registration"
)

const maxAPIBodyBytes = 64 << 10

// ageJSON accepts an age sent either as text or as a JSON number. The value
// is kept as text so validation reports bad input the same way as the form.
type ageJSON string

func (a *ageJSON) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = ageJSON(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*a = ageJSON(n.String())
	return nil
}

type submissionJSON struct {
	Name       string                    `json:"nombre"`
	Place      string                    `json:"procedencia"`
	Age        ageJSON                   `json:"edad"`
	Group      string                    `json:"grupo"`
	Phone      string                    `json:"telefono"`
	Size       string                    `json:"talla"`
	Companions []companionSubmissionJSON `json:"integrantes"`
}

type companionSubmissionJSON struct {
	Name string  `json:"nombre"`
	Age  ageJSON `json:"edad"`
	Size string  `json:"talla"`
}

func (in submissionJSON) form() registration.Form {
	form := registration.Form{
		Name:       in.Name,
		Place:      in.Place,
		Age:        string(in.Age),
		Group:      in.Group,
		Phone:      in.Phone,
		Size:       in.Size,
		Companions: make([]registration.CompanionForm, 0, len(in.Companions)),
	}
	for _, c := range in.Companions {
		form.Companions = append(form.Companions, registration.CompanionForm{
			Name: c.Name,
			Age:  string(c.Age),
			Size: c.Size,
		})
	}
	return form
}

// decodeProblems names the offending field when the body has the wrong shape.
func decodeProblems(err error) []string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return []string{fmt.Sprintf("El campo %q tiene un tipo inválido", typeErr.Field)}
	}
	return nil
}

type companionJSON struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"nombre"`
	Age  int       `json:"edad"`
	Size *string   `json:"talla,omitempty"`
}

type registrationJSON struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"nombre"`
	Place      string          `json:"procedencia"`
	Age        int             `json:"edad"`
	Group      *string         `json:"grupo,omitempty"`
	Phone      *string         `json:"telefono,omitempty"`
	Size       *string         `json:"talla,omitempty"`
	CreatedAt  time.Time       `json:"creado"`
	Companions []companionJSON `json:"integrantes"`
}

type tallyJSON struct {
	Label string `json:"etiqueta"`
	Count int    `json:"total"`
}

type pageJSON struct {
	Number        int                `json:"numero"`
	TotalPages    int                `json:"total_paginas"`
	Registrations []registrationJSON `json:"registros"`
}

type summaryJSON struct {
	TotalRegistrations int         `json:"total_registros"`
	TotalCompanions    int         `json:"total_integrantes"`
	TotalAttendees     int         `json:"total_asistentes"`
	AveragePartySize   float64     `json:"promedio_por_registro"`
	Groups             []tallyJSON `json:"grupos"`
	Sizes              []tallyJSON `json:"tallas"`
	Page               pageJSON    `json:"pagina"`
}

func toRegistrationJSON(e aggregate.Entry) registrationJSON {
	p := e.Registration
	out := registrationJSON{
		ID:         p.RegistrationID,
		Name:       p.Name,
		Place:      p.Place,
		Age:        p.Age,
		Group:      p.Group,
		Phone:      p.Phone,
		Size:       p.Size,
		CreatedAt:  p.CreatedAt,
		Companions: make([]companionJSON, 0, len(e.Companions)),
	}
	for _, c := range e.Companions {
		out.Companions = append(out.Companions, companionJSON{
			ID:   c.CompanionID,
			Name: c.Name,
			Age:  c.Age,
			Size: c.Size,
		})
	}
	return out
}

func toTallyJSON(in []aggregate.Tally) []tallyJSON {
	out := make([]tallyJSON, 0, len(in))
	for _, t := range in {
		out = append(out, tallyJSON{Label: t.Label, Count: t.Count})
	}
	return out
}

func (s *Server) handleAPISubmit(w http.ResponseWriter, r *http.Request) {
	var in submissionJSON

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBodyBytes))
	if err := dec.Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "Solicitud inválida", Violations: decodeProblems(err)})
		return
	}
	form := in.form()
	if len(form.Companions) > s.cfg.MaxCompanions {
		writeJSON(w, http.StatusUnprocessableEntity, apiError{
			Error:      tooManyCompanions,
			Violations: []string{s.companionLimitMessage()},
		})
		return
	}

	result, err := s.deps.Registrations.Submit(r.Context(), form)
	if err != nil {
		status, problems := submitFailure(r, err)
		writeJSON(w, status, apiError{Error: registration.UserMessage(err), Violations: problems})
		return
	}

	entry := aggregate.Entry{Registration: result.Registration, Companions: result.Companions}
	writeJSON(w, http.StatusCreated, toRegistrationJSON(entry))
}

func (s *Server) handleAPISummary(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Dashboard.Load(r.Context())
	if err != nil {
		loggerFor(r).Error().Err(err).Msg("Failed to load summary")
		msg := "Error inesperado"
		if errors.Is(err, aggregate.ErrFetchFailed) {
			msg = "No se pudieron cargar los registros"
		}
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: msg})
		return
	}

	page := view.Page(pageNumber(r), aggregate.DefaultPageSize)

	out := summaryJSON{
		TotalRegistrations: view.TotalRegistrations,
		TotalCompanions:    view.TotalCompanions,
		TotalAttendees:     view.TotalAttendees,
		AveragePartySize:   view.AveragePartySize,
		Groups:             toTallyJSON(view.GroupTally),
		Sizes:              toTallyJSON(view.SizeTally),
		Page: pageJSON{
			Number:        page.Number,
			TotalPages:    page.TotalPages,
			Registrations: make([]registrationJSON, 0, len(page.Entries)),
		},
	}
	for _, e := range page.Entries {
		out.Page.Registrations = append(out.Page.Registrations, toRegistrationJSON(e))
	}

	writeJSON(w, http.StatusOK, out)
}
