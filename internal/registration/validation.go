package registration

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mujeresenbici/rodada/internal/models"
)

// Form is a candidate submission exactly as it arrives from the registration
// form: every value is raw text.
type Form struct {
	Name       string
	Place      string
	Age        string
	Group      string
	Phone      string
	Size       string
	Companions []CompanionForm
}

// CompanionForm is one companion row of the form.
type CompanionForm struct {
	Name string
	Age  string
	Size string
}

// Submission is a validated, normalized form ready for persistence.
type Submission struct {
	Primary    models.PrimaryRegistration
	Companions []NormalizedCompanion
}

// NormalizedCompanion is a validated companion row.
type NormalizedCompanion struct {
	Name string
	Age  int
	Size *string
}

// Field labels shown to registrants
const (
	LabelName  = "Nombre completo"
	LabelPlace = "Lugar de procedencia"
	LabelAge   = "Edad"
)

// Violation reasons
const (
	ReasonMissing     = "missing"
	ReasonNotANumber  = "not_a_number"
	ReasonNegativeAge = "negative"
	ReasonOutOfRange  = "out_of_range"
)

// MaxAge is the largest age the record stores can hold (a 32-bit column).
const MaxAge = math.MaxInt32

// Validate checks every required field of f and returns the normalized
// submission. All violations are collected; on failure the error is a
// *ValidationError listing them in form order.
func Validate(f Form) (*Submission, error) {
	var verr ValidationError

	name := requireText(&verr, "name", LabelName, f.Name)
	place := requireText(&verr, "place", LabelPlace, f.Place)
	age := requireAge(&verr, "age", LabelAge, f.Age)

	companions := make([]NormalizedCompanion, 0, len(f.Companions))
	for i, c := range f.Companions {
		n := i + 1
		cName := requireText(&verr,
			fmt.Sprintf("companions[%d].name", i),
			fmt.Sprintf("Nombre del integrante #%d", n),
			c.Name)
		cAge := requireAge(&verr,
			fmt.Sprintf("companions[%d].age", i),
			fmt.Sprintf("Edad del integrante #%d", n),
			c.Age)
		companions = append(companions, NormalizedCompanion{
			Name: cName,
			Age:  cAge,
			Size: normalizeSize(c.Size),
		})
	}

	if len(verr.Violations) > 0 {
		return nil, &verr
	}

	return &Submission{
		Primary: models.PrimaryRegistration{
			Name:  name,
			Place: place,
			Age:   age,
			Group: optionalText(f.Group),
			Phone: optionalText(f.Phone),
			Size:  normalizeSize(f.Size),
		},
		Companions: companions,
	}, nil
}

func requireText(verr *ValidationError, field, label, value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		verr.add(field, label, ReasonMissing)
	}
	return trimmed
}

func requireAge(verr *ValidationError, field, label, value string) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		verr.add(field, label, ReasonMissing)
		return 0
	}

	age, err := strconv.ParseInt(trimmed, 10, 32)
	switch {
	case errors.Is(err, strconv.ErrRange):
		verr.add(field, label, ReasonOutOfRange)
		return 0
	case err != nil:
		verr.add(field, label, ReasonNotANumber)
		return 0
	case age < 0:
		verr.add(field, label, ReasonNegativeAge)
		return 0
	}
	return int(age)
}

// optionalText trims value and returns nil when nothing is left.
func optionalText(value string) *string {
	return models.StringPtr(strings.TrimSpace(value))
}

func normalizeSize(value string) *string {
	return models.StringPtr(strings.ToUpper(strings.TrimSpace(value)))
}
