package registration

import (
	"errors"
	"strings"
)

// Sentinel errors for persistence outcomes
var (
	ErrPrimaryPersistence   = errors.New("primary registration could not be saved")
	ErrCompanionPersistence = errors.New("companions could not be saved")
)

// Violation is one rejected field of a submission.
type Violation struct {
	Field  string `json:"field"`  // stable key, e.g. "companions[0].age"
	Label  string `json:"label"`  // label shown to the registrant, e.g. "Edad del integrante #1"
	Reason string `json:"reason"` // one of the Reason* constants
}

// Message renders the violation for the registrant.
func (v Violation) Message() string {
	switch v.Reason {
	case ReasonNotANumber:
		return v.Label + " debe ser un número"
	case ReasonNegativeAge:
		return v.Label + " no puede ser negativa"
	case ReasonOutOfRange:
		return v.Label + " está fuera de rango"
	default:
		return v.Label
	}
}

// ValidationError lists every field that failed validation. It is caller
// correctable and nothing is persisted when it is returned.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) add(field, label, reason string) {
	e.Violations = append(e.Violations, Violation{Field: field, Label: label, Reason: reason})
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message())
	}
	return "invalid registration: " + strings.Join(msgs, ", ")
}

// Labels returns the label of each violation in order.
func (e *ValidationError) Labels() []string {
	labels := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		labels = append(labels, v.Label)
	}
	return labels
}

// FailureKind classifies a persistence failure.
type FailureKind string

const (
	FailurePrimary   FailureKind = "primary"
	FailureCompanion FailureKind = "companion"
)

// SubmitError wraps a record store error with the pipeline step that failed.
// errors.Is matches ErrPrimaryPersistence or ErrCompanionPersistence.
type SubmitError struct {
	Kind FailureKind
	Err  error // underlying store error, kept for logs only
}

func (e *SubmitError) Error() string {
	return e.sentinel().Error() + ": " + e.Err.Error()
}

func (e *SubmitError) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}

func (e *SubmitError) sentinel() error {
	if e.Kind == FailureCompanion {
		return ErrCompanionPersistence
	}
	return ErrPrimaryPersistence
}

// UserMessage is the text shown to the registrant for a pipeline error.
func UserMessage(err error) string {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return "Campos requeridos faltantes"
	case errors.Is(err, ErrCompanionPersistence):
		return "Error guardando integrantes"
	case errors.Is(err, ErrPrimaryPersistence):
		return "Error guardando el registro"
	default:
		return "Error inesperado"
	}
}
