package models

import (
	"time"

	"github.com/google/uuid"
)

// PrimaryRegistration is the lead attendee's record for one submission.
// Records are create-only: nothing in the application updates or deletes them.
type PrimaryRegistration struct {
	RegistrationID uuid.UUID // assigned by the store on insert
	Name           string
	Place          string // lugar de procedencia
	Age            int

	// Optional attributes, nil when the registrant left them blank
	Group *string
	Phone *string
	Size  *string // jersey size

	CreatedAt time.Time // assigned by the store on insert
}

// CompanionEntry is a dependent attendee listed under a primary registration.
// The owner relation is by identifier equality and is joined client-side.
type CompanionEntry struct {
	CompanionID    uuid.UUID // assigned by the store on insert
	RegistrationID uuid.UUID // owning PrimaryRegistration
	Name           string
	Age            int
	Size           *string
}

// HasGroup reports whether the registration carries a group label.
func (r *PrimaryRegistration) HasGroup() bool {
	return r.Group != nil
}

// StringPtr returns nil for the empty string, a pointer to s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
