package store

import (
	"context"
	"errors"

	"github.com/mujeresenbici/rodada/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrEmptyBatch           = errors.New("companion batch is empty")
	ErrOwnerMismatch        = errors.New("companion batch references more than one registration")
	ErrUnavailable          = errors.New("record store unavailable")
	ErrThrottled            = errors.New("record store request throttled")
	ErrBatchTooLarge        = errors.New("companion batch exceeds the record store limit")
)

// RegistrationStore is the record store behind the registration pipeline and
// the admin dashboard. It holds two related tables: primary registrations and
// their companion entries.
type RegistrationStore interface {
	// InsertPrimary persists a primary registration. The store assigns
	// RegistrationID and CreatedAt and writes them back into reg.
	InsertPrimary(ctx context.Context, reg *models.PrimaryRegistration) error

	// InsertCompanions persists a batch of companion entries in one call.
	// The store assigns CompanionID on each entry.
	InsertCompanions(ctx context.Context, companions []models.CompanionEntry) error

	// ListPrimaries returns every primary registration.
	ListPrimaries(ctx context.Context, opts ListOptions) ([]models.PrimaryRegistration, error)

	// ListCompanions returns every companion entry in store order.
	ListCompanions(ctx context.Context) ([]models.CompanionEntry, error)
}

// AtomicRegistrationStore is implemented by stores that can write a primary
// registration and its companions in a single transaction.
type AtomicRegistrationStore interface {
	RegistrationStore

	// InsertRegistration writes reg and companions atomically. Companion
	// RegistrationID values are overwritten with the id assigned to reg.
	InsertRegistration(ctx context.Context, reg *models.PrimaryRegistration, companions []models.CompanionEntry) error
}

// ListOptions controls the ordering of ListPrimaries.
type ListOptions struct {
	NewestFirst bool // order by created_at descending
}

// ValidateBatch checks that a companion batch is non-empty and owned by a
// single registration.
func ValidateBatch(companions []models.CompanionEntry) error {
	if len(companions) == 0 {
		return ErrEmptyBatch
	}
	owner := companions[0].RegistrationID
	for _, c := range companions[1:] {
		if c.RegistrationID != owner {
			return ErrOwnerMismatch
		}
	}
	return nil
}
