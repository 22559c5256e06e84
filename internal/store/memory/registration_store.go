package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mujeresenbici/rodada/internal/models"
	"github.com/mujeresenbici/rodada/internal/store"
)

var _ store.AtomicRegistrationStore = (*RegistrationStore)(nil)

// RegistrationStore implements store.AtomicRegistrationStore using in-memory storage.
// This implementation is for development and tests - data is lost on restart.
type RegistrationStore struct {
	mu sync.RWMutex

	primaries  []*models.PrimaryRegistration // insertion order
	companions []*models.CompanionEntry      // insertion order
	byID       map[uuid.UUID]*models.PrimaryRegistration

	now func() time.Time
}

// NewRegistrationStore creates a new in-memory registration store.
func NewRegistrationStore() *RegistrationStore {
	return &RegistrationStore{
		byID: make(map[uuid.UUID]*models.PrimaryRegistration),
		now:  time.Now,
	}
}

// WithClock overrides the clock used for created_at timestamps.
func (s *RegistrationStore) WithClock(now func() time.Time) *RegistrationStore {
	s.now = now
	return s
}

// InsertPrimary stores a primary registration, assigning its id and created_at.
func (s *RegistrationStore) InsertPrimary(ctx context.Context, reg *models.PrimaryRegistration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertPrimaryLocked(reg)
}

// InsertCompanions stores a batch of companions. The batch is all-or-nothing.
func (s *RegistrationStore) InsertCompanions(ctx context.Context, companions []models.CompanionEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateBatch(companions); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertCompanionsLocked(companions)
}

// InsertRegistration stores a primary and its companions under one lock.
func (s *RegistrationStore) InsertRegistration(ctx context.Context, reg *models.PrimaryRegistration, companions []models.CompanionEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertPrimaryLocked(reg); err != nil {
		return err
	}
	if len(companions) == 0 {
		return nil
	}
	for i := range companions {
		companions[i].RegistrationID = reg.RegistrationID
	}
	if err := s.insertCompanionsLocked(companions); err != nil {
		s.rollbackPrimaryLocked(reg.RegistrationID)
		return err
	}
	return nil
}

// ListPrimaries returns copies of every primary registration.
func (s *RegistrationStore) ListPrimaries(ctx context.Context, opts store.ListOptions) ([]models.PrimaryRegistration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.PrimaryRegistration, 0, len(s.primaries))
	for _, p := range s.primaries {
		result = append(result, *p)
	}

	if opts.NewestFirst {
		// Reverse insertion order first so equal timestamps stay newest-first
		slices.Reverse(result)
		slices.SortStableFunc(result, func(a, b models.PrimaryRegistration) int {
			return b.CreatedAt.Compare(a.CreatedAt)
		})
	}

	return result, nil
}

// ListCompanions returns copies of every companion in insertion order.
func (s *RegistrationStore) ListCompanions(ctx context.Context) ([]models.CompanionEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.CompanionEntry, 0, len(s.companions))
	for _, c := range s.companions {
		result = append(result, *c)
	}
	return result, nil
}

func (s *RegistrationStore) insertPrimaryLocked(reg *models.PrimaryRegistration) error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}

	reg.RegistrationID = id
	reg.CreatedAt = s.now()

	// Clone to avoid external modifications
	clone := *reg
	s.primaries = append(s.primaries, &clone)
	s.byID[id] = &clone

	return nil
}

func (s *RegistrationStore) insertCompanionsLocked(companions []models.CompanionEntry) error {
	if _, ok := s.byID[companions[0].RegistrationID]; !ok {
		return store.ErrRegistrationNotFound
	}

	clones := make([]*models.CompanionEntry, 0, len(companions))
	for i := range companions {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		companions[i].CompanionID = id
		clone := companions[i]
		clones = append(clones, &clone)
	}

	s.companions = append(s.companions, clones...)
	return nil
}

func (s *RegistrationStore) rollbackPrimaryLocked(id uuid.UUID) {
	delete(s.byID, id)
	s.primaries = slices.DeleteFunc(s.primaries, func(p *models.PrimaryRegistration) bool {
		return p.RegistrationID == id
	})
}
