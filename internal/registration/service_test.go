package registration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/mujeresenbici/rodada/internal/aggregate"
	"github.com/mujeresenbici/rodada/internal/models"
	"github.com/mujeresenbici/rodada/internal/store"
	"github.com/mujeresenbici/rodada/internal/store/memory"
	"github.com/stretchr/testify/require"
)

// recordingStore wraps the memory store, counts calls and injects failures
type recordingStore struct {
	*memory.RegistrationStore

	primaryCalls   int
	companionCalls int
	batches        [][]models.CompanionEntry

	primaryErr   error
	companionErr error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{RegistrationStore: memory.NewRegistrationStore()}
}

func (s *recordingStore) InsertPrimary(ctx context.Context, reg *models.PrimaryRegistration) error {
	s.primaryCalls++
	if s.primaryErr != nil {
		return s.primaryErr
	}
	return s.RegistrationStore.InsertPrimary(ctx, reg)
}

func (s *recordingStore) InsertCompanions(ctx context.Context, companions []models.CompanionEntry) error {
	s.companionCalls++
	s.batches = append(s.batches, append([]models.CompanionEntry(nil), companions...))
	if s.companionErr != nil {
		return s.companionErr
	}
	return s.RegistrationStore.InsertCompanions(ctx, companions)
}

// basicStore hides the atomic capability of the memory store
type basicStore struct {
	store.RegistrationStore
}

func TestNewService(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := NewService(nil)
		require.Error(t, err)
	})

	t.Run("atomic writes need atomic store", func(t *testing.T) {
		_, err := NewService(basicStore{memory.NewRegistrationStore()}, WithAtomicWrites())
		require.Error(t, err)
		require.Contains(t, err.Error(), "atomic")
	})

	t.Run("atomic writes enabled", func(t *testing.T) {
		svc, err := NewService(memory.NewRegistrationStore(), WithAtomicWrites())
		require.NoError(t, err)
		require.True(t, svc.Atomic())
	})

	t.Run("best effort by default", func(t *testing.T) {
		svc, err := NewService(memory.NewRegistrationStore())
		require.NoError(t, err)
		require.False(t, svc.Atomic())
	})
}

func TestService_Submit_validationRejectedBeforeStore(t *testing.T) {
	st := newRecordingStore()
	svc, err := NewService(st)
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), Form{Name: "Ana", Place: "Maravatío", Age: ""})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{"Edad"}, verr.Labels())
	require.Zero(t, st.primaryCalls)
	require.Zero(t, st.companionCalls)
}

func TestService_Submit_noCompanions(t *testing.T) {
	st := newRecordingStore()
	svc, err := NewService(st)
	require.NoError(t, err)

	result, err := svc.Submit(context.Background(), validForm())
	require.NoError(t, err)

	require.Equal(t, 1, st.primaryCalls)
	require.Zero(t, st.companionCalls)
	require.Empty(t, result.Companions)
	require.NotEqual(t, uuid.Nil, result.Registration.RegistrationID)
}

func TestService_Submit_companionBatch(t *testing.T) {
	st := newRecordingStore()
	svc, err := NewService(st)
	require.NoError(t, err)

	f := validForm()
	f.Companions = []CompanionForm{
		{Name: "Luz", Age: "8"},
		{Name: "Sol", Age: "10"},
		{Name: "Mar", Age: "12"},
	}

	result, err := svc.Submit(context.Background(), f)
	require.NoError(t, err)

	require.Equal(t, 1, st.companionCalls)
	require.Len(t, st.batches[0], 3)
	for _, c := range st.batches[0] {
		require.Equal(t, result.Registration.RegistrationID, c.RegistrationID)
	}
	require.Len(t, result.Companions, 3)
}

func TestService_Submit_primaryFailureSkipsCompanions(t *testing.T) {
	st := newRecordingStore()
	st.primaryErr = store.ErrUnavailable
	svc, err := NewService(st)
	require.NoError(t, err)

	f := validForm()
	f.Companions = []CompanionForm{{Name: "Luz", Age: "8"}}

	_, err = svc.Submit(context.Background(), f)
	require.ErrorIs(t, err, ErrPrimaryPersistence)
	require.ErrorIs(t, err, store.ErrUnavailable)
	require.NotErrorIs(t, err, ErrCompanionPersistence)
	require.Zero(t, st.companionCalls)
	require.Equal(t, "Error guardando el registro", UserMessage(err))
}

func TestService_Submit_companionFailureLeavesPrimary(t *testing.T) {
	st := newRecordingStore()
	st.companionErr = errors.New("batch rejected")
	svc, err := NewService(st)
	require.NoError(t, err)

	f := validForm()
	f.Companions = []CompanionForm{{Name: "Luz", Age: "8"}}

	_, err = svc.Submit(context.Background(), f)
	require.ErrorIs(t, err, ErrCompanionPersistence)
	require.Equal(t, "Error guardando integrantes", UserMessage(err))

	var serr *SubmitError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, FailureCompanion, serr.Kind)

	// Best-effort semantics: the primary stays, without companions
	primaries, err := st.ListPrimaries(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, primaries, 1)
	companions, err := st.ListCompanions(context.Background())
	require.NoError(t, err)
	require.Empty(t, companions)
}

func TestService_Submit_atomicWrites(t *testing.T) {
	st := memory.NewRegistrationStore()
	svc, err := NewService(st, WithAtomicWrites())
	require.NoError(t, err)

	f := validForm()
	f.Companions = []CompanionForm{{Name: "Luz", Age: "8"}}

	result, err := svc.Submit(context.Background(), f)
	require.NoError(t, err)
	require.Equal(t, result.Registration.RegistrationID, result.Companions[0].RegistrationID)

	companions, err := st.ListCompanions(context.Background())
	require.NoError(t, err)
	require.Len(t, companions, 1)
}

func TestService_Submit_doubleSubmitCreatesTwoRegistrations(t *testing.T) {
	st := newRecordingStore()
	svc, err := NewService(st)
	require.NoError(t, err)

	first, err := svc.Submit(context.Background(), validForm())
	require.NoError(t, err)
	second, err := svc.Submit(context.Background(), validForm())
	require.NoError(t, err)

	require.NotEqual(t, first.Registration.RegistrationID, second.Registration.RegistrationID)
	require.Equal(t, 2, st.primaryCalls)
}

func TestService_Submit_endToEnd(t *testing.T) {
	ctx := context.Background()
	st := memory.NewRegistrationStore()
	svc, err := NewService(st)
	require.NoError(t, err)
	loader := aggregate.NewLoader(st)

	before, err := loader.Load(ctx)
	require.NoError(t, err)

	result, err := svc.Submit(ctx, Form{
		Name:       "Ana",
		Place:      "Maravatío",
		Age:        "29",
		Companions: []CompanionForm{{Name: "Luz", Age: "8"}},
	})
	require.NoError(t, err)
	require.Equal(t, 29, result.Registration.Age)

	companions, err := st.ListCompanions(ctx)
	require.NoError(t, err)
	require.Len(t, companions, 1)
	require.Equal(t, 8, companions[0].Age)
	require.Equal(t, result.Registration.RegistrationID, companions[0].RegistrationID)

	after, err := loader.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, before.TotalRegistrations+1, after.TotalRegistrations)
	require.Equal(t, before.TotalCompanions+1, after.TotalCompanions)
}
