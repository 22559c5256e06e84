// Package storetest holds behaviour tests shared by every record store backend.
package storetest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mujeresenbici/rodada/internal/models"
	"github.com/mujeresenbici/rodada/internal/store"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.AtomicRegistrationStore

// Run exercises the RegistrationStore and AtomicRegistrationStore contracts.
func Run(t *testing.T, newStore Factory) {
	t.Run("insert primary assigns id and created_at", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		reg := &models.PrimaryRegistration{
			Name:  "Ana",
			Place: "Maravatío",
			Age:   29,
			Group: models.StringPtr("Bicimujeres"),
			Size:  models.StringPtr("M"),
		}
		require.NoError(t, st.InsertPrimary(ctx, reg))
		require.NotEqual(t, uuid.Nil, reg.RegistrationID)
		require.False(t, reg.CreatedAt.IsZero())

		primaries, err := st.ListPrimaries(ctx, store.ListOptions{})
		require.NoError(t, err)
		require.Len(t, primaries, 1)

		got := primaries[0]
		require.Equal(t, reg.RegistrationID, got.RegistrationID)
		require.Equal(t, "Ana", got.Name)
		require.Equal(t, "Maravatío", got.Place)
		require.Equal(t, 29, got.Age)
		require.Equal(t, "Bicimujeres", models.StringValue(got.Group))
		require.Nil(t, got.Phone)
		require.Equal(t, "M", models.StringValue(got.Size))
		require.WithinDuration(t, reg.CreatedAt, got.CreatedAt, time.Millisecond)
	})

	t.Run("insert companions keeps order and owner", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		ana := insert(t, st, "Ana")
		eva := insert(t, st, "Eva")

		require.NoError(t, st.InsertCompanions(ctx, []models.CompanionEntry{
			{RegistrationID: ana.RegistrationID, Name: "Luz", Age: 8},
			{RegistrationID: ana.RegistrationID, Name: "Sol", Age: 10, Size: models.StringPtr("XS")},
		}))
		require.NoError(t, st.InsertCompanions(ctx, []models.CompanionEntry{
			{RegistrationID: eva.RegistrationID, Name: "Mar", Age: 12},
		}))

		companions, err := st.ListCompanions(ctx)
		require.NoError(t, err)
		require.Len(t, companions, 3)

		require.Equal(t, []string{"Luz", "Sol", "Mar"}, companionNames(companions))
		require.Equal(t, ana.RegistrationID, companions[0].RegistrationID)
		require.Equal(t, eva.RegistrationID, companions[2].RegistrationID)
		require.Equal(t, "XS", models.StringValue(companions[1].Size))
		require.Nil(t, companions[0].Size)
		require.NotEqual(t, uuid.Nil, companions[0].CompanionID)
		require.NotEqual(t, companions[0].CompanionID, companions[1].CompanionID)
	})

	t.Run("insert companions rejects bad batches", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		ana := insert(t, st, "Ana")
		eva := insert(t, st, "Eva")

		require.ErrorIs(t, st.InsertCompanions(ctx, nil), store.ErrEmptyBatch)
		require.ErrorIs(t, st.InsertCompanions(ctx, []models.CompanionEntry{
			{RegistrationID: ana.RegistrationID, Name: "Luz", Age: 8},
			{RegistrationID: eva.RegistrationID, Name: "Sol", Age: 8},
		}), store.ErrOwnerMismatch)

		err := st.InsertCompanions(ctx, []models.CompanionEntry{
			{RegistrationID: uuid.New(), Name: "Luz", Age: 8},
		})
		require.ErrorIs(t, err, store.ErrRegistrationNotFound)

		companions, err := st.ListCompanions(ctx)
		require.NoError(t, err)
		require.Empty(t, companions)
	})

	t.Run("list primaries newest first", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		for _, name := range []string{"Ana", "Luz", "Eva"} {
			insert(t, st, name)
			// distinct created_at on stores with coarse clocks
			time.Sleep(5 * time.Millisecond)
		}

		newest, err := st.ListPrimaries(ctx, store.ListOptions{NewestFirst: true})
		require.NoError(t, err)
		require.Equal(t, []string{"Eva", "Luz", "Ana"}, primaryNames(newest))
	})

	t.Run("insert registration is atomic", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		reg := &models.PrimaryRegistration{Name: "Ana", Place: "Morelia", Age: 30}
		companions := []models.CompanionEntry{
			{Name: "Luz", Age: 8},
			{Name: "Sol", Age: 10},
		}
		require.NoError(t, st.InsertRegistration(ctx, reg, companions))
		require.NotEqual(t, uuid.Nil, reg.RegistrationID)
		for _, c := range companions {
			require.Equal(t, reg.RegistrationID, c.RegistrationID)
			require.NotEqual(t, uuid.Nil, c.CompanionID)
		}

		stored, err := st.ListCompanions(ctx)
		require.NoError(t, err)
		require.Len(t, stored, 2)
	})

	t.Run("insert registration without companions", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		reg := &models.PrimaryRegistration{Name: "Ana", Place: "Morelia", Age: 30}
		require.NoError(t, st.InsertRegistration(ctx, reg, nil))

		primaries, err := st.ListPrimaries(ctx, store.ListOptions{})
		require.NoError(t, err)
		require.Len(t, primaries, 1)
	})

	t.Run("ages round trip up to int32 max", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		reg := &models.PrimaryRegistration{Name: "Ana", Place: "Morelia", Age: math.MaxInt32}
		require.NoError(t, st.InsertPrimary(ctx, reg))
		require.NoError(t, st.InsertCompanions(ctx, []models.CompanionEntry{
			{RegistrationID: reg.RegistrationID, Name: "Luz", Age: math.MaxInt32},
		}))

		primaries, err := st.ListPrimaries(ctx, store.ListOptions{})
		require.NoError(t, err)
		require.Equal(t, math.MaxInt32, primaries[0].Age)

		companions, err := st.ListCompanions(ctx)
		require.NoError(t, err)
		require.Equal(t, math.MaxInt32, companions[0].Age)
	})

	t.Run("empty store lists nothing", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		primaries, err := st.ListPrimaries(ctx, store.ListOptions{NewestFirst: true})
		require.NoError(t, err)
		require.Empty(t, primaries)

		companions, err := st.ListCompanions(ctx)
		require.NoError(t, err)
		require.Empty(t, companions)
	})
}

func insert(t *testing.T, st store.RegistrationStore, name string) *models.PrimaryRegistration {
	t.Helper()
	reg := &models.PrimaryRegistration{Name: name, Place: "Morelia", Age: 30}
	require.NoError(t, st.InsertPrimary(context.Background(), reg))
	return reg
}

func primaryNames(primaries []models.PrimaryRegistration) []string {
	out := make([]string, 0, len(primaries))
	for _, p := range primaries {
		out = append(out, p.Name)
	}
	return out
}

func companionNames(companions []models.CompanionEntry) []string {
	out := make([]string, 0, len(companions))
	for _, c := range companions {
		out = append(out, c.Name)
	}
	return out
}
