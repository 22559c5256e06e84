package aggregate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mujeresenbici/rodada/internal/models"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var labels = []string{"XS", "S", "M", "L", "XL", "XXL", "XXXL", "niña", "2XL"}

// drawSnapshot generates a random snapshot of both record sets
func drawSnapshot(t *rapid.T) ([]models.PrimaryRegistration, []models.CompanionEntry) {
	numPrimaries := rapid.IntRange(0, 25).Draw(t, "numPrimaries")
	primaries := make([]models.PrimaryRegistration, 0, numPrimaries)
	for i := range numPrimaries {
		p := models.PrimaryRegistration{
			RegistrationID: uuid.New(),
			Name:           rapid.StringMatching(`[A-Z][a-z]{2,8}`).Draw(t, "name"),
			Age:            rapid.IntRange(0, 90).Draw(t, "age"),
			CreatedAt:      time.Unix(int64(i), 0),
		}
		if rapid.Bool().Draw(t, "hasGroup") {
			p.Group = models.StringPtr(rapid.SampledFrom([]string{"A", "B", "C"}).Draw(t, "group"))
		}
		if rapid.Bool().Draw(t, "hasSize") {
			p.Size = models.StringPtr(rapid.SampledFrom(labels).Draw(t, "size"))
		}
		primaries = append(primaries, p)
	}

	var companions []models.CompanionEntry
	if numPrimaries > 0 {
		numCompanions := rapid.IntRange(0, 40).Draw(t, "numCompanions")
		for range numCompanions {
			owner := rapid.IntRange(0, numPrimaries-1).Draw(t, "owner")
			c := models.CompanionEntry{
				CompanionID:    uuid.New(),
				RegistrationID: primaries[owner].RegistrationID,
				Name:           "c",
				Age:            rapid.IntRange(0, 90).Draw(t, "companionAge"),
			}
			if rapid.Bool().Draw(t, "companionHasSize") {
				c.Size = models.StringPtr(rapid.SampledFrom(labels).Draw(t, "companionSize"))
			}
			companions = append(companions, c)
		}
	}

	return primaries, companions
}

func sumTally(tallies []Tally) int {
	total := 0
	for _, tl := range tallies {
		total += tl.Count
	}
	return total
}

// TestBuild_Properties checks the aggregation invariants over random snapshots.
func TestBuild_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		primaries, companions := drawSnapshot(rt)

		view := Build(primaries, companions)

		// Join correctness
		perPrimary := 0
		for _, e := range view.Registrations {
			perPrimary += len(e.Companions)
			for _, c := range e.Companions {
				require.Equal(rt, e.Registration.RegistrationID, c.RegistrationID)
			}
		}
		require.Equal(rt, perPrimary, view.TotalCompanions)
		require.Equal(rt, len(companions), view.TotalCompanions)
		require.Equal(rt, len(primaries), view.TotalRegistrations)

		// Tally conservation
		withGroup, withSize := 0, 0
		for _, p := range primaries {
			if p.Group != nil {
				withGroup++
			}
			if p.Size != nil {
				withSize++
			}
		}
		for _, c := range companions {
			if c.Size != nil {
				withSize++
			}
		}
		require.Equal(rt, withGroup, sumTally(view.GroupTally))
		require.Equal(rt, withSize, sumTally(view.SizeTally))

		// Idempotence
		again := Build(primaries, companions)
		require.Equal(rt, view.TotalRegistrations, again.TotalRegistrations)
		require.Equal(rt, view.TotalCompanions, again.TotalCompanions)
		require.Equal(rt, view.GroupTally, again.GroupTally)
		require.Equal(rt, view.SizeTally, again.SizeTally)
	})
}

// TestView_Page_Properties checks that pages partition the registration list.
func TestView_Page_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		primaries, companions := drawSnapshot(rt)
		view := Build(primaries, companions)
		size := rapid.IntRange(1, 12).Draw(rt, "pageSize")

		first := view.Page(1, size)
		seen := 0
		for n := 1; n <= first.TotalPages; n++ {
			page := view.Page(n, size)
			require.Equal(rt, seen, page.FirstIndex)
			require.LessOrEqual(rt, len(page.Entries), size)
			seen += len(page.Entries)
		}
		require.Equal(rt, len(view.Registrations), seen)
	})
}
