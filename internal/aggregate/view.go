// Package aggregate joins primary registrations with their companions and
// computes the dashboard summary.
//
// The join runs in memory over the full record sets. That is fine for a
// single event's registrations; larger datasets should push the join down
// into the record store's query layer.
package aggregate

import (
	"slices"

	"github.com/google/uuid"
	"github.com/mujeresenbici/rodada/internal/models"
)

// Entry is a primary registration with the companions that reference it.
type Entry struct {
	Registration models.PrimaryRegistration
	Companions   []models.CompanionEntry // store order
}

// PartySize is the number of people covered by the registration.
func (e Entry) PartySize() int {
	return 1 + len(e.Companions)
}

// Tally is one label of a group or size count.
type Tally struct {
	Label string
	Count int
}

// View is the in-memory aggregate behind the dashboard. It has no lifecycle
// beyond the request that built it.
type View struct {
	Registrations []Entry // in the order the store returned primaries

	TotalRegistrations int
	TotalCompanions    int
	TotalAttendees     int

	GroupTally []Tally // count descending, ties by first encounter
	SizeTally  []Tally // canonical size order, unknown labels last

	// AveragePartySize is attendees per registration, 0 when there are none.
	AveragePartySize float64
}

// Build joins companions to their owning primary and computes the summary.
// primaries are expected in display order; companions in store order.
// Companions whose owner is not in primaries are ignored.
func Build(primaries []models.PrimaryRegistration, companions []models.CompanionEntry) *View {
	byOwner := make(map[uuid.UUID][]models.CompanionEntry, len(primaries))
	for _, c := range companions {
		byOwner[c.RegistrationID] = append(byOwner[c.RegistrationID], c)
	}

	view := &View{
		Registrations: make([]Entry, 0, len(primaries)),
	}

	groups := newCounter()
	sizes := newCounter()

	for _, p := range primaries {
		entry := Entry{Registration: p, Companions: byOwner[p.RegistrationID]}
		view.Registrations = append(view.Registrations, entry)
		view.TotalCompanions += len(entry.Companions)

		if p.HasGroup() {
			groups.add(*p.Group)
		}
		if p.Size != nil {
			sizes.add(*p.Size)
		}
	}

	// Companion sizes go into the same tally after every primary size
	for _, entry := range view.Registrations {
		for _, c := range entry.Companions {
			if c.Size != nil {
				sizes.add(*c.Size)
			}
		}
	}

	view.TotalRegistrations = len(view.Registrations)
	view.TotalAttendees = view.TotalRegistrations + view.TotalCompanions
	if view.TotalRegistrations > 0 {
		view.AveragePartySize = float64(view.TotalAttendees) / float64(view.TotalRegistrations)
	}

	view.GroupTally = groups.tallies()
	slices.SortStableFunc(view.GroupTally, func(a, b Tally) int {
		return b.Count - a.Count
	})

	view.SizeTally = sizes.tallies()
	SortSizes(view.SizeTally)

	return view
}

// Find returns the entry for a registration id.
func (v *View) Find(id uuid.UUID) (Entry, bool) {
	for _, e := range v.Registrations {
		if e.Registration.RegistrationID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// counter counts labels and remembers first-encounter order.
type counter struct {
	counts map[string]int
	order  []string
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(label string) {
	if _, seen := c.counts[label]; !seen {
		c.order = append(c.order, label)
	}
	c.counts[label]++
}

func (c *counter) tallies() []Tally {
	out := make([]Tally, 0, len(c.order))
	for _, label := range c.order {
		out = append(out, Tally{Label: label, Count: c.counts[label]})
	}
	return out
}
