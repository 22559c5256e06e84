package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mujeresenbici/rodada/internal/models"
	"github.com/mujeresenbici/rodada/internal/store"
	"github.com/mujeresenbici/rodada/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// ErrFetchFailed is returned when either record set could not be fetched.
// No partial view is produced.
var ErrFetchFailed = errors.New("dashboard records could not be loaded")

// Loader fetches both record sets and builds the View.
type Loader struct {
	store store.RegistrationStore
}

// NewLoader creates a loader reading from st.
func NewLoader(st store.RegistrationStore) *Loader {
	return &Loader{store: st}
}

// Load fetches primaries (newest first) and companions concurrently and
// aggregates them. If either fetch fails the other is cancelled and the
// returned error wraps ErrFetchFailed.
func (l *Loader) Load(ctx context.Context) (*View, error) {
	ctx, span := otel.Tracer("github.com/mujeresenbici/rodada/internal/aggregate").Start(ctx, "aggregate.Load")
	defer span.End()

	m := telemetry.GetMetrics()
	started := time.Now()
	m.DashboardLoadsTotal.Add(ctx, 1)

	var (
		primaries  []models.PrimaryRegistration
		companions []models.CompanionEntry
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		primaries, err = l.store.ListPrimaries(gctx, store.ListOptions{NewestFirst: true})
		if err != nil {
			return fmt.Errorf("list registrations: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		companions, err = l.store.ListCompanions(gctx)
		if err != nil {
			return fmt.Errorf("list companions: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		m.DashboardLoadErrorsTotal.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	view := Build(primaries, companions)

	m.AggregateLoadDuration.Record(ctx, float64(time.Since(started).Microseconds())/1000.0)

	return view, nil
}
