package registration

import (
	"context"
	"errors"
	"fmt"

	"github.com/mujeresenbici/rodada/internal/models"
	"github.com/mujeresenbici/rodada/internal/store"
	"github.com/mujeresenbici/rodada/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const tracerName = "github.com/mujeresenbici/rodada/internal/registration"

// Service runs the submission pipeline: validate, insert the primary
// registration, then insert its companions as one batch.
//
// By default the two inserts are independent. If the companion batch fails
// the primary stays in the store with no companions, and the caller is told
// the submission failed. With atomic writes enabled both inserts go through
// store.AtomicRegistrationStore in a single transaction instead.
type Service struct {
	store  store.RegistrationStore
	atomic store.AtomicRegistrationStore // nil unless atomic writes are enabled
}

// Option configures a Service.
type Option func(*Service) error

// WithAtomicWrites writes primary and companions in one transaction. The
// store must implement store.AtomicRegistrationStore.
func WithAtomicWrites() Option {
	return func(s *Service) error {
		atomic, ok := s.store.(store.AtomicRegistrationStore)
		if !ok {
			return fmt.Errorf("record store %T does not support atomic registration writes", s.store)
		}
		s.atomic = atomic
		return nil
	}
}

// NewService creates a registration service backed by st.
func NewService(st store.RegistrationStore, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("record store is required")
	}

	s := &Service{store: st}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Atomic reports whether submissions are written in a single transaction.
func (s *Service) Atomic() bool {
	return s.atomic != nil
}

// Result is a persisted submission.
type Result struct {
	Registration models.PrimaryRegistration
	Companions   []models.CompanionEntry
}

// Submit validates f and persists it. It returns a *ValidationError when
// the form is rejected (no store call is made) or a *SubmitError when the
// record store fails.
func (s *Service) Submit(ctx context.Context, f Form) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "registration.Submit")
	defer span.End()

	m := telemetry.GetMetrics()

	sub, err := Validate(f)
	if err != nil {
		m.ValidationRejectionsTotal.Add(ctx, 1)
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("registration.companions", len(sub.Companions)),
		attribute.Bool("registration.atomic", s.Atomic()),
	)

	result, err := s.persist(ctx, sub)
	if err != nil {
		var serr *SubmitError
		if errors.As(err, &serr) {
			m.SubmissionFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(serr.Kind))))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.RegistrationsTotal.Add(ctx, 1)
	m.CompanionsTotal.Add(ctx, int64(len(result.Companions)))

	zerolog.Ctx(ctx).Info().
		Str("registration_id", result.Registration.RegistrationID.String()).
		Int("companions", len(result.Companions)).
		Msg("Registration saved")

	return result, nil
}

func (s *Service) persist(ctx context.Context, sub *Submission) (*Result, error) {
	reg := sub.Primary
	companions := companionEntries(sub.Companions)

	if s.atomic != nil {
		if err := s.atomic.InsertRegistration(ctx, &reg, companions); err != nil {
			return nil, &SubmitError{Kind: FailurePrimary, Err: err}
		}
		return &Result{Registration: reg, Companions: companions}, nil
	}

	if err := s.store.InsertPrimary(ctx, &reg); err != nil {
		return nil, &SubmitError{Kind: FailurePrimary, Err: err}
	}

	if len(companions) == 0 {
		return &Result{Registration: reg}, nil
	}

	for i := range companions {
		companions[i].RegistrationID = reg.RegistrationID
	}

	if err := s.store.InsertCompanions(ctx, companions); err != nil {
		// The primary is not rolled back; it remains without companions.
		zerolog.Ctx(ctx).Warn().
			Err(err).
			Str("registration_id", reg.RegistrationID.String()).
			Int("companions", len(companions)).
			Msg("Companion batch failed after primary insert, primary left without companions")
		return nil, &SubmitError{Kind: FailureCompanion, Err: err}
	}

	return &Result{Registration: reg, Companions: companions}, nil
}

func companionEntries(in []NormalizedCompanion) []models.CompanionEntry {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.CompanionEntry, 0, len(in))
	for _, c := range in {
		out = append(out, models.CompanionEntry{
			Name: c.Name,
			Age:  c.Age,
			Size: c.Size,
		})
	}
	return out
}
