package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/mujeresenbici/rodada/internal/models"
	"github.com/mujeresenbici/rodada/internal/telemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrSessionNotConfirmed is returned when a freshly issued session could not
// be resolved within the retry budget.
var ErrSessionNotConfirmed = errors.New("session not confirmed")

const (
	DefaultConfirmInterval = 200 * time.Millisecond
	DefaultConfirmAttempts = 15
)

// Resolver resolves a session token.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*models.Session, error)
}

type confirmConfig struct {
	interval time.Duration
	attempts uint
}

// ConfirmOption tunes Confirm.
type ConfirmOption func(*confirmConfig)

// WithConfirmInterval sets the wait between attempts.
func WithConfirmInterval(d time.Duration) ConfirmOption {
	return func(c *confirmConfig) {
		c.interval = d
	}
}

// WithConfirmAttempts sets the maximum number of attempts.
func WithConfirmAttempts(n uint) ConfirmOption {
	return func(c *confirmConfig) {
		c.attempts = n
	}
}

// Confirm polls resolver at a constant interval until token resolves. Only
// ErrRevocationUnavailable is retried; a token that is invalid, expired or
// revoked fails immediately. Every failure wraps ErrSessionNotConfirmed.
func Confirm(ctx context.Context, resolver Resolver, token string, opts ...ConfirmOption) (*models.Session, error) {
	cfg := confirmConfig{
		interval: DefaultConfirmInterval,
		attempts: DefaultConfirmAttempts,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	attempt := 0
	session, err := backoff.Retry(ctx, func() (*models.Session, error) {
		attempt++
		session, err := resolver.Resolve(ctx, token)
		if err == nil {
			return session, nil
		}
		if errors.Is(err, ErrRevocationUnavailable) {
			log.Debug().Err(err).Int("attempt", attempt).Msg("Session not resolvable yet")
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(cfg.interval)),
		backoff.WithMaxTries(cfg.attempts),
	)

	m := telemetry.GetMetrics()
	if err != nil {
		m.SessionConfirmationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
		log.Warn().Err(err).Int("attempts", attempt).Msg("Session confirmation failed")
		return nil, fmt.Errorf("%w: %w", ErrSessionNotConfirmed, err)
	}

	m.SessionConfirmationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "confirmed")))
	return session, nil
}
