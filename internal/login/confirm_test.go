package login

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mujeresenbici/rodada/internal/models"
	"github.com/stretchr/testify/require"
)

// flakyResolver fails the first failures calls with err
type flakyResolver struct {
	failures int
	err      error
	calls    int
}

func (f *flakyResolver) Resolve(_ context.Context, _ string) (*models.Session, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &models.Session{SessionID: uuid.New(), Email: "ana@example.com"}, nil
}

func TestConfirm(t *testing.T) {
	unavailable := fmt.Errorf("%w: connection reset", ErrRevocationUnavailable)

	tests := []struct {
		name      string
		resolver  *flakyResolver
		wantErr   error
		wantCalls int
	}{
		{
			name:      "resolves immediately",
			resolver:  &flakyResolver{},
			wantCalls: 1,
		},
		{
			name:      "resolves after transient failures",
			resolver:  &flakyResolver{failures: 4, err: unavailable},
			wantCalls: 5,
		},
		{
			name:      "gives up after the attempt budget",
			resolver:  &flakyResolver{failures: 100, err: unavailable},
			wantErr:   ErrSessionNotConfirmed,
			wantCalls: DefaultConfirmAttempts,
		},
		{
			name:      "invalid token is not retried",
			resolver:  &flakyResolver{failures: 100, err: ErrInvalidSession},
			wantErr:   ErrInvalidSession,
			wantCalls: 1,
		},
		{
			name:      "revoked token is not retried",
			resolver:  &flakyResolver{failures: 100, err: ErrRevokedSession},
			wantErr:   ErrSessionNotConfirmed,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := Confirm(context.Background(), tt.resolver, "token", WithConfirmInterval(time.Millisecond))

			require.Equal(t, tt.wantCalls, tt.resolver.calls)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.ErrorIs(t, err, ErrSessionNotConfirmed)
				require.Nil(t, session)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "ana@example.com", session.Email)
		})
	}
}

func TestConfirm_attempts(t *testing.T) {
	resolver := &flakyResolver{failures: 100, err: ErrRevocationUnavailable}

	_, err := Confirm(context.Background(), resolver, "token",
		WithConfirmInterval(time.Millisecond),
		WithConfirmAttempts(3),
	)
	require.ErrorIs(t, err, ErrSessionNotConfirmed)
	require.Equal(t, 3, resolver.calls)
}

func TestConfirm_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resolver := &flakyResolver{failures: 100, err: ErrRevocationUnavailable}
	_, err := Confirm(ctx, resolver, "token", WithConfirmInterval(time.Millisecond))
	require.ErrorIs(t, err, ErrSessionNotConfirmed)
	require.LessOrEqual(t, resolver.calls, 1)
}
