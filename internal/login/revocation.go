package login

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var isRevokedDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "rodada_session_revocation_check_duration_ms",
	Help:    "Latency of session revocation checks in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

// Redis key prefix for revoked session ids
const revokedSessionKeyPrefix = "rodada:revoked:"

// RevocationList records signed-out session ids until their tokens expire.
type RevocationList interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRevocationList keeps revocations in process. Suitable for a single
// server instance.
type MemoryRevocationList struct {
	cache *gocache.Cache
}

// NewMemoryRevocationList creates an in-process revocation list.
func NewMemoryRevocationList(cleanupInterval time.Duration) *MemoryRevocationList {
	return &MemoryRevocationList{
		cache: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func (m *MemoryRevocationList) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	m.cache.Set(jti, struct{}{}, ttl)
	return nil
}

func (m *MemoryRevocationList) IsRevoked(_ context.Context, jti string) (bool, error) {
	_, found := m.cache.Get(jti)
	return found, nil
}

// RedisRevocationList shares revocations between server instances.
type RedisRevocationList struct {
	client *redis.Client
}

// NewRedisRevocationList wraps client. The client lifecycle is managed by the caller.
func NewRedisRevocationList(client *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{client: client}
}

// Revoke stores a marker key that expires with the token.
func (r *RedisRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, revokedSessionKeyPrefix+jti, "1", ttl).Err()
}

// IsRevoked returns false if the key doesn't exist (not revoked or expired).
func (r *RedisRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	start := time.Now()
	defer func() {
		isRevokedDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if jti == "" {
		return false, nil
	}
	_, err := r.client.Get(ctx, revokedSessionKeyPrefix+jti).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
