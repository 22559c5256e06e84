package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is an authenticated admin session. It travels in a signed cookie;
// only revocations are kept server side.
type Session struct {
	SessionID uuid.UUID // UUIDv7, carried as the token's jti
	Email     string
	Name      string
	Method    string // "password" or "github"

	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Remaining is how long the session stays valid, zero once expired.
func (s *Session) Remaining() time.Duration {
	return max(time.Until(s.ExpiresAt), 0)
}
