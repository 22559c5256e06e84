package login

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mujeresenbici/rodada/internal/models"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSession             = errors.New("no session")
	ErrInvalidSession        = errors.New("invalid session")
	ErrExpiredSession        = errors.New("session expired")
	ErrRevokedSession        = errors.New("session revoked")
	ErrRevocationUnavailable = errors.New("revocation list unavailable")
)

const (
	// SessionCookieName is the cookie carrying the signed session token.
	SessionCookieName = "_session"

	tokenIssuer = "rodada"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Identity is the signed-in user as seen by the access gate.
type Identity struct {
	Email     string
	Name      string
	SessionID uuid.UUID
}

// IdentityProvider resolves and ends sessions for a request.
type IdentityProvider interface {
	// CurrentIdentity returns the identity behind the request's session cookie.
	// It returns ErrNoSession when the request carries no cookie.
	CurrentIdentity(r *http.Request) (*Identity, error)

	// SignOut revokes the current session, if any, and clears the cookie.
	SignOut(w http.ResponseWriter, r *http.Request) error
}

// ContextWithIdentity attaches identity to ctx.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext returns the identity attached by the gate middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	return identity, ok && identity != nil
}

type sessionClaims struct {
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Method string `json:"amr"`
	jwt.RegisteredClaims
}

// Sessions issues and verifies HS256 session tokens stored in a cookie.
type Sessions struct {
	secret       []byte
	ttl          time.Duration
	revocations  RevocationList
	secureCookie bool
	now          func() time.Time
	confirmOpts  []ConfirmOption
}

var _ IdentityProvider = (*Sessions)(nil)

// SessionOption configures Sessions.
type SessionOption func(*Sessions)

// WithClock overrides the time source used to issue and verify tokens.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Sessions) {
		s.now = now
	}
}

// WithInsecureCookie drops the Secure attribute, for plain HTTP development.
func WithInsecureCookie() SessionOption {
	return func(s *Sessions) {
		s.secureCookie = false
	}
}

// WithConfirmOptions sets the options used by Establish to confirm a session.
func WithConfirmOptions(opts ...ConfirmOption) SessionOption {
	return func(s *Sessions) {
		s.confirmOpts = opts
	}
}

// NewSessions creates a session manager. secret must be at least 32 bytes.
func NewSessions(secret []byte, ttl time.Duration, revocations RevocationList, opts ...SessionOption) (*Sessions, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be 32 bytes")
	}

	if ttl <= 0 {
		return nil, fmt.Errorf("session TTL must be greater than 0")
	}

	if revocations == nil {
		return nil, fmt.Errorf("revocation list is required")
	}

	s := &Sessions{
		secret:       secret,
		ttl:          ttl,
		revocations:  revocations,
		secureCookie: true,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue creates a signed token for email.
func (s *Sessions) Issue(email, name, method string) (string, *models.Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &models.Session{
		SessionID: id,
		Email:     email,
		Name:      name,
		Method:    method,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	claims := sessionClaims{
		Email:  email,
		Name:   name,
		Method: method,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.String(),
			Issuer:    tokenIssuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return token, session, nil
}

// Parse verifies the token signature and expiry without consulting the
// revocation list.
func (s *Sessions) Parse(token string) (*models.Session, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			log.Debug().Str("user", claims.Email).Msg("Session expired")
			return nil, ErrExpiredSession
		}
		log.Debug().Err(err).Msg("Session token validation failed")
		return nil, ErrInvalidSession
	}

	id, err := uuid.Parse(claims.ID)
	if err != nil || claims.Email == "" {
		return nil, ErrInvalidSession
	}

	return &models.Session{
		SessionID: id,
		Email:     claims.Email,
		Name:      claims.Name,
		Method:    claims.Method,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Resolve verifies token and checks that it has not been revoked.
func (s *Sessions) Resolve(ctx context.Context, token string) (*models.Session, error) {
	session, err := s.Parse(token)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revocations.IsRevoked(ctx, session.SessionID.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRevocationUnavailable, err)
	}
	if revoked {
		return nil, ErrRevokedSession
	}

	return session, nil
}

// Establish issues a session, stores it in the response cookie and waits
// until it resolves. The cookie is cleared again if confirmation fails.
func (s *Sessions) Establish(ctx context.Context, w http.ResponseWriter, email, name, method string) (*models.Session, error) {
	token, _, err := s.Issue(email, name, method)
	if err != nil {
		return nil, err
	}

	session, err := Confirm(ctx, s, token, s.confirmOpts...)
	if err != nil {
		s.clearCookie(w)
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.ttl.Seconds()),
	})

	log.Info().Str("user", email).Str("method", method).Msg("Session established")

	return session, nil
}

// CurrentIdentity implements IdentityProvider.
func (s *Sessions) CurrentIdentity(r *http.Request) (*Identity, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoSession
	}

	session, err := s.Resolve(r.Context(), cookie.Value)
	if err != nil {
		return nil, err
	}

	return &Identity{
		Email:     session.Email,
		Name:      session.Name,
		SessionID: session.SessionID,
	}, nil
}

// SignOut implements IdentityProvider. The token's id is revoked for the
// rest of its lifetime so a copied cookie stops working too.
func (s *Sessions) SignOut(w http.ResponseWriter, r *http.Request) error {
	defer s.clearCookie(w)

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	session, err := s.Parse(cookie.Value)
	if err != nil {
		// expired or forged tokens need no revocation
		return nil
	}

	remaining := session.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		return nil
	}

	if err := s.revocations.Revoke(r.Context(), session.SessionID.String(), remaining); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	log.Info().Str("user", session.Email).Msg("Session signed out")

	return nil
}

func (s *Sessions) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
