package login

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// PasswordAuthenticator checks an email and password against one configured
// bcrypt hash.
type PasswordAuthenticator struct {
	email string
	hash  []byte
}

// NewPasswordAuthenticator validates hash and returns an authenticator for email.
func NewPasswordAuthenticator(email, hash string) (*PasswordAuthenticator, error) {
	if email == "" {
		return nil, fmt.Errorf("admin email is required")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid password hash: %w", err)
	}
	return &PasswordAuthenticator{email: email, hash: []byte(hash)}, nil
}

// Email is the configured account email.
func (p *PasswordAuthenticator) Email() string {
	return p.email
}

// Authenticate returns the configured email when the credentials match.
// The hash is compared even for an unknown email.
func (p *PasswordAuthenticator) Authenticate(email, password string) (string, error) {
	emailMatches := strings.EqualFold(strings.TrimSpace(email), p.email)

	err := bcrypt.CompareHashAndPassword(p.hash, []byte(password))
	if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return "", fmt.Errorf("could not verify password: %w", err)
	}
	if err != nil || !emailMatches {
		return "", ErrInvalidCredentials
	}

	return p.email, nil
}

// HashPassword creates a bcrypt hash suitable for NewPasswordAuthenticator.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("password is too long")
		}
		return "", fmt.Errorf("could not hash password: %w", err)
	}
	return string(hashed), nil
}
