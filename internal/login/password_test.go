package login

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordAuthenticator(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("rodada-8m"), bcrypt.MinCost)
	require.NoError(t, err)

	auth, err := NewPasswordAuthenticator("mujeresenbici2026@gmail.com", string(hash))
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{name: "valid", email: "mujeresenbici2026@gmail.com", password: "rodada-8m"},
		{name: "email case and spaces", email: " MujeresEnBici2026@gmail.com ", password: "rodada-8m"},
		{name: "wrong password", email: "mujeresenbici2026@gmail.com", password: "rodada", wantErr: ErrInvalidCredentials},
		{name: "unknown email", email: "ana@example.com", password: "rodada-8m", wantErr: ErrInvalidCredentials},
		{name: "empty", email: "", password: "", wantErr: ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, err := auth.Authenticate(tt.email, tt.password)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "mujeresenbici2026@gmail.com", email)
		})
	}
}

func TestNewPasswordAuthenticator_invalid(t *testing.T) {
	_, err := NewPasswordAuthenticator("", "$2a$10$abc")
	require.Error(t, err)

	_, err = NewPasswordAuthenticator("a@example.com", "plaintext")
	require.Error(t, err)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("rodada-8m")
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("rodada-8m")))

	_, err = HashPassword("")
	require.Error(t, err)
}
