package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestGate(t *testing.T) *CredentialGate {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("AWSomeTogether"), bcrypt.MinCost)
	require.NoError(t, err)

	gate, err := NewCredentialGate("sw", string(hash))
	require.NoError(t, err)
	return gate
}

func TestCredentialGate(t *testing.T) {
	gate := newTestGate(t)

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{name: "valid", username: "sw", password: "AWSomeTogether"},
		{name: "wrong password", username: "sw", password: "nope", wantErr: ErrDenied},
		{name: "wrong username", username: "admin", password: "AWSomeTogether", wantErr: ErrDenied},
		{name: "empty", username: "", password: "", wantErr: ErrDenied},
		{name: "username prefix", username: "s", password: "AWSomeTogether", wantErr: ErrDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gate.Authenticate(context.Background(), tt.username, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewCredentialGateRejectsBadConfig(t *testing.T) {
	_, err := NewCredentialGate("sw", "plaintext-password")
	assert.Error(t, err)

	hash, err := HashPassword("secret")
	require.NoError(t, err)
	_, err = NewCredentialGate("", hash)
	assert.Error(t, err)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("secret")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")))

	_, err = HashPassword("")
	assert.Error(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)

	token, err := issuer.Issue("session-1")
	require.NoError(t, err)

	id, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "session-1", id)
}

func TestTokenExpired(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Minute)
	require.NoError(t, err)

	start := time.Now()
	issuer.now = func() time.Time { return start }
	token, err := issuer.Issue("session-1")
	require.NoError(t, err)

	issuer.now = func() time.Time { return start.Add(2 * time.Minute) }
	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenWrongSecret(t *testing.T) {
	a, err := NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	b, err := NewTokenIssuer([]byte("fedcba9876543210fedcba9876543210"), time.Hour)
	require.NoError(t, err)

	token, err := a.Issue("session-1")
	require.NoError(t, err)

	_, err = b.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenRejectsOtherAlgorithms(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	issuer, err := NewTokenIssuer(secret, time.Hour)
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{
		Subject:   "session-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(secret)
	require.NoError(t, err)

	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Parse("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenIssuerShortSecret(t *testing.T) {
	_, err := NewTokenIssuer([]byte("short"), time.Hour)
	assert.Error(t, err)

	secret, err := RandomSecret()
	require.NoError(t, err)
	assert.Len(t, secret, 32)
}
