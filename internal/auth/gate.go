// Package auth gates access to the staging pipeline.
//
// The gate is a convenience login for a small operator team, not an
// authorization boundary: anyone holding the shared credential gets a session.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrDenied = errors.New("invalid username or password")

// Gate decides whether a credential pair may open a session.
type Gate interface {
	Authenticate(ctx context.Context, username, password string) error
}

// CredentialGate checks a single username and a bcrypt password hash.
type CredentialGate struct {
	username     []byte
	passwordHash []byte
}

func NewCredentialGate(username, passwordHash string) (*CredentialGate, error) {
	if username == "" {
		return nil, errors.New("username is required")
	}
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("invalid password hash: %w", err)
	}
	return &CredentialGate{
		username:     []byte(username),
		passwordHash: []byte(passwordHash),
	}, nil
}

func (g *CredentialGate) Authenticate(_ context.Context, username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), g.username) == 1
	// Always run bcrypt so a wrong username costs the same as a wrong password.
	passErr := bcrypt.CompareHashAndPassword(g.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		return ErrDenied
	}
	return nil
}

// HashPassword returns a bcrypt hash suitable for AUTH_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
