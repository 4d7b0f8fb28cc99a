// Package auth verifies the credential a client presents when it opens a
// connection. Token issuance lives in a separate service; this side only
// checks signatures and extracts the identity.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/Chatter/internal/domain"
)

var ErrInvalidCredential = errors.New("invalid credential")

// Identity is what the relay needs to know about a user: who they are
// and what role the auth service assigned them.
type Identity struct {
	UserID domain.UserID
	Role   domain.Role
}

// Verifier turns a connection-time credential into a stable identity,
// or rejects the connection.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens minted by the auth service.
// The subject claim carries the user id.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	return &JWTVerifier{secret: []byte(secret)}, nil
}

func (v *JWTVerifier) Verify(_ context.Context, credential string) (*Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(credential, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}
	user, err := domain.NewUser(domain.UserID(c.Subject), domain.Role(c.Role))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	return &Identity{UserID: user.ID, Role: user.Role}, nil
}
