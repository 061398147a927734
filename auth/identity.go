/*
Package auth resolves opaque session tokens into identities.

Token issuance lives in the external auth collaborator; this package
only parses and validates the JWT it mints, returning (role, user id)
for the API layer to consult before invoking the core.
*/
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("authorization token required")
)

// Identity is the resolved session: who acts and as what.
type Identity struct {
	UserID string
	Role   string
}

// Claims are the custom JWT claims carried by a session token.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Resolver validates session tokens signed with a shared HMAC secret.
type Resolver struct {
	secretKey []byte
}

// NewResolver creates a Resolver for the given signing secret.
func NewResolver(secretKey string) *Resolver {
	return &Resolver{secretKey: []byte(secretKey)}
}

// Resolve parses and validates a token, returning the identity.
func (r *Resolver) Resolve(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return r.secretKey, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: claims.UserID, Role: claims.Role}, nil
}

// Mint signs a token for an identity. The real issuer is the external
// auth service; this exists for dev seeding and tests.
func (r *Resolver) Mint(identity Identity, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: identity.UserID,
		Role:   identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(r.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
