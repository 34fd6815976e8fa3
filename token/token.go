// Package token decodes access tokens issued by the authentication backend.
//
// Decoding is parse-only: the client does not hold the signing key, so no
// signature verification is performed here. The backend is trusted to have
// issued the token; verification happens server-side on every request that
// carries it. Expiry is likewise not enforced during decoding; callers
// inspect the claims and decide (see Claims.Expired).
package token

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// ErrMalformed indicates the token is not a well-formed JWT.
var ErrMalformed = errors.New("token: malformed token")

// Claims is the decoded payload of an access token.
type Claims struct {
	gojwt.RegisteredClaims

	// TokenType distinguishes access from refresh tokens ("access"/"refresh").
	TokenType string `json:"token_type,omitempty"`

	// UserID is the backend's unique identifier for the user.
	UserID int64 `json:"user_id"`

	// Username is the user's display name.
	Username string `json:"username,omitempty"`

	// Email is the user's email address.
	Email string `json:"email,omitempty"`

	// IsVerified reports whether the user's email has been verified.
	IsVerified bool `json:"is_verified"`

	// Image is an optional avatar reference.
	Image string `json:"image,omitempty"`
}

// Expired reports whether the token's exp claim is in the past relative to now.
// A token without an exp claim is treated as expired.
func (c *Claims) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return c.ExpiresAt.Time.Before(now)
}

// Decode parses a compact JWT string into its claims without verifying the
// signature or any time-based claims. Returns ErrMalformed if the token is
// not a structurally valid JWT.
func Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parser := gojwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return claims, nil
}
