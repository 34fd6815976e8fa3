// Package credstore persists the session's credentials across process
// restarts. It is a flat durable map scoped to two well-known keys: the
// access token and the refresh token. No expiry or encryption semantics;
// tokens are opaque strings here.
package credstore

import "errors"

// Well-known credential keys.
const (
	KeyAccessToken  = "access-token"
	KeyRefreshToken = "refresh-token"
)

// ErrUnavailable indicates the underlying storage medium cannot be accessed.
// Callers should treat this as "no credentials" rather than failing hard.
var ErrUnavailable = errors.New("credstore: storage unavailable")

// Store is a durable key-value store for session credentials.
// All operations are synchronous. A missing key is not an error: Get returns
// an empty string.
type Store interface {
	// Get returns the value for key, or "" if the key is not present.
	Get(key string) (string, error)

	// Set writes the value for key, replacing any previous value.
	Set(key, value string) error

	// Remove deletes the key. Removing a missing key is a no-op.
	Remove(key string) error
}
