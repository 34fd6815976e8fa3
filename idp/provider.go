// Package idp abstracts the external federated identity provider used for
// "sign in with Google". The session manager consumes it as a black box
// that yields an identity token plus basic profile fields; the backend is
// responsible for verifying that token during the exchange.
package idp

import (
	"context"
	"errors"
)

// ErrClockSkew indicates the provider rejected the flow because the local
// clock disagrees with the provider's. The UI messages this case specially,
// since retrying without fixing the system time will keep failing.
var ErrClockSkew = errors.New("idp: local clock is out of sync with the identity provider")

// ErrCanceled indicates the user abandoned the sign-in flow.
var ErrCanceled = errors.New("idp: sign-in canceled")

// Identity is the result of a successful federated sign-in.
type Identity struct {
	// IDToken is the provider-issued identity token, exchanged with the
	// backend for a session token pair.
	IDToken string

	// Email is the user's email address at the provider.
	Email string

	// DisplayName is the user's display name at the provider.
	DisplayName string

	// PhotoURL is a URL to the user's profile picture.
	PhotoURL string
}

// Provider is a federated identity provider.
type Provider interface {
	// Name returns the provider identifier (e.g., "google").
	Name() string

	// SignIn runs the provider's interactive sign-in flow and returns the
	// resulting identity. Blocks until the flow completes, fails, or ctx
	// is done.
	SignIn(ctx context.Context) (*Identity, error)

	// SignOut terminates the provider-side session, if any. Calling it
	// without an active session is a no-op.
	SignOut(ctx context.Context) error
}
