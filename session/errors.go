package session

import "errors"

// ErrVerificationRequired indicates a login was rejected because the
// account's email address has not been verified. The server may have
// issued tokens anyway; the client refuses to persist them.
var ErrVerificationRequired = errors.New("session: email address not verified")

// ErrRefreshRejected indicates the refresh token is no longer accepted by
// the server. The session is over; local credentials are cleared.
var ErrRefreshRejected = errors.New("session: refresh token rejected")
