// Package session manages the client-side authentication session: login,
// registration, email verification, password reset, federated sign-in, and
// silent token refresh.
//
// The Manager owns the persisted token pair and the in-memory identity.
// All UI-facing operations return Result values or booleans rather than
// raw errors; transport and server failures are converted into
// human-readable messages at this boundary. Concurrent refresh attempts
// are coalesced into a single in-flight exchange so a stale access token
// can never overwrite a fresher one.
package session
