package idp

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
)

// generateState creates a cryptographically secure random state string
// for CSRF protection in the authorization flow.
// Returns a 32-byte hex-encoded string (64 characters).
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// pkce holds a PKCE (Proof Key for Code Exchange) challenge/verifier pair:
// the challenge goes into the authorization URL, the verifier into the
// token exchange.
type pkce struct {
	// CodeVerifier is the random secret (kept by the client, sent during exchange).
	CodeVerifier string

	// CodeChallenge is the SHA-256 hash of the verifier (sent in the auth URL).
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

// newPKCE generates a new PKCE challenge/verifier pair using the S256 method.
// The verifier is a 32-byte random value, base64url-encoded (43 characters).
func newPKCE() (*pkce, error) {
	verifier := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, verifier); err != nil {
		return nil, err
	}

	verifierStr := base64.RawURLEncoding.EncodeToString(verifier)
	h := sha256.Sum256([]byte(verifierStr))
	challenge := base64.RawURLEncoding.EncodeToString(h[:])

	return &pkce{
		CodeVerifier:        verifierStr,
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	}, nil
}
