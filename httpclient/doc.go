// Package httpclient provides the HTTP transport for the authentication
// API: base-URL resolution, JSON and multipart bodies, typed errors, and
// bearer-token handling.
//
// The access token is read from a TokenSource at call time, never cached at
// construction time, because a silent refresh can replace it mid-session.
// When an authenticated request comes back 401, the client invokes its
// RefreshFunc once and retries the original request once with the new token.
// A second 401 propagates as a typed *Error; the retry is bounded by an
// explicit per-request attempt counter, so no request ever triggers more
// than one refresh.
//
// # Basic Usage
//
//	client, err := httpclient.New(httpclient.Config{
//	    BaseURL: "https://api.example.com/api",
//	    Tokens:  func() (string, error) { return store.Get(credstore.KeyAccessToken) },
//	})
//
//	resp, err := client.Do(ctx, httpclient.Request{
//	    Method:        http.MethodGet,
//	    Path:          "/auth/profile/",
//	    Authenticated: true,
//	})
package httpclient
