package idp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

func signedIDToken(t *testing.T, email, name, picture string, iat, exp time.Time) string {
	t.Helper()
	claims := gojwt.MapClaims{
		"sub":     "google-sub-123",
		"email":   email,
		"name":    name,
		"picture": picture,
		"iat":     iat.Unix(),
		"exp":     exp.Unix(),
	}
	tok := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign id token: %v", err)
	}
	return s
}

// fakeBrowser follows the authorization URL the way a real browser would:
// it reads redirect_uri and state out of the URL and hits the loopback
// callback with an authorization code.
func fakeBrowser(t *testing.T, code string, mutateState func(string) string) func(string) error {
	t.Helper()
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		state := q.Get("state")
		if mutateState != nil {
			state = mutateState(state)
		}
		redirect := q.Get("redirect_uri")
		go func() {
			cb := redirect + "?code=" + url.QueryEscape(code) + "&state=" + url.QueryEscape(state)
			resp, err := http.Get(cb)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
}

func newTestGoogle(t *testing.T, cfg GoogleConfig) *Google {
	t.Helper()
	g, err := NewGoogle(cfg)
	if err != nil {
		t.Fatalf("NewGoogle() error = %v", err)
	}
	return g
}

func TestGoogleConfig_Validate(t *testing.T) {
	cfg := GoogleConfig{}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail without client_id")
	}

	cfg.ClientID = "client-1"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestGoogleConfig_ApplyDefaults(t *testing.T) {
	cfg := GoogleConfig{ClientID: "client-1"}
	cfg.ApplyDefaults()

	if len(cfg.Scopes) != 3 || cfg.Scopes[0] != "openid" {
		t.Errorf("Scopes = %v, want openid email profile", cfg.Scopes)
	}
	if cfg.TokenEndpoint != defaultTokenEndpoint {
		t.Errorf("TokenEndpoint = %q", cfg.TokenEndpoint)
	}
	if cfg.ListenAddr != "127.0.0.1:0" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Timeout != defaultFlowTimeout {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
	if cfg.OpenBrowser == nil {
		t.Error("OpenBrowser should default to the platform browser")
	}
}

func TestGoogle_SignIn(t *testing.T) {
	now := time.Now()
	idToken := signedIDToken(t, "user@example.com", "Test User",
		"https://example.com/photo.png", now, now.Add(time.Hour))

	var form url.Values
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","id_token":"` + idToken + `","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer tokenSrv.Close()

	g := newTestGoogle(t, GoogleConfig{
		ClientID:      "client-1",
		TokenEndpoint: tokenSrv.URL,
		Timeout:       5 * time.Second,
		OpenBrowser:   fakeBrowser(t, "auth-code-1", nil),
	})

	id, err := g.SignIn(context.Background())
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if id.IDToken != idToken {
		t.Error("IDToken should be the provider-issued token")
	}
	if id.Email != "user@example.com" {
		t.Errorf("Email = %q", id.Email)
	}
	if id.DisplayName != "Test User" {
		t.Errorf("DisplayName = %q", id.DisplayName)
	}
	if id.PhotoURL != "https://example.com/photo.png" {
		t.Errorf("PhotoURL = %q", id.PhotoURL)
	}

	if got := form.Get("code"); got != "auth-code-1" {
		t.Errorf("exchanged code = %q", got)
	}
	if form.Get("code_verifier") == "" {
		t.Error("exchange should carry the PKCE verifier")
	}
	if got := form.Get("grant_type"); got != "authorization_code" {
		t.Errorf("grant_type = %q", got)
	}
}

func TestGoogle_SignIn_DuplicateCallbackIgnored(t *testing.T) {
	now := time.Now()
	idToken := signedIDToken(t, "user@example.com", "Test User", "", now, now.Add(time.Hour))

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","id_token":"` + idToken + `","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer tokenSrv.Close()

	// A reloaded callback page delivers the same code again. Both requests
	// run to completion before SignIn consumes the first delivery, so the
	// handler must not block on the second.
	browser := func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		cb := q.Get("redirect_uri") + "?code=auth-code-1&state=" + url.QueryEscape(q.Get("state"))
		for i := 0; i < 2; i++ {
			resp, err := http.Get(cb)
			if err != nil {
				return err
			}
			resp.Body.Close()
		}
		return nil
	}

	g := newTestGoogle(t, GoogleConfig{
		ClientID:      "client-1",
		TokenEndpoint: tokenSrv.URL,
		Timeout:       5 * time.Second,
		OpenBrowser:   browser,
	})

	id, err := g.SignIn(context.Background())
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if id.Email != "user@example.com" {
		t.Errorf("Email = %q", id.Email)
	}
}

func TestGoogle_SignIn_StateMismatch(t *testing.T) {
	g := newTestGoogle(t, GoogleConfig{
		ClientID: "client-1",
		Timeout:  5 * time.Second,
		OpenBrowser: fakeBrowser(t, "auth-code-1", func(string) string {
			return "forged-state"
		}),
	})

	if _, err := g.SignIn(context.Background()); err == nil ||
		!strings.Contains(err.Error(), "state mismatch") {
		t.Errorf("SignIn() error = %v, want state mismatch", err)
	}
}

func TestGoogle_SignIn_AccessDenied(t *testing.T) {
	g := newTestGoogle(t, GoogleConfig{
		ClientID: "client-1",
		Timeout:  5 * time.Second,
		OpenBrowser: func(authURL string) error {
			u, _ := url.Parse(authURL)
			redirect := u.Query().Get("redirect_uri")
			go func() {
				resp, err := http.Get(redirect + "?error=access_denied")
				if err == nil {
					resp.Body.Close()
				}
			}()
			return nil
		},
	})

	if _, err := g.SignIn(context.Background()); !errors.Is(err, ErrCanceled) {
		t.Errorf("SignIn() error = %v, want ErrCanceled", err)
	}
}

func TestGoogle_SignIn_ClockSkew(t *testing.T) {
	// Local clock an hour behind the provider: a fresh token looks issued
	// in the future.
	providerNow := time.Now()
	localNow := providerNow.Add(-time.Hour)
	idToken := signedIDToken(t, "user@example.com", "Test User", "",
		providerNow, providerNow.Add(time.Hour))

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","id_token":"` + idToken + `"}`))
	}))
	defer tokenSrv.Close()

	g := newTestGoogle(t, GoogleConfig{
		ClientID:      "client-1",
		TokenEndpoint: tokenSrv.URL,
		Timeout:       5 * time.Second,
		OpenBrowser:   fakeBrowser(t, "auth-code-1", nil),
	})
	g.now = func() time.Time { return localNow }

	if _, err := g.SignIn(context.Background()); !errors.Is(err, ErrClockSkew) {
		t.Errorf("SignIn() error = %v, want ErrClockSkew", err)
	}
}

func TestGoogle_SignOut(t *testing.T) {
	now := time.Now()
	idToken := signedIDToken(t, "user@example.com", "", "", now, now.Add(time.Hour))

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-revoke-me","id_token":"` + idToken + `"}`))
	}))
	defer tokenSrv.Close()

	var revoked string
	revokeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		revoked = r.PostForm.Get("token")
		w.WriteHeader(http.StatusOK)
	}))
	defer revokeSrv.Close()

	g := newTestGoogle(t, GoogleConfig{
		ClientID:       "client-1",
		TokenEndpoint:  tokenSrv.URL,
		RevokeEndpoint: revokeSrv.URL,
		Timeout:        5 * time.Second,
		OpenBrowser:    fakeBrowser(t, "auth-code-1", nil),
	})

	if _, err := g.SignIn(context.Background()); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if err := g.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if revoked != "at-revoke-me" {
		t.Errorf("revoked token = %q, want at-revoke-me", revoked)
	}

	// Without an active session, SignOut is a no-op.
	revoked = ""
	if err := g.SignOut(context.Background()); err != nil {
		t.Fatalf("second SignOut() error = %v", err)
	}
	if revoked != "" {
		t.Error("second SignOut should not call the revoke endpoint")
	}
}
