package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/kbukum/authkit/logger"
)

const (
	defaultAuthEndpoint   = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenEndpoint  = "https://oauth2.googleapis.com/token"
	defaultRevokeEndpoint = "https://oauth2.googleapis.com/revoke"

	defaultFlowTimeout   = 5 * time.Minute
	defaultSkewTolerance = 2 * time.Minute
)

// GoogleConfig configures the Google sign-in flow.
type GoogleConfig struct {
	// ClientID is the OAuth2 client ID. Required.
	ClientID string `mapstructure:"client_id" validate:"required"`

	// ClientSecret is the OAuth2 client secret. Desktop-app clients
	// receive one from Google even though it is not confidential.
	ClientSecret string `mapstructure:"client_secret"`

	// Scopes are the OAuth2 scopes to request.
	// Default: ["openid", "email", "profile"].
	Scopes []string `mapstructure:"scopes"`

	// AuthEndpoint is the authorization endpoint. Defaults to Google's.
	AuthEndpoint string `mapstructure:"auth_endpoint"`

	// TokenEndpoint is the token endpoint. Defaults to Google's.
	TokenEndpoint string `mapstructure:"token_endpoint"`

	// RevokeEndpoint is the token revocation endpoint. Defaults to Google's.
	RevokeEndpoint string `mapstructure:"revoke_endpoint"`

	// ListenAddr is the loopback address the redirect listener binds to.
	// Default: "127.0.0.1:0" (ephemeral port).
	ListenAddr string `mapstructure:"listen_addr"`

	// Timeout bounds the whole interactive flow. Default: 5m.
	Timeout time.Duration `mapstructure:"timeout"`

	// SkewTolerance is how far the identity token's timestamps may
	// disagree with the local clock before the flow fails with
	// ErrClockSkew. Default: 2m.
	SkewTolerance time.Duration `mapstructure:"skew_tolerance"`

	// OpenBrowser launches the authorization URL. Defaults to the
	// platform browser; tests replace it.
	OpenBrowser func(url string) error `mapstructure:"-"`

	// Logger is optional.
	Logger *logger.Logger `mapstructure:"-"`
}

// ApplyDefaults fills in default values for unset fields.
func (c *GoogleConfig) ApplyDefaults() {
	if len(c.Scopes) == 0 {
		c.Scopes = []string{"openid", "email", "profile"}
	}
	if c.AuthEndpoint == "" {
		c.AuthEndpoint = defaultAuthEndpoint
	}
	if c.TokenEndpoint == "" {
		c.TokenEndpoint = defaultTokenEndpoint
	}
	if c.RevokeEndpoint == "" {
		c.RevokeEndpoint = defaultRevokeEndpoint
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:0"
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultFlowTimeout
	}
	if c.SkewTolerance <= 0 {
		c.SkewTolerance = defaultSkewTolerance
	}
	if c.OpenBrowser == nil {
		c.OpenBrowser = openBrowser
	}
}

// Validate checks required fields.
func (c *GoogleConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("idp: google client_id is required")
	}
	return nil
}

// Google signs users in with Google via the loopback-redirect
// authorization code flow with PKCE.
type Google struct {
	config GoogleConfig
	http   *http.Client
	log    *logger.Logger

	mu          sync.Mutex
	accessToken string

	now func() time.Time
}

// NewGoogle creates a Google provider.
func NewGoogle(cfg GoogleConfig) (*Google, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("authkit")
	}
	return &Google{
		config: cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		log:    log.WithComponent("idp.google"),
		now:    time.Now,
	}, nil
}

// Name returns "google".
func (g *Google) Name() string { return "google" }

// SignIn opens the browser to Google's consent screen, waits for the
// loopback redirect, exchanges the authorization code, and returns the
// resulting identity.
func (g *Google) SignIn(ctx context.Context) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("idp: generate state: %w", err)
	}
	challenge, err := newPKCE()
	if err != nil {
		return nil, fmt.Errorf("idp: generate pkce: %w", err)
	}

	ln, err := net.Listen("tcp", g.config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("idp: listen on loopback: %w", err)
	}
	defer ln.Close()
	redirectURI := fmt.Sprintf("http://%s/callback", ln.Addr().String())

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	srv := &http.Server{Handler: callbackHandler(state, codeCh, errCh)}
	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			select {
			case errCh <- serveErr:
			default:
			}
		}
	}()
	defer srv.Close()

	authURL := g.authURL(redirectURI, state, challenge)
	g.log.Debug("opening browser for sign-in", map[string]interface{}{
		"redirect_uri": redirectURI,
	})
	if err := g.config.OpenBrowser(authURL); err != nil {
		return nil, fmt.Errorf("idp: open browser: %w", err)
	}

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		if ctx.Err() == context.Canceled {
			return nil, ErrCanceled
		}
		return nil, fmt.Errorf("idp: sign-in timed out: %w", ctx.Err())
	}

	return g.exchange(ctx, code, redirectURI, challenge.CodeVerifier)
}

// SignOut revokes the access token obtained during the last SignIn, if
// any. Revocation failures are returned so the caller can log them, but
// the stored token is discarded either way.
func (g *Google) SignOut(ctx context.Context) error {
	g.mu.Lock()
	tok := g.accessToken
	g.accessToken = ""
	g.mu.Unlock()
	if tok == "" {
		return nil
	}

	form := url.Values{"token": {tok}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.RevokeEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("idp: build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("idp: revoke token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("idp: revoke token: status %d", resp.StatusCode)
	}
	return nil
}

func (g *Google) authURL(redirectURI, state string, challenge *pkce) string {
	q := url.Values{}
	q.Set("client_id", g.config.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(g.config.Scopes, " "))
	q.Set("state", state)
	q.Set("code_challenge", challenge.CodeChallenge)
	q.Set("code_challenge_method", challenge.CodeChallengeMethod)
	return g.config.AuthEndpoint + "?" + q.Encode()
}

// tokenResponse is the token endpoint's success body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// idTokenClaims are the identity-token claims the client reads. The
// token is decoded without signature verification; the backend verifies
// it during the federated-login exchange.
type idTokenClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	gojwt.RegisteredClaims
}

func (g *Google) exchange(ctx context.Context, code, redirectURI, verifier string) (*Identity, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {g.config.ClientID},
		"redirect_uri":  {redirectURI},
		"code_verifier": {verifier},
	}
	if g.config.ClientSecret != "" {
		form.Set("client_secret", g.config.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.TokenEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("idp: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("idp: token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("idp: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("idp: token exchange failed: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("idp: decode token response: %w", err)
	}
	if tok.IDToken == "" {
		return nil, fmt.Errorf("idp: token response contains no id_token")
	}

	claims := &idTokenClaims{}
	if _, _, err := gojwt.NewParser().ParseUnverified(tok.IDToken, claims); err != nil {
		return nil, fmt.Errorf("idp: decode id token: %w", err)
	}
	if err := g.checkClock(claims); err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.accessToken = tok.AccessToken
	g.mu.Unlock()

	return &Identity{
		IDToken:     tok.IDToken,
		Email:       claims.Email,
		DisplayName: claims.Name,
		PhotoURL:    claims.Picture,
	}, nil
}

// checkClock fails with ErrClockSkew when the identity token's timestamps
// disagree with the local clock by more than the tolerance. A skewed local
// clock makes a freshly minted token look not-yet-valid or already
// expired, and the backend would reject it; surfacing the cause here lets
// the UI tell the user to fix their system time.
func (g *Google) checkClock(claims *idTokenClaims) error {
	now := g.now()
	tol := g.config.SkewTolerance
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(now.Add(tol)) {
		return fmt.Errorf("%w: token issued %s ahead of local time",
			ErrClockSkew, claims.IssuedAt.Time.Sub(now).Round(time.Second))
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(now.Add(-tol)) {
		return fmt.Errorf("%w: token expired %s before local time",
			ErrClockSkew, now.Sub(claims.ExpiresAt.Time).Round(time.Second))
	}
	return nil
}

// callbackHandler serves the loopback redirect, validates state, and
// forwards the authorization code. Only the first outcome is forwarded;
// a reloaded callback page must not block the handler once SignIn has
// its result.
func callbackHandler(state string, codeCh chan<- string, errCh chan<- error) http.Handler {
	sendCode := func(code string) {
		select {
		case codeCh <- code:
		default:
		}
	}
	sendErr := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/callback" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if errCode := q.Get("error"); errCode != "" {
			http.Error(w, "Sign-in failed. You can close this window.", http.StatusBadRequest)
			if errCode == "access_denied" {
				sendErr(ErrCanceled)
			} else {
				sendErr(fmt.Errorf("idp: authorization failed: %s", errCode))
			}
			return
		}
		if q.Get("state") != state {
			http.Error(w, "Invalid request. You can close this window.", http.StatusBadRequest)
			sendErr(fmt.Errorf("idp: state mismatch in callback"))
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Invalid request. You can close this window.", http.StatusBadRequest)
			sendErr(fmt.Errorf("idp: callback carries no authorization code"))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>Signed in. You can close this window.</body></html>")
		sendCode(code)
	})
}

// openBrowser launches the platform's default browser.
func openBrowser(target string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target).Start()
	default:
		return exec.Command("xdg-open", target).Start()
	}
}
