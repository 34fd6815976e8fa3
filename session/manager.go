package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kbukum/authkit/credstore"
	"github.com/kbukum/authkit/httpclient"
	"github.com/kbukum/authkit/idp"
	"github.com/kbukum/authkit/logger"
	"github.com/kbukum/authkit/observability"
	"github.com/kbukum/authkit/token"
	"github.com/kbukum/authkit/validation"
)

// Remote endpoints, relative to the client's base URL.
const (
	loginEndpoint          = "/auth/login/"
	federatedLoginEndpoint = "/auth/federated-login/"
	logoutEndpoint         = "/auth/logout/"
	registerEndpoint       = "/auth/register/"
	verifyEmailEndpoint    = "/auth/verify-email/"
	requestResetEndpoint   = "/auth/request-reset-email/"
	checkResetEndpoint     = "/auth/reset-password/%s/%s/"
	resetCompleteEndpoint  = "/auth/password-reset-complete/"
	refreshEndpoint        = "/token/refresh/"
	profileEndpoint        = "/auth/profile/"
	userEndpoint           = "/auth/user/"
)

const genericErrorMessage = "Something went wrong. Please try again."

// State is the session lifecycle state.
type State int

const (
	// StateUnauthenticated means no session exists.
	StateUnauthenticated State = iota
	// StateAuthenticating means a login or federated sign-in is in flight.
	StateAuthenticating
	// StateAuthenticated means a session is active.
	StateAuthenticated
	// StateRefreshFailed means the refresh token was rejected and the
	// session was cleared; the user must log in again.
	StateRefreshFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshFailed:
		return "refresh_failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of a UI-facing operation. Operations never
// propagate raw errors past the Manager boundary.
type Result struct {
	// Success reports whether the operation succeeded.
	Success bool
	// Error is a human-readable failure message, empty on success.
	Error string
	// Err is the underlying cause for programmatic inspection
	// (e.g. errors.Is against ErrVerificationRequired). May be nil
	// even on failure.
	Err error
	// Data is the raw response body for operations that return one.
	Data json.RawMessage
	// Redirect is the path the caller should navigate to, when the
	// operation implies navigation.
	Redirect string
}

func failure(msg string) Result {
	return Result{Error: msg}
}

// Config configures a Manager.
type Config struct {
	// Client is the HTTP client for the remote authentication API. Required.
	Client *httpclient.Client
	// Store persists the token pair across restarts. Required.
	Store credstore.Store
	// Provider is the federated identity provider. Optional; without it
	// LoginWithProvider fails.
	Provider idp.Provider
	// Logger is optional.
	Logger *logger.Logger
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Client == nil {
		return fmt.Errorf("session: client is required")
	}
	if c.Store == nil {
		return fmt.Errorf("session: store is required")
	}
	return nil
}

// Manager orchestrates the authentication session. It owns the persisted
// token pair and the in-memory identity; no other component mutates them.
type Manager struct {
	client   *httpclient.Client
	store    credstore.Store
	provider idp.Provider
	log      *logger.Logger
	now      func() time.Time

	mu        sync.RWMutex
	state     State
	identity  *Identity
	loading   bool
	federated bool

	settleOnce   sync.Once
	refreshGroup singleflight.Group
}

// New creates a Manager and registers its refresh operation as the
// client's reactive 401 handler.
func New(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("authkit")
	}
	m := &Manager{
		client:   cfg.Client,
		store:    cfg.Store,
		provider: cfg.Provider,
		log:      log.WithComponent("session"),
		now:      time.Now,
		state:    StateUnauthenticated,
		loading:  true,
	}
	m.client.SetRefresher(m.Refresh)
	return m, nil
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Loading reports whether the startup authentication check is still
// pending. It becomes false exactly once, when Start settles, and stays
// false for the life of the process.
func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

// Identity returns a copy of the current identity, or nil when not
// authenticated.
func (m *Manager) Identity() *Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return nil
	}
	cp := *m.identity
	return &cp
}

// tokenPairResponse is the body shape shared by login, federated login,
// and email verification.
type tokenPairResponse struct {
	Access  string    `json:"access"`
	Refresh string    `json:"refresh"`
	User    *Identity `json:"user"`
}

// Login authenticates with email and password. Logins for unverified
// accounts are rejected client-side even when the server issues tokens,
// and nothing is persisted for them.
func (m *Manager) Login(ctx context.Context, email, password string) Result {
	ctx, span := observability.StartSpan(ctx, observability.SpanLogin)
	defer span.End()
	prev := m.State()
	m.setState(StateAuthenticating)

	resp, err := m.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   loginEndpoint,
		Body:   map[string]string{"email": email, "password": password},
	})
	if err != nil {
		m.setState(prev)
		return Result{Error: errorMessage(err), Err: err}
	}

	var pair tokenPairResponse
	if err := json.Unmarshal(resp.Body, &pair); err != nil {
		m.setState(prev)
		return Result{Error: genericErrorMessage, Err: err}
	}
	claims, err := token.Decode(pair.Access)
	if err != nil {
		m.log.Warn("login response carried a malformed access token", map[string]interface{}{
			"error": err.Error(),
		})
		m.setState(prev)
		return Result{Error: genericErrorMessage, Err: err}
	}

	if !claims.IsVerified {
		// Roll back anything already persisted so an unverified login
		// can never survive a restart as a half-authenticated session.
		m.clearSession(StateUnauthenticated)
		return Result{
			Error: "Please verify your email address before logging in.",
			Err:   ErrVerificationRequired,
		}
	}

	m.establishSession(pair, claims, false)
	return Result{Success: true}
}

// LoginWithProvider signs in through the federated identity provider and
// exchanges the resulting identity token with the backend. Federated
// identities are treated as pre-verified; the verification gate does not
// apply.
func (m *Manager) LoginWithProvider(ctx context.Context) Result {
	if m.provider == nil {
		return failure("No identity provider is configured.")
	}
	ctx, span := observability.StartSpan(ctx, observability.SpanFederatedLogin)
	defer span.End()
	prev := m.State()
	m.setState(StateAuthenticating)

	fid, err := m.provider.SignIn(ctx)
	if err != nil {
		m.setState(prev)
		if errors.Is(err, idp.ErrClockSkew) {
			return Result{
				Error: "Sign-in failed because this device's clock is out of sync. Please correct the system time and try again.",
				Err:   err,
			}
		}
		return Result{Error: errorMessage(err), Err: err}
	}

	resp, err := m.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   federatedLoginEndpoint,
		Body: map[string]string{
			"idToken":     fid.IDToken,
			"displayName": fid.DisplayName,
			"photoURL":    fid.PhotoURL,
			"email":       fid.Email,
		},
	})
	if err != nil {
		m.setState(prev)
		return Result{Error: errorMessage(err), Err: err}
	}

	var pair tokenPairResponse
	if err := json.Unmarshal(resp.Body, &pair); err != nil {
		m.setState(prev)
		return Result{Error: genericErrorMessage, Err: err}
	}
	claims, err := token.Decode(pair.Access)
	if err != nil {
		m.setState(prev)
		return Result{Error: genericErrorMessage, Err: err}
	}

	m.establishSession(pair, claims, true)
	return Result{Success: true}
}

// Logout ends the session. The remote revocation and the provider
// sign-out are best effort; local credentials and identity are cleared
// unconditionally, last, on every path.
func (m *Manager) Logout(ctx context.Context) Result {
	ctx, span := observability.StartSpan(ctx, observability.SpanLogout)
	defer span.End()
	defer m.clearSession(StateUnauthenticated)

	refresh, err := m.store.Get(credstore.KeyRefreshToken)
	if err != nil {
		m.log.Warn("credential store unavailable during logout", map[string]interface{}{
			"error": err.Error(),
		})
		refresh = ""
	}
	if refresh != "" {
		if err := m.revokeRefreshToken(ctx, refresh); err != nil {
			m.log.Warn("remote logout failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	m.mu.RLock()
	federated := m.federated
	m.mu.RUnlock()
	if federated && m.provider != nil {
		if err := m.provider.SignOut(ctx); err != nil {
			m.log.Warn("identity provider sign-out failed", map[string]interface{}{
				"provider": m.provider.Name(),
				"error":    err.Error(),
			})
		}
	}

	return Result{Success: true, Redirect: LoginPath}
}

// revokeRefreshToken invalidates the refresh token server-side. The first
// attempt carries the current access token; when the server reports that
// bearer as invalid, the call is retried once without it so an expired
// access token never blocks the revocation.
func (m *Manager) revokeRefreshToken(ctx context.Context, refresh string) error {
	body := map[string]string{"refresh_token": refresh}

	auth := httpclient.NoAuth()
	if access, err := m.store.Get(credstore.KeyAccessToken); err == nil && access != "" {
		auth = httpclient.BearerAuth(access)
	}

	_, err := m.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   logoutEndpoint,
		Body:   body,
		Auth:   auth,
	})
	var httpErr *httpclient.Error
	if err != nil && errors.As(err, &httpErr) && httpErr.HasCode("token_not_valid") {
		_, err = m.client.Do(ctx, httpclient.Request{
			Method: http.MethodPost,
			Path:   logoutEndpoint,
			Body:   body,
			Auth:   httpclient.NoAuth(),
		})
	}
	return err
}

// RegistrationForm carries the registration fields. The avatar is
// optional; when present the submission is multipart.
type RegistrationForm struct {
	Email     string  `json:"email" validate:"required,email"`
	Username  string  `json:"username" validate:"required,min=3,max=30"`
	Password  string  `json:"password" validate:"required,min=8"`
	Password2 string  `json:"password2" validate:"required,eqfield=Password"`
	Avatar    *Avatar `json:"-"`
}

// Avatar is an optional profile image attached to a registration.
type Avatar struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Register creates a new account. It does not log the user in; email
// verification is a separate step. Form validation failures are rejected
// before any remote call.
func (m *Manager) Register(ctx context.Context, form RegistrationForm) Result {
	if err := validation.ValidateStruct(form); err != nil {
		return Result{Error: err.Error(), Err: err}
	}

	var body any = form
	if form.Avatar != nil {
		body = &httpclient.MultipartBody{
			Fields: map[string]string{
				"email":     form.Email,
				"username":  form.Username,
				"password":  form.Password,
				"password2": form.Password2,
			},
			Files: []httpclient.FileField{{
				FieldName:   "image",
				FileName:    form.Avatar.FileName,
				ContentType: form.Avatar.ContentType,
				Data:        form.Avatar.Data,
			}},
		}
	}

	resp, err := m.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   registerEndpoint,
		Body:   body,
	})
	if err != nil {
		return Result{Error: errorMessage(err), Err: err}
	}
	return Result{Success: true, Data: resp.Body}
}

// VerifyEmail submits the emailed verification code. When the response
// carries a fresh token pair the verification doubles as a login.
func (m *Manager) VerifyEmail(ctx context.Context, email, code string) bool {
	resp, err := m.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   verifyEmailEndpoint,
		Body:   map[string]string{"email": email, "code": code},
	})
	if err != nil {
		m.log.Debug("email verification failed", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}

	var pair tokenPairResponse
	if err := json.Unmarshal(resp.Body, &pair); err != nil {
		return true
	}
	if pair.Access != "" && pair.Refresh != "" {
		if claims, err := token.Decode(pair.Access); err == nil {
			m.establishSession(pair, claims, false)
		}
	}
	return true
}

// RequestPasswordReset asks the server to email a reset link. Does not
// touch session state.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) bool {
	_, err := m.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   requestResetEndpoint,
		Body:   map[string]string{"email": email},
	})
	if err != nil {
		m.log.Debug("password reset request failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return err == nil
}

// CheckResetToken verifies a reset link's uid/token pair before the user
// is shown the new-password form.
func (m *Manager) CheckResetToken(ctx context.Context, uidb64, resetToken string) Result {
	resp, err := m.client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf(checkResetEndpoint, uidb64, resetToken),
	})
	if err != nil {
		return Result{Error: errorMessage(err), Err: err}
	}

	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return Result{Error: genericErrorMessage, Err: err}
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "This reset link is no longer valid."
		}
		return failure(msg)
	}
	return Result{Success: true, Data: resp.Body}
}

// ResetPassword completes a password reset. The confirmation mismatch is
// the one failure rejected synchronously, before any remote call.
func (m *Manager) ResetPassword(ctx context.Context, uidb64, resetToken, password, confirm string) Result {
	if password != confirm {
		return failure("Passwords do not match.")
	}

	resp, err := m.client.Do(ctx, httpclient.Request{
		Method: http.MethodPatch,
		Path:   resetCompleteEndpoint,
		Body: map[string]string{
			"uidb64":    uidb64,
			"token":     resetToken,
			"password":  password,
			"password2": confirm,
		},
	})
	if err != nil {
		return Result{Error: errorMessage(err), Err: err}
	}

	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &out); err == nil && !out.Success && out.Error != "" {
		return failure(out.Error)
	}
	return Result{Success: true}
}

// Refresh exchanges the persisted refresh token for a new access token.
// Concurrent callers are coalesced into a single in-flight exchange. On
// rejection the session transitions to StateRefreshFailed and local
// credentials are cleared; the caller receives ErrRefreshRejected.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	v, err, _ := m.refreshGroup.Do("refresh", func() (interface{}, error) {
		return m.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanRefresh)
	defer span.End()

	refresh, err := m.store.Get(credstore.KeyRefreshToken)
	if err != nil {
		m.log.Warn("credential store unavailable during refresh", map[string]interface{}{
			"error": err.Error(),
		})
		refresh = ""
	}
	if refresh == "" {
		m.clearSession(StateRefreshFailed)
		return "", fmt.Errorf("%w: no refresh token", ErrRefreshRejected)
	}

	resp, err := m.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   refreshEndpoint,
		Body:   map[string]string{"refresh": refresh},
	})
	if err != nil {
		var httpErr *httpclient.Error
		if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
			// The refresh token is no longer valid. End the session
			// deterministically instead of leaving it ambiguous.
			m.clearSession(StateRefreshFailed)
			observability.SetSpanError(ctx, ErrRefreshRejected)
			return "", fmt.Errorf("%w: %s", ErrRefreshRejected, errorMessage(err))
		}
		// Transient transport failure keeps the session.
		return "", err
	}

	var out struct {
		Access string    `json:"access"`
		User   *Identity `json:"user"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil || out.Access == "" {
		m.clearSession(StateRefreshFailed)
		return "", fmt.Errorf("%w: no access token in response", ErrRefreshRejected)
	}

	if err := m.store.Set(credstore.KeyAccessToken, out.Access); err != nil {
		m.log.Warn("refreshed access token not persisted", map[string]interface{}{
			"error": err.Error(),
		})
	}

	id, err := m.fetchProfile(ctx, out.Access)
	if err != nil {
		id = out.User
		if id == nil {
			if claims, decodeErr := token.Decode(out.Access); decodeErr == nil {
				id = identityFromClaims(claims)
			}
		}
	}

	m.mu.Lock()
	if id != nil {
		m.identity = id
	}
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.log.Debug("access token refreshed", nil)
	return out.Access, nil
}

// Start performs the startup reconciliation: restore the session from a
// persisted token, refreshing it when expired. Loading settles to false
// exactly once, whichever path runs.
func (m *Manager) Start(ctx context.Context) {
	ctx, span := observability.StartSpan(ctx, observability.SpanStartup)
	defer span.End()
	defer m.settle()

	access, err := m.store.Get(credstore.KeyAccessToken)
	if err != nil {
		// Unavailable storage reads as "no credentials", never a crash.
		m.log.Warn("credential store unavailable, starting unauthenticated", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if access == "" {
		return
	}

	claims, err := token.Decode(access)
	if err != nil {
		m.log.Warn("discarding malformed persisted token", map[string]interface{}{
			"error": err.Error(),
		})
		m.clearSession(StateUnauthenticated)
		return
	}

	if claims.Expired(m.now()) {
		if _, err := m.Refresh(ctx); err != nil {
			m.log.Info("persisted session expired", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return
	}

	if m.Identity() != nil {
		return
	}
	id, err := m.fetchProfile(ctx, access)
	if err != nil {
		id = identityFromClaims(claims)
	}
	m.mu.Lock()
	m.identity = id
	m.state = StateAuthenticated
	m.mu.Unlock()
}

// settle flips loading to false. Runs at most once per Manager.
func (m *Manager) settle() {
	m.settleOnce.Do(func() {
		m.mu.Lock()
		m.loading = false
		m.mu.Unlock()
	})
}

// fetchProfile loads the user object from the profile endpoint, falling
// back to the legacy path when the deployment does not expose it.
func (m *Manager) fetchProfile(ctx context.Context, access string) (*Identity, error) {
	id, err := m.getProfile(ctx, profileEndpoint, access)
	if err != nil && httpclient.IsNotFound(err) {
		return m.getProfile(ctx, userEndpoint, access)
	}
	return id, err
}

func (m *Manager) getProfile(ctx context.Context, path, access string) (*Identity, error) {
	// Explicit bearer keeps the profile fetch out of the client's
	// automatic refresh-and-retry path.
	resp, err := m.client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   path,
		Auth:   httpclient.BearerAuth(access),
	})
	if err != nil {
		return nil, err
	}
	var id Identity
	if err := json.Unmarshal(resp.Body, &id); err != nil {
		return nil, fmt.Errorf("session: decode profile: %w", err)
	}
	return &id, nil
}

// establishSession persists the token pair and installs the identity.
func (m *Manager) establishSession(pair tokenPairResponse, claims *token.Claims, federated bool) {
	m.persistTokens(pair.Access, pair.Refresh)

	id := pair.User
	if id == nil {
		id = identityFromClaims(claims)
	}

	m.mu.Lock()
	m.identity = id
	m.state = StateAuthenticated
	m.federated = federated
	m.mu.Unlock()

	m.log.Info("session established", map[string]interface{}{
		logger.FieldUserID: id.ID,
		"federated":        federated,
	})
}

func (m *Manager) persistTokens(access, refresh string) {
	if err := m.store.Set(credstore.KeyAccessToken, access); err != nil {
		m.log.Warn("access token not persisted, session will not survive a restart", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if err := m.store.Set(credstore.KeyRefreshToken, refresh); err != nil {
		m.log.Warn("refresh token not persisted, session will not survive a restart", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// clearSession removes persisted credentials and in-memory identity,
// then sets the given state.
func (m *Manager) clearSession(next State) {
	m.clearCredentials()
	m.mu.Lock()
	m.identity = nil
	m.state = next
	m.federated = false
	m.mu.Unlock()
}

func (m *Manager) clearCredentials() {
	if err := m.store.Remove(credstore.KeyAccessToken); err != nil {
		m.log.Warn("failed to clear access token", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := m.store.Remove(credstore.KeyRefreshToken); err != nil {
		m.log.Warn("failed to clear refresh token", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// errorMessage converts a transport error into the user-facing message:
// the server's detail field when present, then the error's own message,
// then a generic fallback.
func errorMessage(err error) string {
	var httpErr *httpclient.Error
	if errors.As(err, &httpErr) {
		if detail := httpErr.Detail(); detail != "" {
			return detail
		}
		if httpErr.Message != "" {
			return httpErr.Message
		}
		return genericErrorMessage
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return genericErrorMessage
}
