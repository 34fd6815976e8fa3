package session

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

// authenticate logs a user in whose server-side user object carries the
// given verification flag. The token claims are always verified so the
// login gate does not interfere.
func authenticate(t *testing.T, verified bool) *Manager {
	t.Helper()
	access := accessToken(t, true, time.Now().Add(time.Hour))
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access": access, "refresh": "refresh-1",
			"user": map[string]any{
				"id": 7, "username": "alice", "is_verified": verified,
			},
		})
	})
	m, _ := newTestManager(t, handler, nil)
	m.Start(context.Background())
	if res := m.Login(context.Background(), "alice@example.com", "pw"); !res.Success {
		t.Fatalf("Login() = %+v", res)
	}
	return m
}

func TestAuthGuard_PendingWhileLoading(t *testing.T) {
	m, _ := newTestManager(t, http.NotFoundHandler(), nil)

	if got := AuthGuard(false)(m); got.Decision != DecisionPending {
		t.Errorf("AuthGuard while loading = %+v, want pending", got)
	}
	if got := AnonGuard()(m); got.Decision != DecisionPending {
		t.Errorf("AnonGuard while loading = %+v, want pending", got)
	}
}

func TestAuthGuard_RedirectsAnonymousToLogin(t *testing.T) {
	m, _ := newTestManager(t, http.NotFoundHandler(), nil)
	m.Start(context.Background())

	got := AuthGuard(false)(m)
	if got.Decision != DecisionRedirect || got.Redirect != LoginPath {
		t.Errorf("AuthGuard = %+v, want redirect to %s", got, LoginPath)
	}
}

func TestAuthGuard_AllowsAuthenticated(t *testing.T) {
	m := authenticate(t, true)

	if got := AuthGuard(false)(m); got.Decision != DecisionAllow {
		t.Errorf("AuthGuard = %+v, want allow", got)
	}
	if got := AuthGuard(true)(m); got.Decision != DecisionAllow {
		t.Errorf("AuthGuard(requireVerified) = %+v, want allow", got)
	}
}

func TestAuthGuard_RedirectsUnverified(t *testing.T) {
	m := authenticate(t, false)

	// Without the verified requirement the user is admitted.
	if got := AuthGuard(false)(m); got.Decision != DecisionAllow {
		t.Errorf("AuthGuard(false) = %+v, want allow", got)
	}
	got := AuthGuard(true)(m)
	if got.Decision != DecisionRedirect || got.Redirect != VerifyEmailPath {
		t.Errorf("AuthGuard(true) = %+v, want redirect to %s", got, VerifyEmailPath)
	}
}

func TestAnonGuard(t *testing.T) {
	anon, _ := newTestManager(t, http.NotFoundHandler(), nil)
	anon.Start(context.Background())
	if got := AnonGuard()(anon); got.Decision != DecisionAllow {
		t.Errorf("AnonGuard anonymous = %+v, want allow", got)
	}

	authed := authenticate(t, true)
	got := AnonGuard()(authed)
	if got.Decision != DecisionRedirect || got.Redirect != HomePath {
		t.Errorf("AnonGuard authenticated = %+v, want redirect home", got)
	}
}
