package session

// Navigation entry points used by guards and logout.
const (
	// LoginPath is the anonymous login entry point.
	LoginPath = "/login"
	// VerifyEmailPath is where unverified users are sent.
	VerifyEmailPath = "/verify-email"
	// HomePath is where authenticated users land.
	HomePath = "/"
)

// Decision is a guard's verdict for the current navigation attempt.
type Decision int

const (
	// DecisionPending means the startup check has not settled yet;
	// render a neutral pending state.
	DecisionPending Decision = iota
	// DecisionAllow admits the guarded content.
	DecisionAllow
	// DecisionRedirect sends the user elsewhere.
	DecisionRedirect
)

// GuardResult is a guard's decision plus the redirect target when the
// decision is DecisionRedirect.
type GuardResult struct {
	Decision Decision
	Redirect string
}

// Guard evaluates session state into a navigation decision. Guards are
// re-evaluated whenever session state changes.
type Guard func(m *Manager) GuardResult

// AuthGuard admits authenticated users. With requireVerified, unverified
// users are redirected to the verification page instead.
func AuthGuard(requireVerified bool) Guard {
	return func(m *Manager) GuardResult {
		if m.Loading() {
			return GuardResult{Decision: DecisionPending}
		}
		id := m.Identity()
		if id == nil {
			return GuardResult{Decision: DecisionRedirect, Redirect: LoginPath}
		}
		if requireVerified && !id.IsVerified {
			return GuardResult{Decision: DecisionRedirect, Redirect: VerifyEmailPath}
		}
		return GuardResult{Decision: DecisionAllow}
	}
}

// AnonGuard admits only anonymous users; authenticated ones are sent home.
func AnonGuard() Guard {
	return func(m *Manager) GuardResult {
		if m.Loading() {
			return GuardResult{Decision: DecisionPending}
		}
		if m.Identity() != nil {
			return GuardResult{Decision: DecisionRedirect, Redirect: HomePath}
		}
		return GuardResult{Decision: DecisionAllow}
	}
}
