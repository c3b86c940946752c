package session

// Decision is what a route guard tells the page to do.
type Decision int

const (
	// GuardPending means hydration has not finished: render a placeholder and
	// do not redirect yet.
	GuardPending Decision = iota
	// GuardAllow means the user is signed in.
	GuardAllow
	// GuardRedirect means the user is anonymous and must go to the sign-in page.
	GuardRedirect
)

func (d Decision) String() string {
	switch d {
	case GuardPending:
		return "pending"
	case GuardAllow:
		return "allow"
	case GuardRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Guard evaluates an authenticated route against the current session. The
// returned path is set only for GuardRedirect.
func (m *Manager) Guard() (Decision, string) {
	snap := m.Snapshot()
	switch {
	case snap.Loading:
		return GuardPending, ""
	case snap.State == Authenticated:
		return GuardAllow, ""
	default:
		return GuardRedirect, m.signInPath
	}
}

// RequireAuth runs onAllow when the guard allows the route and navigates to
// the sign-in page when it redirects. It reports whether onAllow ran.
func (m *Manager) RequireAuth(onAllow func()) bool {
	decision, path := m.Guard()
	switch decision {
	case GuardAllow:
		if onAllow != nil {
			onAllow()
		}
		return true
	case GuardRedirect:
		m.navigator.Navigate(path)
	}
	return false
}
