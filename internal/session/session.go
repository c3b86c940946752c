// Package session holds the client-wide authentication state: who is signed
// in, whether startup hydration has finished, and the transitions between
// signed-in and anonymous. One Manager is built per process and handed to
// every consumer.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/klinners/klinners_web/internal/auth"
	"github.com/klinners/klinners_web/internal/identity"
	"github.com/klinners/klinners_web/internal/logging"
	"github.com/klinners/klinners_web/internal/obs"
	"github.com/klinners/klinners_web/internal/storage"
)

// State is the session lifecycle position.
type State int

const (
	Uninitialized State = iota
	Hydrating
	Authenticated
	Anonymous
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Hydrating:
		return "hydrating"
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

const defaultSignInPath = "/auth/signin"

// ErrLoginSuperseded marks a login whose result arrived after the session was
// signed out. The result is discarded.
var ErrLoginSuperseded = errors.New("session: signed out while login was in flight")

// Snapshot is a read-only copy of the session.
type Snapshot struct {
	State   State
	User    identity.User
	Loading bool
}

// Authenticator is the subset of auth.Service the manager drives.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (auth.Result, error)
	Register(ctx context.Context, reg identity.Registration) (auth.Result, error)
	FetchUserInfo(ctx context.Context) (auth.Result, error)
	Logout(ctx context.Context)
}

// Navigator moves the UI to another entry point, e.g. the sign-in page.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// Manager owns the session state machine.
type Manager struct {
	auth       Authenticator
	tokens     *storage.Tokens
	navigator  Navigator
	logger     *slog.Logger
	metrics    *obs.Metrics
	signInPath string

	mu          sync.RWMutex
	state       State
	user        identity.User
	subscribers map[int]func(Snapshot)
	nextSubID   int
	// signOuts counts transitions to Anonymous. A login that started before
	// the latest one is stale.
	signOuts uint64
}

// Option configures a Manager.
type Option func(*Manager)

func WithNavigator(n Navigator) Option {
	return func(m *Manager) { m.navigator = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logging.Component(logger, "session") }
}

func WithMetrics(metrics *obs.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithSignInPath sets where logouts and expired sessions redirect to.
func WithSignInPath(path string) Option {
	return func(m *Manager) {
		if path != "" {
			m.signInPath = path
		}
	}
}

// New builds a Manager in the Uninitialized state. Call Init before routing.
func New(authn Authenticator, tokens *storage.Tokens, opts ...Option) *Manager {
	m := &Manager{
		auth:        authn,
		tokens:      tokens,
		navigator:   NavigatorFunc(func(string) {}),
		logger:      logging.Component(nil, "session"),
		signInPath:  defaultSignInPath,
		subscribers: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SignInPath reports the redirect target for signed-out users.
func (m *Manager) SignInPath() string { return m.signInPath }

// Init hydrates the session from persistence. It is idempotent: running it
// again without an intervening login or logout yields the same state.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	m.state = Hydrating
	m.mu.Unlock()

	token, err := m.tokens.Token(ctx)
	if err != nil {
		m.logger.Error("hydrate token", slog.Any("error", err))
		m.transition(Anonymous, nil, "hydrate")
		return err
	}
	if token == "" {
		m.transition(Anonymous, nil, "hydrate")
		return nil
	}

	user, err := m.tokens.UserData(ctx)
	if err != nil {
		m.logger.Warn("hydrate user data", slog.Any("error", err))
	}
	m.transition(Authenticated, user.WithDisplayName(), "hydrate")
	return nil
}

// Snapshot returns the current session. Safe before Init.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) State() State { return m.Snapshot().State }

// User returns a copy of the signed-in user, nil when anonymous.
func (m *Manager) User() identity.User { return m.Snapshot().User }

// Loading is true until hydration has completed.
func (m *Manager) Loading() bool { return m.Snapshot().Loading }

// IsAuthenticated never blocks on hydration; before Init it reports false.
func (m *Manager) IsAuthenticated() bool { return m.State() == Authenticated }

// Login signs in and, on success, enriches the stored user with the full
// user-info record. A failed enrichment keeps the login.
func (m *Manager) Login(ctx context.Context, email, password string) (auth.Result, error) {
	m.mu.RLock()
	since := m.signOuts
	m.mu.RUnlock()

	res, err := m.auth.Login(ctx, email, password)
	if err != nil {
		return withFallback(res, "An error occurred during login"), err
	}
	if !res.Success {
		return withFallback(res, "Login failed"), nil
	}

	user, err := m.tokens.UserData(ctx)
	if err != nil || user == nil {
		user = res.User
	}
	if !m.transitionIf(since, Authenticated, user.WithDisplayName(), "login") {
		m.logger.Info("discarding login that finished after sign-out")
		if !m.IsAuthenticated() {
			m.auth.Logout(ctx)
		}
		return auth.Result{Message: "Login cancelled", Err: ErrLoginSuperseded}, nil
	}

	if info, err := m.auth.FetchUserInfo(ctx); err != nil {
		m.logger.Warn("fetch user info after login", slog.Any("error", err))
	} else if info.Success && info.User != nil {
		m.mergeUser(ctx, info.User)
	} else if info.Unauthorized() {
		return auth.Result{Message: info.Message, Err: info.Err}, nil
	}

	res.User = m.User()
	return res, nil
}

// Register passes through to the auth service; the session stays anonymous
// until the account is activated and logged in.
func (m *Manager) Register(ctx context.Context, reg identity.Registration) (auth.Result, error) {
	res, err := m.auth.Register(ctx, reg)
	if err != nil {
		return withFallback(res, "Registration failed"), err
	}
	return withFallback(res, "Registration failed"), nil
}

// Logout always succeeds locally: persistence is cleared, the user is
// dropped and the UI is sent to the sign-in page.
func (m *Manager) Logout(ctx context.Context) {
	m.auth.Logout(ctx)
	m.transition(Anonymous, nil, "logout")
	m.navigator.Navigate(m.signInPath)
}

// HandleUnauthorized reacts to a 401 from an authenticated call by forcing a
// logout. It is registered as the API client's unauthorized hook.
func (m *Manager) HandleUnauthorized(ctx context.Context) {
	m.logger.Info("session rejected by server, signing out")
	m.auth.Logout(ctx)
	m.transition(Anonymous, nil, "unauthorized")
	m.navigator.Navigate(m.signInPath)
}

// RefreshUser re-reads user-info and shallow-merges it into the session.
func (m *Manager) RefreshUser(ctx context.Context) (auth.Result, error) {
	res, err := m.auth.FetchUserInfo(ctx)
	if err != nil || !res.Success {
		return res, err
	}
	if res.User != nil && m.IsAuthenticated() {
		m.mergeUser(ctx, res.User)
	}
	res.User = m.User()
	return res, nil
}

// UpdateUser merges a partial record returned by a profile edit.
func (m *Manager) UpdateUser(ctx context.Context, partial identity.User) {
	if partial == nil || !m.IsAuthenticated() {
		return
	}
	m.mergeUser(ctx, partial)
}

// Subscribe registers fn for every state change and returns the cancel func.
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

func (m *Manager) mergeUser(ctx context.Context, partial identity.User) {
	m.mu.Lock()
	if m.state != Authenticated {
		m.mu.Unlock()
		return
	}
	m.user = m.user.Merge(partial)
	merged := m.user.Clone()
	snap := m.snapshotLocked()
	subs := m.subscribersLocked()
	m.mu.Unlock()

	if err := m.tokens.SaveUserData(ctx, merged); err != nil {
		m.logger.Warn("persist merged user", slog.Any("error", err))
	}
	notify(subs, snap)
}

func (m *Manager) transition(state State, user identity.User, cause string) {
	m.mu.Lock()
	m.commitLocked(state, user, cause)
}

// transitionIf applies the transition only if no sign-out happened since the
// caller read signOuts.
func (m *Manager) transitionIf(since uint64, state State, user identity.User, cause string) bool {
	m.mu.Lock()
	if m.signOuts != since {
		m.mu.Unlock()
		return false
	}
	m.commitLocked(state, user, cause)
	return true
}

// commitLocked applies the transition and releases mu before notifying.
func (m *Manager) commitLocked(state State, user identity.User, cause string) {
	prev := m.state
	m.state = state
	m.user = user.Clone()
	if state == Anonymous {
		m.signOuts++
	}
	snap := m.snapshotLocked()
	subs := m.subscribersLocked()
	m.mu.Unlock()

	m.metrics.SessionTransition(state.String(), cause)
	m.logger.Debug("session transition",
		slog.String("from", prev.String()),
		slog.String("to", state.String()),
		slog.String("cause", cause),
	)
	notify(subs, snap)
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		State:   m.state,
		User:    m.user.Clone(),
		Loading: m.state == Uninitialized || m.state == Hydrating,
	}
}

func (m *Manager) subscribersLocked() []func(Snapshot) {
	subs := make([]func(Snapshot), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

func withFallback(res auth.Result, fallback string) auth.Result {
	if !res.Success && res.Message == "" {
		res.Message = fallback
	}
	return res
}
