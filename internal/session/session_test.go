package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/klinners/klinners_web/internal/apiclient"
	"github.com/klinners/klinners_web/internal/auth"
	"github.com/klinners/klinners_web/internal/identity"
	"github.com/klinners/klinners_web/internal/logging"
	"github.com/klinners/klinners_web/internal/obs"
	"github.com/klinners/klinners_web/internal/storage"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) Navigate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.paths) == 0 {
		return ""
	}
	return r.paths[len(r.paths)-1]
}

type fixture struct {
	manager *Manager
	tokens  *storage.Tokens
	nav     *recorder
	reg     *prometheus.Registry
}

// newFixture wires the real client stack against handler, the way cmd/klinctl
// does, including the unauthorized hook.
func newFixture(t *testing.T, handler http.HandlerFunc, backend storage.Backend) fixture {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	if backend == nil {
		backend = storage.NewMemory()
	}
	tokens := storage.NewTokens(backend, logging.Discard())
	reg := prometheus.NewRegistry()
	metrics := obs.New(reg)
	client := apiclient.New(srv.URL, tokens, apiclient.WithLogger(logging.Discard()), apiclient.WithMetrics(metrics))
	svc := auth.NewService(client, tokens, logging.Discard())
	nav := &recorder{}
	m := New(svc, tokens, WithNavigator(nav), WithLogger(logging.Discard()), WithMetrics(metrics))
	client.SetUnauthorizedHook(m.HandleUnauthorized)
	return fixture{manager: m, tokens: tokens, nav: nav, reg: reg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func mockAPI(userInfo func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case auth.PathLogin:
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"token": "T1", "firstName": "A"}})
		case auth.PathUserInfo:
			userInfo(w, r)
		default:
			http.NotFound(w, r)
		}
	}
}

func TestLoginAgainstMockAPI(t *testing.T) {
	f := newFixture(t, mockAPI(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer T1" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"firstName": "A", "email": "a@b.com"}})
	}), nil)
	ctx := context.Background()
	if err := f.manager.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	res, err := f.manager.Login(ctx, "a@b.com", "x")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !res.Success {
		t.Fatalf("login failed: %q", res.Message)
	}
	if token, _ := f.tokens.Token(ctx); token != "T1" {
		t.Fatalf("stored token = %q, want T1", token)
	}
	if !f.manager.IsAuthenticated() {
		t.Fatalf("session not authenticated")
	}
	user := f.manager.User()
	if user.FirstName() != "A" {
		t.Fatalf("user firstName = %q", user.FirstName())
	}
	if user.Email() != "a@b.com" {
		t.Fatalf("user-info was not merged: %v", user)
	}
	stored, _ := f.tokens.UserData(ctx)
	if stored.Email() != "a@b.com" {
		t.Fatalf("merged user not persisted: %v", stored)
	}
}

func TestLoginKeepsSessionWhenUserInfoFails(t *testing.T) {
	f := newFixture(t, mockAPI(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false})
	}), nil)
	ctx := context.Background()

	res, err := f.manager.Login(ctx, "a@b.com", "x")
	if err != nil || !res.Success {
		t.Fatalf("login: %+v %v", res, err)
	}
	if !f.manager.IsAuthenticated() || f.manager.User().FirstName() != "A" {
		t.Fatalf("snapshot = %+v", f.manager.Snapshot())
	}
}

func TestLoginFailureStaysAnonymous(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid email or password"})
	}, nil)
	ctx := context.Background()
	_ = f.manager.Init(ctx)

	res, err := f.manager.Login(ctx, "a@b.com", "bad")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Success || res.Message != "Invalid email or password" {
		t.Fatalf("result = %+v", res)
	}
	if f.manager.IsAuthenticated() {
		t.Fatalf("failed login authenticated the session")
	}
	if f.nav.last() != "" {
		t.Fatalf("unauthenticated 401 navigated to %q", f.nav.last())
	}
}

func TestInitHydratesAndIsIdempotent(t *testing.T) {
	backend := storage.NewMemory()
	f := newFixture(t, http.NotFound, backend)
	ctx := context.Background()
	_ = f.tokens.SaveToken(ctx, "T1")
	_ = f.tokens.SaveUserData(ctx, identity.User{"firstName": "A", "id": "u1"})

	if !f.manager.Loading() {
		t.Fatalf("loading should be true before Init")
	}
	if f.manager.IsAuthenticated() {
		t.Fatalf("authenticated before Init")
	}
	if d, _ := f.manager.Guard(); d != GuardPending {
		t.Fatalf("guard before Init = %s", d)
	}

	if err := f.manager.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	first := f.manager.Snapshot()
	if err := f.manager.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	second := f.manager.Snapshot()

	if first.State != Authenticated || second.State != Authenticated {
		t.Fatalf("states %s %s", first.State, second.State)
	}
	if first.Loading || second.Loading {
		t.Fatalf("still loading after Init")
	}
	if first.User.String("name") != "A" || second.User.String("name") != "A" {
		t.Fatalf("display name not derived: %v", second.User)
	}
	if first.User.ID() != second.User.ID() {
		t.Fatalf("hydration not idempotent")
	}
}

func TestInitWithoutTokenIsAnonymous(t *testing.T) {
	f := newFixture(t, http.NotFound, nil)
	ctx := context.Background()
	// A cached user without a token does not make a session.
	_ = f.tokens.SaveUserData(ctx, identity.User{"firstName": "A"})

	_ = f.manager.Init(ctx)
	if f.manager.State() != Anonymous || f.manager.User() != nil {
		t.Fatalf("snapshot = %+v", f.manager.Snapshot())
	}
	if d, path := f.manager.Guard(); d != GuardRedirect || path != "/auth/signin" {
		t.Fatalf("guard = %s %q", d, path)
	}
}

func TestInitTokenWithoutUserUsesGuest(t *testing.T) {
	f := newFixture(t, http.NotFound, nil)
	ctx := context.Background()
	_ = f.tokens.SaveToken(ctx, "T1")

	_ = f.manager.Init(ctx)
	if !f.manager.IsAuthenticated() {
		t.Fatalf("token alone should authenticate")
	}
	if got := f.manager.User().String("name"); got != "Guest" {
		t.Fatalf("name = %q, want Guest", got)
	}
}

func TestLogoutClearsAndNavigates(t *testing.T) {
	f := newFixture(t, mockAPI(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{}})
	}), nil)
	ctx := context.Background()
	_ = f.manager.Init(ctx)
	if _, err := f.manager.Login(ctx, "a@b.com", "x"); err != nil {
		t.Fatalf("login: %v", err)
	}

	f.manager.Logout(ctx)

	if f.manager.IsAuthenticated() || f.manager.User() != nil {
		t.Fatalf("snapshot after logout = %+v", f.manager.Snapshot())
	}
	if token, _ := f.tokens.Token(ctx); token != "" {
		t.Fatalf("token kept: %q", token)
	}
	if user, _ := f.tokens.UserData(ctx); user != nil {
		t.Fatalf("user kept: %v", user)
	}
	if f.nav.last() != "/auth/signin" {
		t.Fatalf("navigated to %q", f.nav.last())
	}
	// anonymous/hydrate, authenticated/login, anonymous/logout
	if n, err := testutil.GatherAndCount(f.reg, "klinners_session_transitions_total"); err != nil || n != 3 {
		t.Fatalf("transition series = %d (%v)", n, err)
	}
}

func TestUnauthorizedForcesLogout(t *testing.T) {
	var mu sync.Mutex
	allow := true
	f := newFixture(t, mockAPI(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ok := allow
		mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "token invalidated"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"lastName": "B"}})
	}), nil)
	ctx := context.Background()
	_ = f.manager.Init(ctx)
	if res, err := f.manager.Login(ctx, "a@b.com", "x"); err != nil || !res.Success {
		t.Fatalf("login: %+v %v", res, err)
	}

	mu.Lock()
	allow = false
	mu.Unlock()

	res, err := f.manager.RefreshUser(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.Success || !res.Unauthorized() {
		t.Fatalf("refresh result = %+v", res)
	}
	if f.manager.IsAuthenticated() {
		t.Fatalf("session survived a 401")
	}
	if token, _ := f.tokens.Token(ctx); token != "" {
		t.Fatalf("token kept after 401: %q", token)
	}
	if f.nav.last() != "/auth/signin" {
		t.Fatalf("navigated to %q", f.nav.last())
	}
}

func TestUnauthorizedUserInfoDuringLogin(t *testing.T) {
	f := newFixture(t, mockAPI(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false})
	}), nil)
	ctx := context.Background()
	_ = f.manager.Init(ctx)

	res, err := f.manager.Login(ctx, "a@b.com", "x")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Success {
		t.Fatalf("login reported success after forced logout")
	}
	if f.manager.IsAuthenticated() {
		t.Fatalf("session authenticated after forced logout")
	}
}

func TestRefreshUserMerges(t *testing.T) {
	f := newFixture(t, mockAPI(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"lastName": "B", "image": "/img.png"}})
	}), nil)
	ctx := context.Background()
	_ = f.manager.Init(ctx)
	_, _ = f.manager.Login(ctx, "a@b.com", "x")

	res, err := f.manager.RefreshUser(ctx)
	if err != nil || !res.Success {
		t.Fatalf("refresh: %+v %v", res, err)
	}
	user := f.manager.User()
	if user.FirstName() != "A" || user.LastName() != "B" || user.Image() != "/img.png" {
		t.Fatalf("merge lost fields: %v", user)
	}
}

func TestUpdateUserIgnoredWhenAnonymous(t *testing.T) {
	f := newFixture(t, http.NotFound, nil)
	ctx := context.Background()
	_ = f.manager.Init(ctx)
	f.manager.UpdateUser(ctx, identity.User{"firstName": "X"})
	if f.manager.User() != nil {
		t.Fatalf("anonymous session gained a user")
	}
}

func TestGuardAndRequireAuth(t *testing.T) {
	f := newFixture(t, mockAPI(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{}})
	}), nil)
	ctx := context.Background()

	ran := false
	if f.manager.RequireAuth(func() { ran = true }) || ran {
		t.Fatalf("guard allowed before hydration")
	}
	if f.nav.last() != "" {
		t.Fatalf("pending guard navigated")
	}

	_ = f.manager.Init(ctx)
	if f.manager.RequireAuth(func() { ran = true }) || ran {
		t.Fatalf("anonymous user allowed")
	}
	if f.nav.last() != "/auth/signin" {
		t.Fatalf("redirect target = %q", f.nav.last())
	}

	_, _ = f.manager.Login(ctx, "a@b.com", "x")
	if !f.manager.RequireAuth(func() { ran = true }) || !ran {
		t.Fatalf("authenticated user denied")
	}
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, http.NotFound, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var states []State
	cancel := f.manager.Subscribe(func(s Snapshot) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})
	_ = f.manager.Init(ctx)
	cancel()
	f.manager.Logout(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 1 || states[0] != Anonymous {
		t.Fatalf("states = %v", states)
	}
}

func TestSignInPathOption(t *testing.T) {
	m := New(nil, storage.NewTokens(nil, nil), WithSignInPath("/login"))
	if m.SignInPath() != "/login" {
		t.Fatalf("sign-in path = %q", m.SignInPath())
	}
	if New(nil, storage.NewTokens(nil, nil), WithSignInPath("")).SignInPath() != "/auth/signin" {
		t.Fatalf("empty option overrode the default")
	}
}

func TestLoginOvertakenByLogoutIsDiscarded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != auth.PathLogin {
			http.NotFound(w, r)
			return
		}
		close(entered)
		<-release
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"token": "T1", "firstName": "A"}})
	}, nil)
	ctx := context.Background()
	if err := f.manager.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	type outcome struct {
		res auth.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.manager.Login(ctx, "a@b.com", "x")
		done <- outcome{res, err}
	}()

	<-entered
	f.manager.Logout(ctx)
	close(release)
	got := <-done

	if got.err != nil {
		t.Fatalf("login: %v", got.err)
	}
	if got.res.Success || !errors.Is(got.res.Err, ErrLoginSuperseded) {
		t.Fatalf("stale login result = %+v", got.res)
	}
	if f.manager.IsAuthenticated() {
		t.Fatalf("stale login re-authenticated the session")
	}
	if token, _ := f.tokens.Token(ctx); token != "" {
		t.Fatalf("stale login left token %q", token)
	}
}
