package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"inkfolio/pkg/apierr"
	"inkfolio/pkg/client"
	"inkfolio/pkg/domain"
)

type fakeGateway struct {
	mu        sync.Mutex
	passwords map[string]string
	sessions  map[string]domain.User
	logoutErr error
	// gate, when set, blocks CurrentUser until closed.
	gate chan struct{}

	currentCalls atomic.Int32
	logoutCalls  atomic.Int32
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		passwords: map[string]string{"admin@example.com": "secret"},
		sessions:  map[string]domain.User{},
	}
}

func (g *fakeGateway) Login(_ context.Context, email, password string) (client.LoginResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.passwords[email] != password {
		return client.LoginResult{}, &apierr.Error{Kind: apierr.KindUnauthorized, Status: 401, Message: "invalid email or password"}
	}
	token := "tok-" + email + "-" + time.Now().Format("150405.000000000")
	user := domain.User{ID: "u-" + email, Email: email, Role: domain.RoleAdmin}
	g.sessions[token] = user
	return client.LoginResult{User: user, Session: domain.Session{AccessToken: token, TokenType: "bearer"}}, nil
}

func (g *fakeGateway) Logout(_ context.Context, token string) error {
	g.logoutCalls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, token)
	return g.logoutErr
}

func (g *fakeGateway) CurrentUser(ctx context.Context, token string) (domain.User, error) {
	g.currentCalls.Add(1)
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return domain.User{}, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	user, ok := g.sessions[token]
	if !ok {
		return domain.User{}, apierr.Unauthorized("unauthorized")
	}
	return user, nil
}

func (g *fakeGateway) revokeAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions = map[string]domain.User{}
}

func storedToken(t *testing.T, creds CredentialStore) string {
	t.Helper()
	token, _, err := creds.Load()
	if err != nil {
		t.Fatalf("load credentials: %v", err)
	}
	return token
}

func TestLoginPersistsAcrossManagers(t *testing.T) {
	gw := newFakeGateway()
	path := filepath.Join(t.TempDir(), "session.json")
	ctx := context.Background()

	first := NewManager(gw, NewFileCredentialStore(path))
	if err := first.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := first.Snapshot().State; got != StateAnonymous {
		t.Fatalf("expected anonymous without stored token, got %s", got)
	}
	user, err := first.Login(ctx, "admin@example.com", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	second := NewManager(gw, NewFileCredentialStore(path))
	if err := second.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	snap := second.Snapshot()
	if !snap.Authenticated() || snap.User.ID != user.ID {
		t.Fatalf("expected restored session for %s, got %+v", user.ID, snap)
	}
	if second.Token() != first.Token() {
		t.Fatalf("expected the same token to be restored")
	}
}

func TestConcurrentInitFetchesOnce(t *testing.T) {
	gw := newFakeGateway()
	res, _ := gw.Login(context.Background(), "admin@example.com", "secret")
	creds := NewMemoryCredentialStore()
	_ = creds.Save(res.Session.AccessToken)
	gw.gate = make(chan struct{})

	var transitions []State
	var mu sync.Mutex
	m := NewManager(gw, creds, WithOnChange(func(s Snapshot) {
		mu.Lock()
		transitions = append(transitions, s.State)
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Init(context.Background())
		}()
	}
	time.Sleep(20 * time.Millisecond)
	if got := m.Snapshot().State; got != StateInitializing {
		t.Fatalf("expected initializing while the fetch is pending, got %s", got)
	}
	close(gw.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("init: %v", err)
		}
	}

	if got := gw.currentCalls.Load(); got != 1 {
		t.Fatalf("expected one user fetch, got %d", got)
	}
	if !m.Snapshot().Authenticated() {
		t.Fatalf("expected authenticated, got %s", m.Snapshot().State)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || transitions[0] != StateInitializing || transitions[1] != StateAuthenticated {
		t.Fatalf("unexpected transitions %v", transitions)
	}
}

func TestInitGivesUpOnCallerContext(t *testing.T) {
	gw := newFakeGateway()
	gw.gate = make(chan struct{})
	creds := NewMemoryCredentialStore()
	_ = creds.Save("whatever")
	m := NewManager(gw, creds)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := m.Init(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	close(gw.gate)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("second init: %v", err)
	}
	if got := m.Snapshot().State; got != StateAnonymous {
		t.Fatalf("expected anonymous for unknown token, got %s", got)
	}
}

func TestInitDropsRejectedToken(t *testing.T) {
	gw := newFakeGateway()
	creds := NewMemoryCredentialStore()
	_ = creds.Save("stale")
	m := NewManager(gw, creds)

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := m.Snapshot().State; got != StateAnonymous {
		t.Fatalf("expected anonymous, got %s", got)
	}
	if token := storedToken(t, creds); token != "" {
		t.Fatalf("expected stored token to be cleared, got %q", token)
	}
}

func TestLoginDuringInitWins(t *testing.T) {
	gw := newFakeGateway()
	gw.gate = make(chan struct{})
	creds := NewMemoryCredentialStore()
	_ = creds.Save("stale")
	m := NewManager(gw, creds)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_ = m.Init(ctx)

	if _, err := m.Login(context.Background(), "admin@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	token := m.Token()
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init after login should not wait: %v", err)
	}

	close(gw.gate)
	<-m.initExit
	if !m.Snapshot().Authenticated() || m.Token() != token {
		t.Fatalf("stale restore overrode login: %+v", m.Snapshot())
	}
	if got := storedToken(t, creds); got != token {
		t.Fatalf("expected stored token %q, got %q", token, got)
	}
}

// pausingCredentialStore holds Save open after the write until resume is
// closed, leaving room for other transitions to land mid-persist.
type pausingCredentialStore struct {
	*MemoryCredentialStore
	saved  chan struct{}
	resume chan struct{}
	once   sync.Once
}

func (s *pausingCredentialStore) Save(token string) error {
	err := s.MemoryCredentialStore.Save(token)
	s.once.Do(func() {
		close(s.saved)
		<-s.resume
	})
	return err
}

func TestRejectedRestoreDoesNotClearConcurrentLogin(t *testing.T) {
	gw := newFakeGateway()
	gw.gate = make(chan struct{})
	creds := &pausingCredentialStore{
		MemoryCredentialStore: NewMemoryCredentialStore(),
		saved:                 make(chan struct{}),
		resume:                make(chan struct{}),
	}
	_ = creds.MemoryCredentialStore.Save("stale")
	m := NewManager(gw, creds)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_ = m.Init(ctx)

	loginErr := make(chan error, 1)
	go func() {
		_, err := m.Login(context.Background(), "admin@example.com", "secret")
		loginErr <- err
	}()
	<-creds.saved

	// The stale token is rejected while the new one is being persisted.
	close(gw.gate)
	select {
	case <-m.initExit:
	case <-time.After(50 * time.Millisecond):
	}
	close(creds.resume)

	if err := <-loginErr; err != nil {
		t.Fatalf("login: %v", err)
	}
	<-m.initExit
	token := m.Token()
	if !m.Snapshot().Authenticated() || token == "" {
		t.Fatalf("expected login to win, got %+v", m.Snapshot())
	}
	if got := storedToken(t, creds); got != token {
		t.Fatalf("expected stored token %q, got %q", token, got)
	}
}

func TestLoginFailureKeepsSession(t *testing.T) {
	gw := newFakeGateway()
	creds := NewMemoryCredentialStore()
	m := NewManager(gw, creds)
	ctx := context.Background()

	if _, err := m.Login(ctx, "admin@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	token := m.Token()

	_, err := m.Login(ctx, "admin@example.com", "wrong")
	if !apierr.Is(err, apierr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if !m.Snapshot().Authenticated() || m.Token() != token {
		t.Fatalf("failed login changed the session")
	}
	if got := storedToken(t, creds); got != token {
		t.Fatalf("failed login changed the stored token")
	}
}

func TestAuthorizedInvalidatesOnUnauthorized(t *testing.T) {
	gw := newFakeGateway()
	creds := NewMemoryCredentialStore()
	var last atomic.Value
	m := NewManager(gw, creds, WithOnChange(func(s Snapshot) { last.Store(s.State) }))
	ctx := context.Background()

	if _, err := m.Login(ctx, "admin@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	serverErr := apierr.Server("boom", nil)
	err := m.Authorized(ctx, func(context.Context, string) error { return serverErr })
	if !errors.Is(err, serverErr) {
		t.Fatalf("expected the server error back, got %v", err)
	}
	if !m.Snapshot().Authenticated() {
		t.Fatalf("a server error must not end the session")
	}

	var used string
	err = m.Authorized(ctx, func(_ context.Context, token string) error {
		used = token
		return apierr.Unauthorized("token expired")
	})
	if !apierr.Is(err, apierr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if used == "" {
		t.Fatalf("expected fn to receive the token")
	}
	if got := m.Snapshot().State; got != StateAnonymous {
		t.Fatalf("expected anonymous after rejection, got %s", got)
	}
	if got := last.Load(); got != StateAnonymous {
		t.Fatalf("expected anonymous notification, got %v", got)
	}
	if got := storedToken(t, creds); got != "" {
		t.Fatalf("expected stored token cleared, got %q", got)
	}

	err = m.Authorized(ctx, func(context.Context, string) error {
		t.Fatalf("fn must not run while anonymous")
		return nil
	})
	if !apierr.Is(err, apierr.KindUnauthorized) {
		t.Fatalf("expected unauthorized while anonymous, got %v", err)
	}
}

func TestRefresh(t *testing.T) {
	gw := newFakeGateway()
	m := NewManager(gw, NewMemoryCredentialStore())
	ctx := context.Background()
	if _, err := m.Login(ctx, "admin@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	snap, err := m.Refresh(ctx)
	if err != nil || !snap.Authenticated() {
		t.Fatalf("refresh: %+v err=%v", snap, err)
	}

	gw.revokeAll()
	snap, err = m.Refresh(ctx)
	if !apierr.Is(err, apierr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if snap.State != StateAnonymous {
		t.Fatalf("expected anonymous after revoked refresh, got %s", snap.State)
	}
}

func TestLogoutIsBestEffort(t *testing.T) {
	gw := newFakeGateway()
	gw.logoutErr = apierr.Transport(errors.New("connection refused"))
	creds := NewMemoryCredentialStore()
	m := NewManager(gw, creds)
	ctx := context.Background()
	if _, err := m.Login(ctx, "admin@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if gw.logoutCalls.Load() != 1 {
		t.Fatalf("expected one remote logout")
	}
	if got := m.Snapshot().State; got != StateAnonymous {
		t.Fatalf("expected anonymous, got %s", got)
	}
	if m.Token() != "" || storedToken(t, creds) != "" {
		t.Fatalf("expected token to be forgotten")
	}

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if gw.logoutCalls.Load() != 1 {
		t.Fatalf("logout without a token should not call the API")
	}
}

func TestFileCredentialStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	s := NewFileCredentialStore(path)

	if _, ok, err := s.Load(); err != nil || ok {
		t.Fatalf("expected empty store, ok=%v err=%v", ok, err)
	}
	if theme, err := s.Theme(); err != nil || theme != ThemeNordic {
		t.Fatalf("expected default theme, got %q err=%v", theme, err)
	}
	if err := s.SetTheme(ThemeVintage); err != nil {
		t.Fatalf("set theme: %v", err)
	}
	if err := s.SetTheme("neon"); err == nil {
		t.Fatalf("expected unknown theme to be rejected")
	}
	if err := s.Save("abc"); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600, got %o", perm)
	}

	reopened := NewFileCredentialStore(path)
	if token, ok, err := reopened.Load(); err != nil || !ok || token != "abc" {
		t.Fatalf("expected stored token, got %q ok=%v err=%v", token, ok, err)
	}
	if err := reopened.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := reopened.Load(); ok {
		t.Fatalf("expected token to be cleared")
	}
	if theme, _ := reopened.Theme(); theme != ThemeVintage {
		t.Fatalf("clear should keep the theme, got %q", theme)
	}
}

func TestFileCredentialStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := NewFileCredentialStore(path).Load(); err == nil {
		t.Fatalf("expected parse error")
	}

	m := NewManager(newFakeGateway(), NewFileCredentialStore(path))
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := m.Snapshot().State; got != StateAnonymous {
		t.Fatalf("unreadable credentials should leave the session anonymous, got %s", got)
	}
}
