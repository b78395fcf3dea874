// Package session tracks who is signed in on the client side. A Manager
// restores the persisted token once, exposes the current snapshot and drops
// back to anonymous as soon as the API rejects the token.
package session

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"inkfolio/pkg/apierr"
	"inkfolio/pkg/client"
	"inkfolio/pkg/domain"
)

// State is the lifecycle position of a Manager.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent view of the session. User is zero unless State
// is StateAuthenticated.
type Snapshot struct {
	State State
	User  domain.User
}

func (s Snapshot) Authenticated() bool { return s.State == StateAuthenticated }

// Gateway is the slice of the API the manager needs. *client.Client
// satisfies it.
type Gateway interface {
	Login(ctx context.Context, email, password string) (client.LoginResult, error)
	Logout(ctx context.Context, token string) error
	CurrentUser(ctx context.Context, token string) (domain.User, error)
}

var _ Gateway = (*client.Client)(nil)

// Option customizes a Manager.
type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithOnChange registers fn to receive every state transition. fn runs
// outside the manager's lock and may call back into it.
func WithOnChange(fn func(Snapshot)) Option {
	return func(m *Manager) { m.onChange = fn }
}

// Manager owns the client-side session. It is safe for concurrent use.
type Manager struct {
	gw       Gateway
	creds    CredentialStore
	logger   *slog.Logger
	onChange func(Snapshot)

	mu    sync.Mutex
	state State
	user  domain.User
	token string
	// gen increments on every transition caused by login, logout or
	// invalidation; results computed under an older gen are dropped.
	gen uint64

	// persistMu orders credential writes after the transition they belong
	// to. It is taken before mu, never while holding it.
	persistMu sync.Mutex

	initOnce  sync.Once
	doneOnce  sync.Once
	initDone  chan struct{}
	initExit  chan struct{}
	refreshes singleflight.Group
}

func NewManager(gw Gateway, creds CredentialStore, opts ...Option) *Manager {
	m := &Manager{
		gw:       gw,
		creds:    creds,
		logger:   slog.Default(),
		initDone: make(chan struct{}),
		initExit: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns the current state and user.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Token returns the bearer token, or "" unless authenticated.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAuthenticated {
		return ""
	}
	return m.token
}

// Init restores the persisted session. Only the first call does any work;
// every call waits until the session is settled or ctx is done. The restore
// itself is not bound to ctx, so an impatient caller does not abort it for
// the others.
func (m *Manager) Init(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.mu.Lock()
		m.state = StateInitializing
		gen := m.gen
		snap := m.snapshotLocked()
		m.mu.Unlock()
		m.notify(snap)
		go m.restore(context.WithoutCancel(ctx), gen)
	})
	select {
	case <-m.initDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) restore(ctx context.Context, gen uint64) {
	defer close(m.initExit)
	defer m.markInitDone()

	token, ok, err := m.creds.Load()
	if err != nil {
		m.logger.Warn("load stored session failed", "err", err)
		ok = false
	}
	if !ok {
		m.apply(gen, StateAnonymous, "", domain.User{}, false)
		return
	}
	user, err := m.gw.CurrentUser(ctx, token)
	if err != nil {
		m.logger.Info("stored session rejected", "err", err)
		m.apply(gen, StateAnonymous, "", domain.User{}, true)
		return
	}
	m.apply(gen, StateAuthenticated, token, user, false)
}

// Login signs in and persists the token. On failure the current state and
// the stored token are left as they were.
func (m *Manager) Login(ctx context.Context, email, password string) (domain.User, error) {
	res, err := m.gw.Login(ctx, email, password)
	if err != nil {
		return domain.User{}, err
	}
	m.persistMu.Lock()
	m.mu.Lock()
	m.gen++
	m.state = StateAuthenticated
	m.token = res.Session.AccessToken
	m.user = res.User
	snap := m.snapshotLocked()
	m.mu.Unlock()
	if err := m.creds.Save(res.Session.AccessToken); err != nil {
		m.logger.Warn("persist session failed", "err", err)
	}
	m.persistMu.Unlock()

	m.settle()
	m.notify(snap)
	return res.User, nil
}

// Logout always ends the local session. The remote revocation is best
// effort; its failure is logged and not returned.
func (m *Manager) Logout(ctx context.Context) error {
	m.persistMu.Lock()
	m.mu.Lock()
	token := m.token
	m.gen++
	m.state = StateAnonymous
	m.token = ""
	m.user = domain.User{}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	clearErr := m.creds.Clear()
	m.persistMu.Unlock()
	if clearErr != nil {
		m.logger.Warn("clear stored session failed", "err", clearErr)
	}
	m.settle()
	m.notify(snap)

	if token != "" {
		if err := m.gw.Logout(ctx, token); err != nil {
			m.logger.Warn("remote logout failed", "err", err)
		}
	}
	return clearErr
}

// Refresh re-reads the signed-in user. Concurrent calls share one request.
// An Unauthorized answer ends the session; any other failure keeps it.
func (m *Manager) Refresh(ctx context.Context) (Snapshot, error) {
	v, err, _ := m.refreshes.Do("refresh", func() (any, error) {
		m.mu.Lock()
		token, gen := m.token, m.gen
		authenticated := m.state == StateAuthenticated
		m.mu.Unlock()
		if !authenticated {
			return m.Snapshot(), nil
		}
		user, err := m.gw.CurrentUser(ctx, token)
		if err != nil {
			if apierr.Is(err, apierr.KindUnauthorized) {
				m.invalidate(gen)
			}
			return m.Snapshot(), err
		}
		m.apply(gen, StateAuthenticated, token, user, false)
		return m.Snapshot(), nil
	})
	return v.(Snapshot), err
}

// Authorized runs fn with the current token. If fn reports Unauthorized the
// session is dropped before the error is returned.
func (m *Manager) Authorized(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	m.mu.Lock()
	token, gen := m.token, m.gen
	authenticated := m.state == StateAuthenticated
	m.mu.Unlock()
	if !authenticated {
		return apierr.Unauthorized("not signed in")
	}
	err := fn(ctx, token)
	if apierr.Is(err, apierr.KindUnauthorized) {
		m.invalidate(gen)
	}
	return err
}

func (m *Manager) invalidate(gen uint64) {
	m.persistMu.Lock()
	m.mu.Lock()
	if m.gen != gen || m.state != StateAuthenticated {
		m.mu.Unlock()
		m.persistMu.Unlock()
		return
	}
	m.gen++
	m.state = StateAnonymous
	m.token = ""
	m.user = domain.User{}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if err := m.creds.Clear(); err != nil {
		m.logger.Warn("clear stored session failed", "err", err)
	}
	m.persistMu.Unlock()
	m.logger.Info("session invalidated")
	m.notify(snap)
}

// apply commits a restore or refresh result unless a newer transition
// happened meanwhile. A stale result never touches the stored token.
func (m *Manager) apply(gen uint64, state State, token string, user domain.User, clearStored bool) {
	m.persistMu.Lock()
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.persistMu.Unlock()
		return
	}
	changed := m.state != state || m.user != user
	m.state = state
	m.token = token
	m.user = user
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if clearStored {
		if err := m.creds.Clear(); err != nil {
			m.logger.Warn("clear stored session failed", "err", err)
		}
	}
	m.persistMu.Unlock()
	if changed {
		m.notify(snap)
	}
}

// settle marks init finished so a later Init neither waits nor restores.
func (m *Manager) settle() {
	m.initOnce.Do(func() { close(m.initExit) })
	m.markInitDone()
}

func (m *Manager) markInitDone() {
	m.doneOnce.Do(func() { close(m.initDone) })
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{State: m.state}
	if m.state == StateAuthenticated {
		snap.User = m.user
	}
	return snap
}

func (m *Manager) notify(snap Snapshot) {
	if m.onChange != nil {
		m.onChange(snap)
	}
}
