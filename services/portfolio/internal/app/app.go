package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"inkfolio/internal/util"
	"inkfolio/pkg/domain"
	"inkfolio/pkg/identity"
	"inkfolio/pkg/storage"
	"inkfolio/pkg/store"
)

// Config holds the backends the application talks to.
type Config struct {
	Store    store.Store
	Identity identity.Provider
	Objects  storage.ObjectStore
	Uploads  UploadPolicy
	Logger   *slog.Logger
}

// App is the portfolio core: content, profile, session and upload operations.
// It holds no state of its own; every read goes to the backend.
type App struct {
	store    store.Store
	identity identity.Provider
	objects  storage.ObjectStore
	uploads  UploadPolicy
	logger   *slog.Logger
	now      func() time.Time
}

// New validates cfg and constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Identity == nil {
		return nil, errors.New("identity provider required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		store:    cfg.Store,
		identity: cfg.Identity,
		objects:  cfg.Objects,
		uploads:  cfg.Uploads.normalized(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Login signs in with the identity provider and resolves the caller's
// profile. An account without a profile cannot hold a session: every token
// of the account, the fresh one included, is revoked and the login fails.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, domain.Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return domain.User{}, domain.Session{}, fmt.Errorf("%w: email and password required", ErrInvalidInput)
	}
	account, session, err := a.identity.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) || errors.Is(err, identity.ErrEmailAndPasswordRequired) {
			return domain.User{}, domain.Session{}, ErrInvalidCredentials
		}
		return domain.User{}, domain.Session{}, fmt.Errorf("sign in: %w", err)
	}
	user, ok, err := a.store.GetUserByEmail(ctx, account.Email)
	if err == nil && !ok {
		err = ErrUnauthorized
	}
	if errors.Is(err, ErrUnauthorized) {
		// Covers tokens issued before the profile was removed.
		if revokeErr := a.identity.SignOutAccount(ctx, account.ID); revokeErr != nil {
			a.logger.Warn("revoke account sessions after failed login", "account_id", account.ID, "err", revokeErr)
			a.signOutQuietly(ctx, account.ID, session.AccessToken)
		}
		return domain.User{}, domain.Session{}, fmt.Errorf("%w: no profile for account", ErrUnauthorized)
	}
	if err != nil {
		a.signOutQuietly(ctx, account.ID, session.AccessToken)
		return domain.User{}, domain.Session{}, fmt.Errorf("fetch profile: %w", err)
	}
	return user, session, nil
}

func (a *App) signOutQuietly(ctx context.Context, accountID, token string) {
	if err := a.identity.SignOut(ctx, token); err != nil {
		a.logger.Warn("revoke session after failed login", "account_id", accountID, "err", err)
	}
}

// Logout revokes token with the identity provider.
func (a *App) Logout(ctx context.Context, token string) error {
	if err := a.identity.SignOut(ctx, token); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// Authenticate maps a bearer token to the caller's profile: token to
// identity account, account email to profile.
func (a *App) Authenticate(ctx context.Context, token string) (domain.User, error) {
	account, err := a.identity.GetAccount(ctx, token)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidSession) {
			return domain.User{}, ErrUnauthorized
		}
		return domain.User{}, fmt.Errorf("resolve account: %w", err)
	}
	user, ok, err := a.store.GetUserByEmail(ctx, account.Email)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch profile: %w", err)
	}
	if !ok {
		return domain.User{}, fmt.Errorf("%w: no profile for account", ErrUnauthorized)
	}
	return user, nil
}

// UpdateProfile applies a partial update to the caller's own profile.
func (a *App) UpdateProfile(ctx context.Context, user domain.User, in domain.ProfileInput) (domain.User, error) {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return domain.User{}, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
		}
		in.Name = &name
	}
	updated, ok, err := a.store.UpdateUser(ctx, user.ID, in, a.now())
	if err != nil {
		return domain.User{}, fmt.Errorf("update profile: %w", err)
	}
	if !ok {
		// Profile deleted between authentication and update.
		return domain.User{}, ErrUnauthorized
	}
	return updated, nil
}

// Ping reports whether the backends the service depends on are reachable.
func (a *App) Ping(ctx context.Context) error {
	type pinger interface{ Ping(context.Context) error }
	for _, dep := range []any{a.store, a.objects} {
		if p, ok := dep.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func newID() string {
	return util.NewID()
}
