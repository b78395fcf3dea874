// Package identity is the account and session authority. It knows nothing
// about profiles or roles: a token resolves to an Account, and callers map the
// Account's email to a local profile.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inkfolio/internal/util"
	"inkfolio/pkg/auth"
	"inkfolio/pkg/domain"
	"inkfolio/pkg/store"
)

const tokenTypeBearer = "bearer"

var (
	// ErrInvalidCredentials is shown to end users and must not enable account enumeration.
	ErrInvalidCredentials       = errors.New("invalid email or password")
	ErrEmailAndPasswordRequired = errors.New("email and password required")
	ErrEmailAlreadyExists       = errors.New("email already exists")
	// ErrInvalidSession covers missing, expired, revoked and unknown tokens.
	ErrInvalidSession = errors.New("invalid session")
)

// Provider is the managed identity backend.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (domain.Account, domain.Session, error)
	SignOut(ctx context.Context, token string) error
	// SignOutAccount revokes every session of the account issued so far.
	SignOutAccount(ctx context.Context, accountID string) error
	GetAccount(ctx context.Context, token string) (domain.Account, error)
	CreateAccount(ctx context.Context, email, password string) (domain.Account, error)
}

// Local is a Provider backed by an AccountStore and a token SessionStore.
type Local struct {
	accounts store.AccountStore
	sessions store.SessionStore
	now      func() time.Time
}

// NewLocal builds a provider over accounts and sessions.
func NewLocal(accounts store.AccountStore, sessions store.SessionStore) *Local {
	return &Local{
		accounts: accounts,
		sessions: sessions,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateAccount provisions an account with a bcrypt password hash.
func (l *Local) CreateAccount(ctx context.Context, email, password string) (domain.Account, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return domain.Account{}, ErrEmailAndPasswordRequired
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Account{}, fmt.Errorf("hash password: %w", err)
	}
	account := domain.Account{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    l.now(),
	}
	if err := l.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return domain.Account{}, ErrEmailAlreadyExists
		}
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// SignIn checks credentials and issues a bearer session.
func (l *Local) SignIn(ctx context.Context, email, password string) (domain.Account, domain.Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return domain.Account{}, domain.Session{}, ErrEmailAndPasswordRequired
	}
	account, ok, err := l.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return domain.Account{}, domain.Session{}, fmt.Errorf("fetch account: %w", err)
	}
	if !ok || !auth.CheckPassword(password, account.PasswordHash) {
		return domain.Account{}, domain.Session{}, ErrInvalidCredentials
	}
	token, expiresAt, err := l.sessions.NewSession(account.ID)
	if err != nil {
		return domain.Account{}, domain.Session{}, fmt.Errorf("issue session: %w", err)
	}
	now := l.now()
	if err := l.accounts.TouchAccountSignIn(ctx, account.ID, now); err != nil {
		return domain.Account{}, domain.Session{}, fmt.Errorf("record sign-in: %w", err)
	}
	account.LastSignInAt = now
	expiresIn := int64(expiresAt.Sub(now).Round(time.Second) / time.Second)
	if expiresIn < 0 {
		expiresIn = 0
	}
	return account, domain.Session{
		AccessToken: token,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   expiresIn,
		ExpiresAt:   expiresAt.Unix(),
	}, nil
}

// SignOut revokes token. Unknown or already invalid tokens are not an error.
func (l *Local) SignOut(_ context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return l.sessions.DeleteSession(token)
}

// SignOutAccount revokes every token of accountID issued up to now.
func (l *Local) SignOutAccount(_ context.Context, accountID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return errors.New("account id required")
	}
	revoker, ok := l.sessions.(store.AccountSessionRevoker)
	if !ok {
		return errors.New("session store cannot revoke account sessions")
	}
	return revoker.RevokeAccountSessions(accountID, l.now())
}

// GetAccount resolves the account that owns token.
func (l *Local) GetAccount(ctx context.Context, token string) (domain.Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Account{}, ErrInvalidSession
	}
	accountID, ok, err := l.sessions.GetAccountIDByToken(token)
	if err != nil {
		if errors.Is(err, store.ErrInvalidToken) {
			return domain.Account{}, ErrInvalidSession
		}
		return domain.Account{}, fmt.Errorf("verify session: %w", err)
	}
	if !ok {
		return domain.Account{}, ErrInvalidSession
	}
	account, found, err := l.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return domain.Account{}, fmt.Errorf("fetch account: %w", err)
	}
	if !found {
		return domain.Account{}, ErrInvalidSession
	}
	return account, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
