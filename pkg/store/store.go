package store

import (
	"context"
	"errors"
	"time"

	"inkfolio/pkg/domain"
)

// ErrEmailTaken is returned when an account or profile email already exists.
var ErrEmailTaken = errors.New("email already exists")

// AccountStore persists identity-provider accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, account domain.Account) error
	GetAccountByEmail(ctx context.Context, email string) (domain.Account, bool, error)
	GetAccountByID(ctx context.Context, id string) (domain.Account, bool, error)
	TouchAccountSignIn(ctx context.Context, id string, at time.Time) error
}

// UserStore persists local profiles. Profiles are keyed by email.
type UserStore interface {
	UpsertUserByEmail(ctx context.Context, user domain.User) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	UpdateUser(ctx context.Context, id string, in domain.ProfileInput, at time.Time) (domain.User, bool, error)
}

// ContentStore persists books and photos. Every mutation is a single write.
type ContentStore interface {
	CreateContent(ctx context.Context, item domain.ContentItem) error
	ListContent(ctx context.Context, filter domain.ContentFilter) ([]domain.ContentItem, error)
	GetContent(ctx context.Context, id string) (domain.ContentItem, bool, error)
	UpdateContent(ctx context.Context, id string, in domain.ContentInput, at time.Time) (domain.ContentItem, bool, error)
	DeleteContent(ctx context.Context, id string) (bool, error)
}

// Store is the full relational backend.
type Store interface {
	AccountStore
	UserStore
	ContentStore
}

// SessionStore issues and validates bearer tokens.
type SessionStore interface {
	NewSession(accountID string) (string, time.Time, error)
	GetAccountIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// AccountSessionRevoker is implemented by session stores that can revoke
// every token of an account at once.
type AccountSessionRevoker interface {
	RevokeAccountSessions(accountID string, since time.Time) error
}

// JWK represents a JSON Web Key entry used by JWKS endpoints.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSProvider is an optional capability exposed by session stores that can
// publish JSON Web Keys.
type JWKSProvider interface {
	JWKS() []JWK
}
