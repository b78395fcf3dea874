package domain

import (
	"strings"
	"time"
)

type ContentType string

const (
	TypeBook  ContentType = "book"
	TypePhoto ContentType = "photo"
)

// Valid reports whether t is one of the two content variants.
func (t ContentType) Valid() bool {
	return t == TypeBook || t == TypePhoto
}

type ContentStatus string

const (
	StatusDraft     ContentStatus = "draft"
	StatusPublished ContentStatus = "published"

	// StatusAll is only meaningful in a listing filter and only for admins.
	StatusAll ContentStatus = "all"
)

// Valid reports whether s can be stored on an item.
func (s ContentStatus) Valid() bool {
	return s == StatusDraft || s == StatusPublished
}

type UserRole string

const (
	RoleAdmin  UserRole = "admin"
	RoleViewer UserRole = "viewer"
)

// CategoryAll is the UI label meaning "no category filter".
const CategoryAll = "All"

// ContentItem is a book or a photo. Pages is only populated for books.
type ContentItem struct {
	ID          string
	Type        ContentType
	Title       string
	Author      string
	Year        *int
	Category    string
	Description string
	Status      ContentStatus
	CoverURL    string
	Pages       []string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ContentInput carries the fields of a create or partial update. Nil fields
// are "not supplied".
type ContentInput struct {
	Type        *ContentType
	Title       *string
	Author      *string
	Year        *int
	Category    *string
	Description *string
	Status      *ContentStatus
	CoverURL    *string
	Pages       *[]string
	// ClearYear is set when the payload carried an explicit null year.
	ClearYear bool
}

// Empty reports whether no field was supplied.
func (in ContentInput) Empty() bool {
	return in.Type == nil && in.Title == nil && in.Author == nil && in.Year == nil && !in.ClearYear &&
		in.Category == nil && in.Description == nil && in.Status == nil &&
		in.CoverURL == nil && in.Pages == nil
}

// ContentFilter selects items for a listing. Zero fields do not filter.
type ContentFilter struct {
	Type     ContentType
	Status   ContentStatus
	Category string
}

// Normalize maps the "All" category label to no filter.
func (f ContentFilter) Normalize() ContentFilter {
	f.Category = strings.TrimSpace(f.Category)
	if strings.EqualFold(f.Category, CategoryAll) {
		f.Category = ""
	}
	return f
}

// Match reports whether item passes the filter.
func (f ContentFilter) Match(item ContentItem) bool {
	if f.Type != "" && item.Type != f.Type {
		return false
	}
	if f.Status != "" && f.Status != StatusAll && item.Status != f.Status {
		return false
	}
	if f.Category != "" && item.Category != f.Category {
		return false
	}
	return true
}

// User is the local profile of an account. Email is the lookup key shared with
// the identity provider and never changes.
type User struct {
	ID        string
	Name      string
	Email     string
	Bio       string
	AvatarURL string
	Role      UserRole
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin reports whether the user may mutate content.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// ProfileInput carries a partial profile update. Role and email are not
// client-editable and have no field here.
type ProfileInput struct {
	Name      *string
	Bio       *string
	AvatarURL *string
}

// Account is an identity-provider record. It is distinct from User: a token
// resolves to an Account, and the Account's email resolves to a User.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	LastSignInAt time.Time `json:"last_sign_in_at,omitempty"`
}

// Session is the bearer credential issued at sign-in.
type Session struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Upload describes a stored object.
type Upload struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}
