package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"inkfolio/pkg/domain"
)

// MemoryStore keeps accounts, profiles and content in-process. Used by tests
// and by the server when no database DSN is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account // key: account ID
	accEmail map[string]string         // email -> account ID
	users    map[string]domain.User    // key: user ID
	email    map[string]string         // email -> user ID
	content  map[string]domain.ContentItem
	seq      map[string]int // content ID -> insertion sequence
	next     int
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]domain.Account),
		accEmail: make(map[string]string),
		users:    make(map[string]domain.User),
		email:    make(map[string]string),
		content:  make(map[string]domain.ContentItem),
		seq:      make(map[string]int),
	}
}

// CreateAccount inserts a new identity account.
func (m *MemoryStore) CreateAccount(_ context.Context, a domain.Account) error {
	a.Email = normalizeEmail(a.Email)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accEmail[a.Email]; exists {
		return ErrEmailTaken
	}
	m.accounts[a.ID] = a
	m.accEmail[a.Email] = a.ID
	return nil
}

// GetAccountByEmail looks up an account by email.
func (m *MemoryStore) GetAccountByEmail(_ context.Context, email string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.accEmail[normalizeEmail(email)]
	if !ok {
		return domain.Account{}, false, nil
	}
	a, ok := m.accounts[id]
	return a, ok, nil
}

// GetAccountByID returns an account by ID.
func (m *MemoryStore) GetAccountByID(_ context.Context, id string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	return a, ok, nil
}

// TouchAccountSignIn records the last successful sign-in.
func (m *MemoryStore) TouchAccountSignIn(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		a.LastSignInAt = at.UTC()
		m.accounts[id] = a
	}
	return nil
}

// UpsertUserByEmail creates a profile or overwrites the editable fields of the
// existing one with the same email. ID and CreatedAt of an existing row win.
func (m *MemoryStore) UpsertUserByEmail(_ context.Context, u domain.User) (domain.User, error) {
	u.Email = normalizeEmail(u.Email)
	if u.Role == "" {
		u.Role = domain.RoleViewer
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.email[u.Email]; ok {
		existing := m.users[id]
		u.ID = existing.ID
		u.CreatedAt = existing.CreatedAt
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return u, nil
}

// GetUserByEmail looks up a profile by email.
func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[normalizeEmail(email)]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// UpdateUser applies a partial profile update.
func (m *MemoryStore) UpdateUser(_ context.Context, id string, in domain.ProfileInput, at time.Time) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, false, nil
	}
	if in.Name != nil {
		u.Name = *in.Name
	}
	if in.Bio != nil {
		u.Bio = *in.Bio
	}
	if in.AvatarURL != nil {
		u.AvatarURL = *in.AvatarURL
	}
	u.UpdatedAt = at.UTC()
	m.users[id] = u
	return u, true, nil
}

// CreateContent inserts a content item.
func (m *MemoryStore) CreateContent(_ context.Context, item domain.ContentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.seq[item.ID]; !exists {
		m.next++
		m.seq[item.ID] = m.next
	}
	m.content[item.ID] = storedContent(item)
	return nil
}

// ListContent returns items matching filter, newest first. Items created in
// the same instant keep reverse insertion order.
func (m *MemoryStore) ListContent(_ context.Context, filter domain.ContentFilter) ([]domain.ContentItem, error) {
	filter = filter.Normalize()
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ContentItem, 0, len(m.content))
	for _, item := range m.content {
		if filter.Match(item) {
			res = append(res, cloneContent(item))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return m.seq[res[i].ID] > m.seq[res[j].ID]
	})
	return res, nil
}

// GetContent retrieves an item.
func (m *MemoryStore) GetContent(_ context.Context, id string) (domain.ContentItem, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.content[id]
	if !ok {
		return domain.ContentItem{}, false, nil
	}
	return cloneContent(item), true, nil
}

// UpdateContent applies the supplied fields. Unsupplied fields keep their values.
func (m *MemoryStore) UpdateContent(_ context.Context, id string, in domain.ContentInput, at time.Time) (domain.ContentItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.content[id]
	if !ok {
		return domain.ContentItem{}, false, nil
	}
	if in.Type != nil {
		item.Type = *in.Type
	}
	if in.Title != nil {
		item.Title = *in.Title
	}
	if in.Author != nil {
		item.Author = *in.Author
	}
	if in.Year != nil {
		year := *in.Year
		item.Year = &year
	} else if in.ClearYear {
		item.Year = nil
	}
	if in.Category != nil {
		item.Category = *in.Category
	}
	if in.Description != nil {
		item.Description = *in.Description
	}
	if in.Status != nil {
		item.Status = *in.Status
	}
	if in.CoverURL != nil {
		item.CoverURL = *in.CoverURL
	}
	if in.Pages != nil {
		item.Pages = append([]string(nil), (*in.Pages)...)
	}
	item.UpdatedAt = at.UTC()
	item = storedContent(item)
	m.content[id] = item
	return cloneContent(item), true, nil
}

// DeleteContent removes an item and reports whether it existed.
func (m *MemoryStore) DeleteContent(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.content[id]; !ok {
		return false, nil
	}
	delete(m.content, id)
	delete(m.seq, id)
	return true, nil
}

// storedContent mirrors what a database row round-trip yields.
func storedContent(item domain.ContentItem) domain.ContentItem {
	if item.Type == domain.TypePhoto {
		item.Pages = nil
		return item
	}
	item.Pages = append([]string{}, item.Pages...)
	return item
}

func cloneContent(item domain.ContentItem) domain.ContentItem {
	if item.Pages != nil {
		item.Pages = append([]string{}, item.Pages...)
	}
	if item.Year != nil {
		year := *item.Year
		item.Year = &year
	}
	return item
}
