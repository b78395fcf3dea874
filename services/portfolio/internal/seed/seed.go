// Package seed provisions the admin account, its profile and the sample
// gallery content.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"inkfolio/internal/util"
	"inkfolio/pkg/auth"
	"inkfolio/pkg/domain"
	"inkfolio/pkg/identity"
	"inkfolio/pkg/store"
)

const (
	DefaultEmail = "admin@example.com"
	DefaultName  = "Artist Admin"
	defaultBio   = "Nordic-born illustrator based in Copenhagen."
)

// Options controls what Run provisions.
type Options struct {
	Email    string
	Password string
	Name     string
	// SampleContent inserts the demo books and photos when the gallery is empty.
	SampleContent bool
	Logger        *slog.Logger
}

// Result reports what Run did.
type Result struct {
	Admin          domain.User
	AccountCreated bool
	ItemsCreated   int
}

// Run is idempotent: an existing account is kept, the profile is upserted by
// email and samples are only inserted into an empty gallery.
func Run(ctx context.Context, st store.Store, provider identity.Provider, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	email := strings.ToLower(strings.TrimSpace(opts.Email))
	if email == "" {
		email = DefaultEmail
	}
	if opts.Password == "" {
		return Result{}, errors.New("admin password required")
	}
	if err := auth.ValidatePassword(opts.Password); err != nil {
		logger.Warn("admin password is weak", "email", email, "err", err)
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = DefaultName
	}

	var res Result
	if _, err := provider.CreateAccount(ctx, email, opts.Password); err != nil {
		if !errors.Is(err, identity.ErrEmailAlreadyExists) {
			return Result{}, fmt.Errorf("create admin account: %w", err)
		}
		logger.Info("admin account already exists", "email", email)
	} else {
		res.AccountCreated = true
	}

	now := time.Now().UTC()
	admin, err := st.UpsertUserByEmail(ctx, domain.User{
		ID:        util.NewID(),
		Name:      name,
		Email:     email,
		Bio:       defaultBio,
		Role:      domain.RoleAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Result{}, fmt.Errorf("upsert admin profile: %w", err)
	}
	res.Admin = admin

	if !opts.SampleContent {
		return res, nil
	}
	existing, err := st.ListContent(ctx, domain.ContentFilter{Status: domain.StatusAll})
	if err != nil {
		return Result{}, fmt.Errorf("list content: %w", err)
	}
	if len(existing) > 0 {
		logger.Info("gallery not empty, skipping samples", "items", len(existing))
		return res, nil
	}
	for i, item := range SampleItems() {
		item.ID = util.NewID()
		item.CreatedBy = admin.ID
		// Keep the listed order when sorted newest first.
		item.CreatedAt = now.Add(-time.Duration(i) * time.Second)
		item.UpdatedAt = item.CreatedAt
		if err := st.CreateContent(ctx, item); err != nil {
			return Result{}, fmt.Errorf("create sample %q: %w", item.Title, err)
		}
		res.ItemsCreated++
	}
	return res, nil
}

// SampleItems is the demo gallery: two books and two photos.
func SampleItems() []domain.ContentItem {
	year := func(y int) *int { return &y }
	return []domain.ContentItem{
		{
			Type:        domain.TypeBook,
			Title:       "The Silent Forest",
			Author:      "Elin Lindquist",
			Year:        year(2026),
			Category:    "Nature",
			Status:      domain.StatusPublished,
			CoverURL:    "https://picsum.photos/seed/forest/600/800",
			Description: "In the heart of the northern wild, the trees hold secrets that only the snow can hear.",
			Pages:       []string{},
		},
		{
			Type:        domain.TypeBook,
			Title:       "Whiskers & Wind",
			Author:      "Independent Press",
			Year:        year(2022),
			Category:    "Folklore",
			Status:      domain.StatusPublished,
			CoverURL:    "https://picsum.photos/seed/cat/600/800",
			Description: "A tale of a cat who traveled across the windy plains.",
			Pages:       []string{},
		},
		{
			Type:        domain.TypePhoto,
			Title:       "Morning Coffee",
			Year:        year(2026),
			Category:    "Life",
			Status:      domain.StatusPublished,
			CoverURL:    "https://picsum.photos/seed/wall1/800/1000",
			Description: "A quiet start to the day.",
		},
		{
			Type:        domain.TypePhoto,
			Title:       "Studio Light",
			Year:        year(2026),
			Category:    "Work",
			Status:      domain.StatusPublished,
			CoverURL:    "https://picsum.photos/seed/wall3/800/1200",
			Description: "The way the light hits the easel today.",
		},
	}
}
