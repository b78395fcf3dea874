package app

import (
	"context"
	"fmt"
	"strings"

	"inkfolio/pkg/domain"
)

// ListContent returns items matching filter, newest first. Only an admin
// viewer may choose the status; everyone else sees published items. Without
// an explicit status admins see published items too.
func (a *App) ListContent(ctx context.Context, viewer *domain.User, filter domain.ContentFilter) ([]domain.ContentItem, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: type must be book or photo", ErrInvalidInput)
	}
	if filter.Status != "" && !filter.Status.Valid() && filter.Status != domain.StatusAll {
		return nil, fmt.Errorf("%w: status must be draft, published or all", ErrInvalidInput)
	}
	if viewer == nil || !viewer.IsAdmin() || filter.Status == "" {
		filter.Status = domain.StatusPublished
	}
	items, err := a.store.ListContent(ctx, filter.Normalize())
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	return items, nil
}

// GetContent returns one item. Drafts exist only for admins.
func (a *App) GetContent(ctx context.Context, viewer *domain.User, id string) (domain.ContentItem, error) {
	item, ok, err := a.store.GetContent(ctx, id)
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("get content: %w", err)
	}
	if !ok || (item.Status != domain.StatusPublished && (viewer == nil || !viewer.IsAdmin())) {
		return domain.ContentItem{}, ErrNotFound
	}
	return item, nil
}

// CreateContent stores a new item authored by creator. Type is required and
// status defaults to draft; photos never carry pages.
func (a *App) CreateContent(ctx context.Context, creator domain.User, in domain.ContentInput) (domain.ContentItem, error) {
	in = trimContentInput(in)
	item := domain.ContentItem{
		ID:        newID(),
		Status:    domain.StatusDraft,
		CreatedBy: creator.ID,
	}
	if in.Type != nil {
		item.Type = *in.Type
	}
	if in.Type != nil && !item.Type.Valid() {
		return domain.ContentItem{}, fmt.Errorf("%w: type must be book or photo", ErrInvalidInput)
	}
	if in.Status != nil {
		item.Status = *in.Status
	}
	if !item.Status.Valid() {
		return domain.ContentItem{}, fmt.Errorf("%w: status must be draft or published", ErrInvalidInput)
	}
	var missing []string
	if in.Type == nil {
		missing = append(missing, "type")
	}
	if in.Title == nil || *in.Title == "" {
		missing = append(missing, "title")
	}
	if in.Category == nil || *in.Category == "" {
		missing = append(missing, "category")
	}
	if in.CoverURL == nil || *in.CoverURL == "" {
		missing = append(missing, "cover_url")
	}
	if len(missing) > 0 {
		return domain.ContentItem{}, fmt.Errorf("%w: %s required", ErrInvalidInput, strings.Join(missing, ", "))
	}
	item.Title = *in.Title
	item.Category = *in.Category
	item.CoverURL = *in.CoverURL
	if in.Author != nil {
		item.Author = *in.Author
	}
	if in.Year != nil {
		year := *in.Year
		item.Year = &year
	}
	if in.Description != nil {
		item.Description = *in.Description
	}
	item.Pages = []string{}
	if item.Type == domain.TypeBook && in.Pages != nil {
		item.Pages = append(item.Pages, (*in.Pages)...)
	}
	now := a.now()
	item.CreatedAt = now
	item.UpdatedAt = now
	if err := a.store.CreateContent(ctx, item); err != nil {
		return domain.ContentItem{}, fmt.Errorf("create content: %w", err)
	}
	if item.Type == domain.TypePhoto {
		item.Pages = nil
	}
	return item, nil
}

// UpdateContent merges the supplied fields into an existing item in one
// write. Unsupplied fields keep their stored values.
func (a *App) UpdateContent(ctx context.Context, id string, in domain.ContentInput) (domain.ContentItem, error) {
	in = trimContentInput(in)
	if in.Empty() {
		return domain.ContentItem{}, fmt.Errorf("%w: no fields to update", ErrInvalidInput)
	}
	if in.Type != nil && !in.Type.Valid() {
		return domain.ContentItem{}, fmt.Errorf("%w: type must be book or photo", ErrInvalidInput)
	}
	if in.Status != nil && !in.Status.Valid() {
		return domain.ContentItem{}, fmt.Errorf("%w: status must be draft or published", ErrInvalidInput)
	}
	for _, f := range []struct {
		name  string
		value *string
	}{{"title", in.Title}, {"category", in.Category}, {"cover_url", in.CoverURL}} {
		if f.value != nil && *f.value == "" {
			return domain.ContentItem{}, fmt.Errorf("%w: %s must not be empty", ErrInvalidInput, f.name)
		}
	}

	// Pages only matter when the merged item is a book. The stored type is
	// read only when the payload sets pages without naming the type.
	switch {
	case in.Type != nil && *in.Type == domain.TypePhoto:
		in.Pages = &[]string{}
	case in.Type == nil && in.Pages != nil:
		existing, ok, err := a.store.GetContent(ctx, id)
		if err != nil {
			return domain.ContentItem{}, fmt.Errorf("get content: %w", err)
		}
		if !ok {
			return domain.ContentItem{}, ErrNotFound
		}
		if existing.Type == domain.TypePhoto {
			in.Pages = &[]string{}
		}
	}

	item, ok, err := a.store.UpdateContent(ctx, id, in, a.now())
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("update content: %w", err)
	}
	if !ok {
		return domain.ContentItem{}, ErrNotFound
	}
	return item, nil
}

// DeleteContent removes an item permanently.
func (a *App) DeleteContent(ctx context.Context, id string) error {
	ok, err := a.store.DeleteContent(ctx, id)
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func trimContentInput(in domain.ContentInput) domain.ContentInput {
	trim := func(p *string) *string {
		if p == nil {
			return nil
		}
		v := strings.TrimSpace(*p)
		return &v
	}
	in.Title = trim(in.Title)
	in.Category = trim(in.Category)
	in.CoverURL = trim(in.CoverURL)
	in.Author = trim(in.Author)
	return in
}
