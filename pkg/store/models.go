package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"inkfolio/pkg/domain"
)

// GORM models used for persistence.
type AccountModel struct {
	ID           string    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	LastSignInAt *time.Time
}

func (AccountModel) TableName() string { return "identity_accounts" }

type UserModel struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null;default:''"`
	Email     string    `gorm:"uniqueIndex;not null"`
	Bio       string    `gorm:"type:text;not null;default:''"`
	AvatarURL string    `gorm:"not null;default:''"`
	Role      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type ContentModel struct {
	ID          string `gorm:"primaryKey"`
	Type        string `gorm:"not null;index"`
	Title       string `gorm:"not null"`
	Author      string
	Year        *int
	Category    string         `gorm:"not null;index"`
	Description string         `gorm:"type:text;not null;default:''"`
	Status      string         `gorm:"not null;index"`
	CoverURL    string         `gorm:"not null"`
	Pages       datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"`
	CreatedBy   string
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// The original backend kept books and photos in one "books" table.
func (ContentModel) TableName() string { return "books" }

func accountToModel(a domain.Account) AccountModel {
	m := AccountModel{
		ID:           a.ID,
		Email:        a.Email,
		PasswordHash: a.PasswordHash,
		CreatedAt:    a.CreatedAt,
	}
	if !a.LastSignInAt.IsZero() {
		at := a.LastSignInAt
		m.LastSignInAt = &at
	}
	return m
}

func accountFromModel(m AccountModel) domain.Account {
	a := domain.Account{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
	if m.LastSignInAt != nil {
		a.LastSignInAt = *m.LastSignInAt
	}
	return a
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Bio:       u.Bio,
		AvatarURL: u.AvatarURL,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleViewer
	}
	return domain.User{
		ID:        m.ID,
		Name:      m.Name,
		Email:     m.Email,
		Bio:       m.Bio,
		AvatarURL: m.AvatarURL,
		Role:      role,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func contentToModel(c domain.ContentItem) ContentModel {
	return ContentModel{
		ID:          c.ID,
		Type:        string(c.Type),
		Title:       c.Title,
		Author:      c.Author,
		Year:        c.Year,
		Category:    c.Category,
		Description: c.Description,
		Status:      string(c.Status),
		CoverURL:    c.CoverURL,
		Pages:       encodePages(c.Pages),
		CreatedBy:   c.CreatedBy,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func contentFromModel(m ContentModel) (domain.ContentItem, error) {
	item := domain.ContentItem{
		ID:          m.ID,
		Type:        domain.ContentType(m.Type),
		Title:       m.Title,
		Author:      m.Author,
		Year:        m.Year,
		Category:    m.Category,
		Description: m.Description,
		Status:      domain.ContentStatus(m.Status),
		CoverURL:    m.CoverURL,
		CreatedBy:   m.CreatedBy,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if item.Type != domain.TypePhoto && len(m.Pages) > 0 {
		if err := json.Unmarshal(m.Pages, &item.Pages); err != nil {
			return domain.ContentItem{}, fmt.Errorf("decode pages of content %s: %w", m.ID, err)
		}
	}
	return item, nil
}

func encodePages(pages []string) datatypes.JSON {
	if pages == nil {
		pages = []string{}
	}
	raw, _ := json.Marshal(pages)
	return datatypes.JSON(raw)
}

// contentUpdates maps the supplied fields of a partial update to column values.
func contentUpdates(in domain.ContentInput, at time.Time) map[string]any {
	updates := map[string]any{"updated_at": at}
	if in.Type != nil {
		updates["type"] = string(*in.Type)
	}
	if in.Title != nil {
		updates["title"] = *in.Title
	}
	if in.Author != nil {
		updates["author"] = *in.Author
	}
	if in.Year != nil {
		updates["year"] = *in.Year
	} else if in.ClearYear {
		updates["year"] = nil
	}
	if in.Category != nil {
		updates["category"] = *in.Category
	}
	if in.Description != nil {
		updates["description"] = *in.Description
	}
	if in.Status != nil {
		updates["status"] = string(*in.Status)
	}
	if in.CoverURL != nil {
		updates["cover_url"] = *in.CoverURL
	}
	if in.Pages != nil {
		updates["pages"] = encodePages(*in.Pages)
	}
	return updates
}

func profileUpdates(in domain.ProfileInput, at time.Time) map[string]any {
	updates := map[string]any{"updated_at": at}
	if in.Name != nil {
		updates["name"] = *in.Name
	}
	if in.Bio != nil {
		updates["bio"] = *in.Bio
	}
	if in.AvatarURL != nil {
		updates["avatar_url"] = *in.AvatarURL
	}
	return updates
}
