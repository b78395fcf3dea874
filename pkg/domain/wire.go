package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Wire names follow the backend's snake_case columns. The UI reads camelCase
// aliases (coverUrl, avatarUrl); both are emitted on output and both are
// accepted on input, with the snake_case name winning when both are present.

type contentWire struct {
	ID          string        `json:"id"`
	Type        ContentType   `json:"type"`
	Title       string        `json:"title"`
	Author      string        `json:"author,omitempty"`
	Year        *int          `json:"year,omitempty"`
	Category    string        `json:"category"`
	Description string        `json:"description"`
	Status      ContentStatus `json:"status"`
	CoverURL    string        `json:"cover_url"`
	CoverAlias  string        `json:"coverUrl,omitempty"`
	Pages       []string      `json:"pages"`
	CreatedBy   string        `json:"created_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (c ContentItem) MarshalJSON() ([]byte, error) {
	pages := c.Pages
	if pages == nil || c.Type == TypePhoto {
		pages = []string{}
	}
	return json.Marshal(contentWire{
		ID:          c.ID,
		Type:        c.Type,
		Title:       c.Title,
		Author:      c.Author,
		Year:        c.Year,
		Category:    c.Category,
		Description: c.Description,
		Status:      c.Status,
		CoverURL:    c.CoverURL,
		CoverAlias:  c.CoverURL,
		Pages:       pages,
		CreatedBy:   c.CreatedBy,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	})
}

func (c *ContentItem) UnmarshalJSON(data []byte) error {
	var w contentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = ContentItem{
		ID:          w.ID,
		Type:        w.Type,
		Title:       w.Title,
		Author:      w.Author,
		Year:        w.Year,
		Category:    w.Category,
		Description: w.Description,
		Status:      w.Status,
		CoverURL:    firstNonEmpty(w.CoverURL, w.CoverAlias),
		Pages:       w.Pages,
		CreatedBy:   w.CreatedBy,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
	return nil
}

type contentInputWire struct {
	Type        *ContentType   `json:"type,omitempty"`
	Title       *string        `json:"title,omitempty"`
	Author      *string        `json:"author,omitempty"`
	Year        *int           `json:"year,omitempty"`
	Category    *string        `json:"category,omitempty"`
	Description *string        `json:"description,omitempty"`
	Status      *ContentStatus `json:"status,omitempty"`
	CoverURL    *string        `json:"cover_url,omitempty"`
	CoverAlias  *string        `json:"coverUrl,omitempty"`
	Pages       *[]string      `json:"pages,omitempty"`
}

// contentInputOut shadows Year so a cleared year goes out as null.
type contentInputOut struct {
	contentInputWire
	Year json.RawMessage `json:"year,omitempty"`
}

func (in ContentInput) MarshalJSON() ([]byte, error) {
	out := contentInputOut{contentInputWire: contentInputWire{
		Type:        in.Type,
		Title:       in.Title,
		Author:      in.Author,
		Category:    in.Category,
		Description: in.Description,
		Status:      in.Status,
		CoverURL:    in.CoverURL,
		Pages:       in.Pages,
	}}
	switch {
	case in.Year != nil:
		year, err := json.Marshal(*in.Year)
		if err != nil {
			return nil, err
		}
		out.Year = year
	case in.ClearYear:
		out.Year = json.RawMessage("null")
	}
	return json.Marshal(out)
}

func (in *ContentInput) UnmarshalJSON(data []byte) error {
	var w contentInputWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	year, hasYear := fields["year"]
	cover := w.CoverURL
	if cover == nil {
		cover = w.CoverAlias
	}
	*in = ContentInput{
		Type:        w.Type,
		Title:       w.Title,
		Author:      w.Author,
		Year:        w.Year,
		ClearYear:   hasYear && string(bytes.TrimSpace(year)) == "null",
		Category:    w.Category,
		Description: w.Description,
		Status:      w.Status,
		CoverURL:    cover,
		Pages:       w.Pages,
	}
	return nil
}

type userWire struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Bio         string    `json:"bio"`
	AvatarURL   string    `json:"avatar_url"`
	AvatarAlias string    `json:"avatarUrl,omitempty"`
	Role        UserRole  `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (u User) MarshalJSON() ([]byte, error) {
	return json.Marshal(userWire{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		Bio:         u.Bio,
		AvatarURL:   u.AvatarURL,
		AvatarAlias: u.AvatarURL,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	})
}

func (u *User) UnmarshalJSON(data []byte) error {
	var w userWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*u = User{
		ID:        w.ID,
		Name:      w.Name,
		Email:     w.Email,
		Bio:       w.Bio,
		AvatarURL: firstNonEmpty(w.AvatarURL, w.AvatarAlias),
		Role:      w.Role,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
	return nil
}

type profileInputWire struct {
	Name        *string `json:"name,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	AvatarAlias *string `json:"avatarUrl,omitempty"`
}

func (in ProfileInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(profileInputWire{
		Name:      in.Name,
		Bio:       in.Bio,
		AvatarURL: in.AvatarURL,
	})
}

func (in *ProfileInput) UnmarshalJSON(data []byte) error {
	var w profileInputWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	avatar := w.AvatarURL
	if avatar == nil {
		avatar = w.AvatarAlias
	}
	*in = ProfileInput{Name: w.Name, Bio: w.Bio, AvatarURL: avatar}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
