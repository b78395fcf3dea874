package app

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // GIF decoder
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"io"
	"net/http"
	"path"
	"strings"

	_ "golang.org/x/image/webp" // WebP decoder

	"inkfolio/pkg/domain"
)

const (
	uploadPrefix          = "uploads/"
	maxFilenameRunes      = 100
	defaultMaxUploadBytes = 10 << 20
	defaultMaxPixels      = 40_000_000
)

var defaultImageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// UploadPolicy bounds what Upload accepts.
type UploadPolicy struct {
	MaxBytes int64
	// AllowedTypes are sniffed MIME types; the client-declared type is ignored.
	AllowedTypes []string
	MaxPixels    int64
}

func (p UploadPolicy) normalized() UploadPolicy {
	if p.MaxBytes <= 0 {
		p.MaxBytes = defaultMaxUploadBytes
	}
	if p.MaxPixels <= 0 {
		p.MaxPixels = defaultMaxPixels
	}
	if len(p.AllowedTypes) == 0 {
		p.AllowedTypes = defaultImageTypes
	}
	return p
}

func (p UploadPolicy) allows(mimeType string) bool {
	for _, t := range p.AllowedTypes {
		if strings.EqualFold(strings.TrimSpace(t), mimeType) {
			return true
		}
	}
	return false
}

// MaxUploadBytes reports the effective upload size cap.
func (a *App) MaxUploadBytes() int64 {
	return a.uploads.MaxBytes
}

// Upload validates an image and stores it under uploads/<unix-ms>-<name>,
// returning its public URL and object path.
func (a *App) Upload(ctx context.Context, filename string, r io.Reader) (domain.Upload, error) {
	data, err := io.ReadAll(io.LimitReader(r, a.uploads.MaxBytes+1))
	if err != nil {
		return domain.Upload{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > a.uploads.MaxBytes {
		return domain.Upload{}, ErrFileTooLarge
	}
	if len(data) == 0 {
		return domain.Upload{}, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}

	// DetectContentType may append parameters, e.g. "; charset=utf-8".
	mimeType, _, _ := strings.Cut(http.DetectContentType(data), ";")
	if !a.uploads.allows(mimeType) {
		return domain.Upload{}, ErrUnsupportedMediaType
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return domain.Upload{}, fmt.Errorf("%w: image could not be decoded", ErrInvalidInput)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > a.uploads.MaxPixels {
		return domain.Upload{}, fmt.Errorf("%w: image dimensions %dx%d exceed limit", ErrInvalidInput, cfg.Width, cfg.Height)
	}

	key := fmt.Sprintf("%s%d-%s", uploadPrefix, a.now().UnixMilli(), sanitizeFilename(filename))
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mimeType); err != nil {
		return domain.Upload{}, fmt.Errorf("store upload: %w", err)
	}
	return domain.Upload{URL: a.objects.PublicURL(key), Path: key}, nil
}

// sanitizeFilename keeps the base name and replaces anything outside
// [A-Za-z0-9._-] so the object key is URL-safe.
func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	var b strings.Builder
	dash := false
	count := 0
	for _, r := range name {
		if count >= maxFilenameRunes {
			break
		}
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-'
		if !ok {
			if dash {
				continue
			}
			r = '-'
			dash = true
		} else {
			dash = r == '-'
		}
		b.WriteRune(r)
		count++
	}
	out := strings.Trim(b.String(), "-.")
	if out == "" {
		return "file"
	}
	return out
}
