package client

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"golang.org/x/sync/errgroup"

	"inkfolio/pkg/apierr"
	"inkfolio/pkg/domain"
)

const defaultUploadConcurrency = 4

// File is one upload. MIMEType is advisory; the server sniffs the content.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Upload stores one file and returns its public URL and object path.
func (c *Client) Upload(ctx context.Context, token string, f File) (domain.Upload, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(f.Name)))
	mimeType := strings.TrimSpace(f.MIMEType)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return domain.Upload{}, apierr.Wrap(apierr.KindValidation, "build upload", err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return domain.Upload{}, apierr.Wrap(apierr.KindValidation, "build upload", err)
	}
	if err := writer.Close(); err != nil {
		return domain.Upload{}, apierr.Wrap(apierr.KindValidation, "build upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &body)
	if err != nil {
		return domain.Upload{}, apierr.Wrap(apierr.KindValidation, "build request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	var up domain.Upload
	if err := c.do(req, token, &up); err != nil {
		return domain.Upload{}, err
	}
	return up, nil
}

// UploadAll uploads files with at most concurrency requests in flight.
// Results are in submission order regardless of completion order. The first
// failure cancels the uploads still running and is returned.
func (c *Client) UploadAll(ctx context.Context, token string, files []File, concurrency int) ([]domain.Upload, error) {
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}
	out := make([]domain.Upload, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, f := range files {
		g.Go(func() error {
			up, err := c.Upload(gctx, token, f)
			if err != nil {
				c.logger.Warn("upload failed", "file", f.Name, "index", i, "err", err)
				return err
			}
			out[i] = up
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// URLs returns the public URLs of uploads in order, ready to append to a
// book's pages.
func URLs(uploads []domain.Upload) []string {
	urls := make([]string, 0, len(uploads))
	for _, up := range uploads {
		urls = append(urls, up.URL)
	}
	return urls
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
