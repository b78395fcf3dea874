package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"inkfolio/pkg/apierr"
	"inkfolio/pkg/domain"
)

func ptr[T any](v T) *T { return &v }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestErrorKindsFollowStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var status int
		fmt.Sscanf(strings.TrimPrefix(r.URL.Path, "/api/books/"), "%d", &status)
		writeJSON(w, status, map[string]string{"error": "boom", "code": "c"})
	}))
	defer srv.Close()
	c := New(srv.URL)

	for status, kind := range map[int]apierr.Kind{
		400: apierr.KindValidation,
		401: apierr.KindUnauthorized,
		403: apierr.KindForbidden,
		404: apierr.KindNotFound,
		500: apierr.KindServer,
	} {
		_, err := c.GetContent(context.Background(), "", fmt.Sprint(status))
		if !apierr.Is(err, kind) {
			t.Fatalf("status %d: expected kind %s, got %v", status, kind, err)
		}
		var apiErr *apierr.Error
		if !asAPIError(err, &apiErr) || apiErr.Status != status || apiErr.Message != "boom" || apiErr.Code != "c" {
			t.Fatalf("status %d: unexpected error %+v", status, apiErr)
		}
	}
}

func asAPIError(err error, target **apierr.Error) bool {
	return errors.As(err, target)
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url)
	if _, err := c.ListContent(context.Background(), "", domain.ContentFilter{}); !apierr.Is(err, apierr.KindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, err := c.Login(context.Background(), "a@example.com", "pw"); !apierr.Is(err, apierr.KindTransport) {
		t.Fatalf("login should keep transport errors distinct, got %v", err)
	}
}

func TestLoginFailuresAreUnauthorized(t *testing.T) {
	var status atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, int(status.Load()), map[string]string{"error": "nope"})
	}))
	defer srv.Close()
	c := New(srv.URL)

	for _, s := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError} {
		status.Store(int32(s))
		_, err := c.Login(context.Background(), "a@example.com", "pw")
		if !apierr.Is(err, apierr.KindUnauthorized) {
			t.Fatalf("status %d: expected unauthorized, got %v", s, err)
		}
		var apiErr *apierr.Error
		if !asAPIError(err, &apiErr) || apiErr.Status != s {
			t.Fatalf("status %d: expected status to be kept, got %+v", s, apiErr)
		}
	}
}

func TestLoginAndCurrentUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["email"] != "admin@example.com" || body["password"] != "secret" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid email or password"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"user":    map[string]any{"id": "u1", "email": "admin@example.com", "role": "admin", "avatarUrl": "https://a"},
				"session": map[string]any{"access_token": "tok", "token_type": "bearer", "expires_in": 3600, "expires_at": 1},
			})
		case "/api/auth/me":
			if r.Header.Get("Authorization") != "Bearer tok" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": "u1", "email": "admin@example.com", "role": "admin"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := New(srv.URL)
	ctx := context.Background()

	res, err := c.Login(ctx, "admin@example.com", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Session.AccessToken != "tok" || res.User.ID != "u1" || res.User.AvatarURL != "https://a" {
		t.Fatalf("unexpected login result: %+v", res)
	}
	user, err := c.CurrentUser(ctx, res.Session.AccessToken)
	if err != nil || user.ID != "u1" || !user.IsAdmin() {
		t.Fatalf("current user: %+v err=%v", user, err)
	}
	if _, err := c.CurrentUser(ctx, "stale"); !apierr.Is(err, apierr.KindUnauthorized) {
		t.Fatalf("expected unauthorized for stale token, got %v", err)
	}
}

func TestListContentSendsFilterAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/api/books" || q.Get("type") != "photo" || q.Get("status") != "draft" || q.Get("category") != "Life & Work" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		if r.Header.Get("Authorization") != "Bearer admin-token" {
			t.Errorf("missing bearer token")
		}
		_, _ = io.WriteString(w, `[{"id":"p1","type":"photo","title":"Morning Coffee","coverUrl":"https://c","status":"draft","pages":[]}]`)
	}))
	defer srv.Close()

	items, err := New(srv.URL).ListContent(context.Background(), "admin-token", domain.ContentFilter{
		Type:     domain.TypePhoto,
		Status:   domain.StatusDraft,
		Category: "Life & Work",
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].CoverURL != "https://c" || items[0].Type != domain.TypePhoto {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestUpdateContentSendsOnlySuppliedFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/books/b 1" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body) != 1 || body["title"] != "X" {
			t.Errorf("expected only title in body, got %v", body)
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "b 1", "type": "book", "title": "X", "cover_url": "u"})
	}))
	defer srv.Close()

	item, err := New(srv.URL).UpdateContent(context.Background(), "t", "b 1", domain.ContentInput{Title: ptr("X")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if item.Title != "X" || item.CoverURL != "u" {
		t.Fatalf("unexpected item: %+v", item)
	}
}

func TestDeleteContentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}))
	defer srv.Close()
	if err := New(srv.URL).DeleteContent(context.Background(), "t", "missing"); !apierr.Is(err, apierr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func uploadServer(t *testing.T, delay func(name string) time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no file provided"})
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) == "bad" {
			writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "unsupported file type"})
			return
		}
		if got := header.Header.Get("Content-Type"); got != "image/png" {
			t.Errorf("expected declared mime type, got %q", got)
		}
		time.Sleep(delay(header.Filename))
		writeJSON(w, http.StatusOK, domain.Upload{URL: "https://cdn/" + header.Filename, Path: "uploads/" + header.Filename})
	}))
}

func TestUploadAllKeepsSubmissionOrder(t *testing.T) {
	srv := uploadServer(t, func(name string) time.Duration {
		// The first file finishes last.
		if name == "p0.png" {
			return 50 * time.Millisecond
		}
		return 0
	})
	defer srv.Close()

	files := make([]File, 5)
	for i := range files {
		files[i] = File{Name: fmt.Sprintf("p%d.png", i), MIMEType: "image/png", Data: []byte("img")}
	}
	uploads, err := New(srv.URL).UploadAll(context.Background(), "t", files, 5)
	if err != nil {
		t.Fatalf("upload all: %v", err)
	}
	urls := URLs(uploads)
	for i, u := range urls {
		if want := fmt.Sprintf("https://cdn/p%d.png", i); u != want {
			t.Fatalf("position %d: expected %s, got %s (all %v)", i, want, u, urls)
		}
	}
}

func TestUploadFailures(t *testing.T) {
	srv := uploadServer(t, func(string) time.Duration { return 0 })
	defer srv.Close()
	c := New(srv.URL)
	ctx := context.Background()

	if _, err := c.Upload(ctx, "", File{Name: "a.png", MIMEType: "image/png", Data: []byte("img")}); !apierr.Is(err, apierr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	_, err := c.UploadAll(ctx, "t", []File{
		{Name: "ok.png", MIMEType: "image/png", Data: []byte("img")},
		{Name: "bad.png", MIMEType: "image/png", Data: []byte("bad")},
	}, 2)
	var apiErr *apierr.Error
	if !asAPIError(err, &apiErr) || apiErr.Status != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415 failure, got %v", err)
	}
}
