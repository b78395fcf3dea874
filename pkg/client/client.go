// Package client is the typed HTTP gateway to the portfolio API. Every
// failure is an *apierr.Error; nothing is retried.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"inkfolio/pkg/apierr"
	"inkfolio/pkg/domain"
)

const defaultTimeout = 15 * time.Second

// Client calls the portfolio API. Tokens are passed per call; the client
// holds no session state.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (15s timeout).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New constructs a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoginResult is the body of a successful login.
type LoginResult struct {
	User    domain.User    `json:"user"`
	Session domain.Session `json:"session"`
}

// Login exchanges credentials for a session. Any failure other than a
// transport failure is reported as Unauthorized.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	payload := map[string]string{"email": email, "password": password}
	var res LoginResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", "", payload, &res); err != nil {
		if apierr.Is(err, apierr.KindTransport) || apierr.Is(err, apierr.KindUnauthorized) {
			return LoginResult{}, err
		}
		return LoginResult{}, &apierr.Error{
			Kind:    apierr.KindUnauthorized,
			Status:  statusOf(err),
			Message: err.Error(),
			Err:     err,
		}
	}
	if res.Session.AccessToken == "" {
		return LoginResult{}, apierr.Server("login response carried no access token", nil)
	}
	return res, nil
}

// Logout revokes token.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/logout", token, nil, nil)
}

// CurrentUser resolves the profile that owns token.
func (c *Client) CurrentUser(ctx context.Context, token string) (domain.User, error) {
	var res struct {
		User domain.User `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/me", token, nil, &res); err != nil {
		return domain.User{}, err
	}
	return res.User, nil
}

// ListContent lists items, newest first. token may be empty; only an admin
// token makes filter.Status effective.
func (c *Client) ListContent(ctx context.Context, token string, filter domain.ContentFilter) ([]domain.ContentItem, error) {
	q := url.Values{}
	if filter.Type != "" {
		q.Set("type", string(filter.Type))
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	path := "/api/books"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var items []domain.ContentItem
	if err := c.doJSON(ctx, http.MethodGet, path, token, nil, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.ContentItem{}
	}
	return items, nil
}

func (c *Client) GetContent(ctx context.Context, token, id string) (domain.ContentItem, error) {
	var item domain.ContentItem
	if err := c.doJSON(ctx, http.MethodGet, contentPath(id), token, nil, &item); err != nil {
		return domain.ContentItem{}, err
	}
	return item, nil
}

func (c *Client) CreateContent(ctx context.Context, token string, in domain.ContentInput) (domain.ContentItem, error) {
	var item domain.ContentItem
	if err := c.doJSON(ctx, http.MethodPost, "/api/books", token, in, &item); err != nil {
		return domain.ContentItem{}, err
	}
	return item, nil
}

// UpdateContent sends only the supplied fields of in.
func (c *Client) UpdateContent(ctx context.Context, token, id string, in domain.ContentInput) (domain.ContentItem, error) {
	var item domain.ContentItem
	if err := c.doJSON(ctx, http.MethodPut, contentPath(id), token, in, &item); err != nil {
		return domain.ContentItem{}, err
	}
	return item, nil
}

func (c *Client) DeleteContent(ctx context.Context, token, id string) error {
	return c.doJSON(ctx, http.MethodDelete, contentPath(id), token, nil, nil)
}

func (c *Client) GetProfile(ctx context.Context, token string) (domain.User, error) {
	var user domain.User
	if err := c.doJSON(ctx, http.MethodGet, "/api/users/profile", token, nil, &user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (c *Client) UpdateProfile(ctx context.Context, token string, in domain.ProfileInput) (domain.User, error) {
	var user domain.User
	if err := c.doJSON(ctx, http.MethodPut, "/api/users/profile", token, in, &user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func contentPath(id string) string {
	return "/api/books/" + url.PathEscape(id)
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return apierr.Wrap(apierr.KindValidation, "encode request", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apierr.Wrap(apierr.KindValidation, "build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, token, out)
}

func (c *Client) do(req *http.Request, token string, out any) error {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apierr.Transport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierr.Server(fmt.Sprintf("decode %s %s response", req.Method, req.URL.Path), err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&errResp)
	e := apierr.FromStatus(resp.StatusCode, strings.TrimSpace(errResp.Error))
	e.Code = strings.TrimSpace(errResp.Code)
	return e
}

func statusOf(err error) int {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
