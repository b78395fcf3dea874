package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"inkfolio/internal/metrics"
	"inkfolio/internal/ratelimit"
	"inkfolio/internal/util"
	"inkfolio/pkg/apierr"
	"inkfolio/pkg/domain"
	"inkfolio/pkg/storage"
	"inkfolio/pkg/store"
	"inkfolio/services/portfolio/internal/app"
)

const (
	maxJSONBodyBytes = 1 << 20
	// multipart framing on top of the file itself
	multipartOverheadBytes = 1 << 20
	healthTimeout          = 2 * time.Second
)

// Config wires the HTTP server.
type Config struct {
	App *app.App
	// JWKS publishes the token verification keys when set.
	JWKS               store.JWKSProvider
	LoginLimiter       ratelimit.Limiter
	UploadLimiter      ratelimit.Limiter
	TrustedProxies     *util.TrustedProxies
	CORSAllowedOrigins []string
	Metrics            *metrics.Metrics
	// Files serves in-process uploads under /files/ in dev mode.
	Files *storage.MemoryStore
}

// Server exposes the portfolio REST API.
type Server struct {
	app            *app.App
	jwks           store.JWKSProvider
	loginLimiter   ratelimit.Limiter
	uploadLimiter  ratelimit.Limiter
	trustedProxies *util.TrustedProxies
	corsOrigins    []string
	metrics        *metrics.Metrics
	files          *storage.MemoryStore
	mux            *http.ServeMux
	patterns       []string
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	s := &Server{
		app:            cfg.App,
		jwks:           cfg.JWKS,
		loginLimiter:   cfg.LoginLimiter,
		uploadLimiter:  cfg.UploadLimiter,
		trustedProxies: cfg.TrustedProxies,
		corsOrigins:    cfg.CORSAllowedOrigins,
		metrics:        cfg.Metrics,
		files:          cfg.Files,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler. Metrics wrap the mux directly so
// the matched route pattern is visible to them.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.metrics.Instrument(s.mux)
	h = util.WithRequestLog("portfolio", h)
	h = util.WithCORS(s.corsOrigins, h)
	h = util.WithSecurityHeaders(h)
	return util.WithRequestID(h)
}

// APIRoutes lists the /api patterns every configuration serves. The
// OpenAPI document must describe exactly these.
func APIRoutes() []string {
	return []string{
		"POST /api/auth/login",
		"POST /api/auth/logout",
		"GET /api/auth/me",
		"GET /api/books",
		"GET /api/books/{id}",
		"POST /api/books",
		"PUT /api/books/{id}",
		"DELETE /api/books/{id}",
		"GET /api/users/profile",
		"PUT /api/users/profile",
		"POST /api/upload",
	}
}

// Patterns returns the registered route patterns in registration order.
func (s *Server) Patterns() []string {
	return append([]string(nil), s.patterns...)
}

func (s *Server) handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
	s.patterns = append(s.patterns, pattern)
}

func (s *Server) routes() {
	s.handle("GET /health", http.HandlerFunc(s.handleHealth))
	if s.metrics != nil {
		s.handle("GET /metrics", s.metrics.Handler())
	}
	if s.jwks != nil {
		s.handle("GET /.well-known/jwks.json", http.HandlerFunc(s.handleJWKS))
	}

	login := ratelimit.Middleware(s.loginLimiter, "login", s.clientIP, s.rejectRate("login", "too many login attempts"))
	s.handle("POST /api/auth/login", login(http.HandlerFunc(s.handleLogin)))
	s.handle("POST /api/auth/logout", http.HandlerFunc(s.handleLogout))
	s.handle("GET /api/auth/me", s.authenticated(s.handleMe))

	// content: reads are public, writes are admin only
	s.handle("GET /api/books", s.optionalAuth(s.handleListContent))
	s.handle("GET /api/books/{id}", s.optionalAuth(s.handleGetContent))
	s.handle("POST /api/books", s.adminOnly(s.handleCreateContent))
	s.handle("PUT /api/books/{id}", s.adminOnly(s.handleUpdateContent))
	s.handle("DELETE /api/books/{id}", s.adminOnly(s.handleDeleteContent))

	s.handle("GET /api/users/profile", s.authenticated(s.handleGetProfile))
	s.handle("PUT /api/users/profile", s.authenticated(s.handleUpdateProfile))

	upload := ratelimit.Middleware(s.uploadLimiter, "upload", s.clientIP, s.rejectRate("upload", "too many uploads"))
	s.handle("POST /api/upload", upload(s.authenticated(s.handleUpload)))

	if s.files != nil {
		s.handle("GET /files/{bucket}/{key...}", http.HandlerFunc(s.handleFile))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := s.app.Ping(ctx); err != nil {
		util.LoggerFromContext(r.Context()).Warn("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, map[string]any{"keys": s.jwks.JWKS()})
}

// auth

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User    domain.User    `json:"user"`
	Session domain.Session `json:"session"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "portfolio.login", "fail", "reason", "invalid_json")
		return
	}
	user, session, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.metrics.AuthEvent("login", "fail")
		s.audit(r, "portfolio.login", "fail", "reason", reason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.metrics.AuthEvent("login", "success")
	s.audit(r, "portfolio.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, loginResponse{User: user, Session: session})
}

// handleLogout revokes the presented token. A request without a token has
// nothing to revoke and still succeeds.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token, ok := bearerToken(r); ok {
		if err := s.app.Logout(r.Context(), token); err != nil {
			s.metrics.AuthEvent("logout", "fail")
			s.audit(r, "portfolio.logout", "fail", "reason", reason(err))
			s.writeAppError(w, r, err)
			return
		}
	}
	s.metrics.AuthEvent("logout", "success")
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, map[string]domain.User{"user": user})
}

// content

func (s *Server) handleListContent(w http.ResponseWriter, r *http.Request, viewer *domain.User) {
	q := r.URL.Query()
	filter := domain.ContentFilter{
		Type:     domain.ContentType(strings.ToLower(strings.TrimSpace(q.Get("type")))),
		Status:   domain.ContentStatus(strings.ToLower(strings.TrimSpace(q.Get("status")))),
		Category: q.Get("category"),
	}
	items, err := s.app.ListContent(r.Context(), viewer, filter)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request, viewer *domain.User) {
	item, err := s.app.GetContent(r.Context(), viewer, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleCreateContent(w http.ResponseWriter, r *http.Request, user domain.User) {
	var in domain.ContentInput
	if !decodeJSON(w, r, &in) {
		return
	}
	item, err := s.app.CreateContent(r.Context(), user, in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.metrics.ContentMutation("create", string(item.Type))
	s.audit(r, "portfolio.content.create", "success", "user_id", user.ID, "item_id", item.ID)
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleUpdateContent(w http.ResponseWriter, r *http.Request, user domain.User) {
	var in domain.ContentInput
	if !decodeJSON(w, r, &in) {
		return
	}
	item, err := s.app.UpdateContent(r.Context(), r.PathValue("id"), in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.metrics.ContentMutation("update", string(item.Type))
	s.audit(r, "portfolio.content.update", "success", "user_id", user.ID, "item_id", item.ID)
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := r.PathValue("id")
	if err := s.app.DeleteContent(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.metrics.ContentMutation("delete", "")
	s.audit(r, "portfolio.content.delete", "success", "user_id", user.ID, "item_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

// profile

func (s *Server) handleGetProfile(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	var in domain.ProfileInput
	if !decodeJSON(w, r, &in) {
		return
	}
	updated, err := s.app.UpdateProfile(r.Context(), user, in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// upload

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	maxBytes := s.app.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverheadBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeAppError(w, r, app.ErrFileTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	upload, err := s.app.Upload(r.Context(), header.Filename, file)
	if err != nil {
		s.audit(r, "portfolio.upload", "fail", "user_id", user.ID, "reason", reason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.metrics.Upload(header.Size)
	s.audit(r, "portfolio.upload", "success", "user_id", user.ID, "path", upload.Path)
	writeJSON(w, http.StatusOK, upload)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	obj, ok := s.files.Get(r.PathValue("key"))
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

// auth wrappers

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

type viewerHandler func(http.ResponseWriter, *http.Request, *domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authorize(r)
		if err != nil {
			s.audit(r, "portfolio.authorize", "fail", "reason", reason(err))
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if !user.IsAdmin() {
			s.audit(r, "portfolio.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		s.audit(r, "portfolio.admin.authorize", "success", "user_id", user.ID)
		next(w, r, user)
	})
}

// optionalAuth resolves the caller when a token is presented. Public reads
// never fail on a bad token; the caller is treated as anonymous instead.
func (s *Server) optionalAuth(next viewerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := bearerToken(r); !ok {
			next(w, r, nil)
			return
		}
		user, err := s.authorize(r)
		if err != nil {
			if !errors.Is(err, app.ErrUnauthorized) {
				s.writeAppError(w, r, err)
				return
			}
			next(w, r, nil)
			return
		}
		next(w, r, &user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, error) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, app.ErrUnauthorized
	}
	return s.app.Authenticate(r.Context(), token)
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// responses

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps application errors onto the API error taxonomy. Server
// errors are logged with their cause and answered with a generic message.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	if apiErr.Kind == apierr.KindServer {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, apiErr.Status, apiErr.Message)
}

func toAPIError(err error) *apierr.Error {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		msg := strings.TrimPrefix(err.Error(), app.ErrInvalidInput.Error()+": ")
		return apierr.Validation(msg)
	case errors.Is(err, app.ErrInvalidCredentials):
		return apierr.Unauthorized(app.ErrInvalidCredentials.Error())
	case errors.Is(err, app.ErrUnauthorized):
		return apierr.Unauthorized("unauthorized")
	case errors.Is(err, app.ErrNotFound):
		return apierr.NotFound("not found")
	case errors.Is(err, app.ErrFileTooLarge):
		e := apierr.Validation(app.ErrFileTooLarge.Error())
		e.Status = http.StatusRequestEntityTooLarge
		return e
	case errors.Is(err, app.ErrUnsupportedMediaType):
		e := apierr.Validation(app.ErrUnsupportedMediaType.Error())
		e.Status = http.StatusUnsupportedMediaType
		return e
	default:
		return apierr.Server("internal error", err)
	}
}

func reason(err error) string {
	return string(toAPIError(err).Kind)
}

func (s *Server) rejectRate(scope, msg string) func(http.ResponseWriter, *http.Request, time.Duration) {
	return func(w http.ResponseWriter, r *http.Request, _ time.Duration) {
		s.metrics.Limited(scope)
		s.audit(r, "portfolio."+scope, "rate_limited")
		writeError(w, http.StatusTooManyRequests, msg)
	}
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	level := slog.LevelWarn
	if outcome == "success" {
		level = slog.LevelInfo
	}
	util.LoggerFromContext(r.Context()).Log(r.Context(), level, "security_event", logAttrs...)
}
