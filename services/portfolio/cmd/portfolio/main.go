package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"inkfolio/internal/metrics"
	"inkfolio/internal/ratelimit"
	"inkfolio/internal/util"
	"inkfolio/pkg/identity"
	"inkfolio/pkg/storage"
	"inkfolio/pkg/store"
	"inkfolio/services/portfolio/internal/app"
	"inkfolio/services/portfolio/internal/config"
	"inkfolio/services/portfolio/internal/seed"
	"inkfolio/services/portfolio/internal/server"
)

const (
	shutdownTimeout = 15 * time.Second
	rateWindow      = time.Minute
	// revoked-user cutoffs must outlive every token issued before them
	cutoffRetentionFactor = 2
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("portfolio server stopped", "err", err)
		os.Exit(1)
	}
}

// backends are the external systems the service talks to, or their
// in-process stand-ins in dev mode.
type backends struct {
	store         store.Store
	sessions      *store.JWTSessionStore
	objects       storage.ObjectStore
	files         *storage.MemoryStore
	loginLimiter  ratelimit.Limiter
	uploadLimiter ratelimit.Limiter
	closers       []func() error
}

func (b *backends) close(logger *slog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("close backend", "err", err)
		}
	}
}

func run(ctx context.Context, cfg config.FileConfig, logger *slog.Logger) error {
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		return err
	}
	leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		return err
	}
	jwtOpts := store.JWTOptions{Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience, Leeway: leeway}

	var b *backends
	if cfg.DevMode {
		b, err = devBackends(cfg, sessionTTL, jwtOpts)
	} else {
		b, err = productionBackends(ctx, cfg, sessionTTL, jwtOpts)
	}
	if err != nil {
		return err
	}
	defer b.close(logger)

	provider := identity.NewLocal(b.store, b.sessions)
	if cfg.DevMode {
		res, err := seed.Run(ctx, b.store, provider, seed.Options{
			Password:      devAdminPassword(),
			SampleContent: true,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("seed dev data: %w", err)
		}
		logger.Warn("dev mode: in-process backends, data is lost on exit", "admin", res.Admin.Email)
	}

	appCore, err := app.New(app.Config{
		Store:    b.store,
		Identity: provider,
		Objects:  b.objects,
		Uploads: app.UploadPolicy{
			MaxBytes:     cfg.MaxUploadBytes,
			AllowedTypes: cfg.AllowedImageTypes,
			MaxPixels:    cfg.MaxImagePixels,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}
	httpServer, err := server.New(server.Config{
		App:                appCore,
		JWKS:               b.sessions,
		LoginLimiter:       b.loginLimiter,
		UploadLimiter:      b.uploadLimiter,
		TrustedProxies:     proxies,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:            metrics.New(),
		Files:              b.files,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("portfolio server listening", "addr", addr, "dev_mode", cfg.DevMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func productionBackends(ctx context.Context, cfg config.FileConfig, sessionTTL time.Duration, jwtOpts store.JWTOptions) (*backends, error) {
	b := &backends{}
	gormStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	b.store = gormStore
	b.closers = append(b.closers, gormStore.Close)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	b.closers = append(b.closers, rdb.Close)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		b.close(slog.Default())
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	revoker := store.NewRedisTokenRevoker(rdb, cutoffRetentionFactor*sessionTTL)
	b.sessions, err = store.NewJWTSessionStoreFromPEM(cfg.JWTPrivateKeyPath, cfg.JWTKeyID, cfg.JWTVerifyPublicKeys, sessionTTL, revoker, jwtOpts)
	if err != nil {
		b.close(slog.Default())
		return nil, fmt.Errorf("init sessions: %w", err)
	}

	b.objects, err = storage.NewMinioStore(storage.MinioConfig{
		Endpoint:      cfg.MinioEndpoint,
		AccessKey:     cfg.MinioAccessKey,
		SecretKey:     cfg.MinioSecretKey,
		Bucket:        cfg.MinioBucket,
		UseSSL:        cfg.MinioUseSSL,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	if err != nil {
		b.close(slog.Default())
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	newLimiter := func(name string, limit int) (ratelimit.Limiter, error) {
		if limit <= 0 {
			return nil, nil
		}
		l, err := ratelimit.NewRedisFixedWindowLimiter(rdb, "inkfolio:portfolio:ratelimit:"+name, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return l, nil
	}
	if b.loginLimiter, err = newLimiter("login", cfg.LoginRateLimitPerMinute); err != nil {
		b.close(slog.Default())
		return nil, err
	}
	if b.uploadLimiter, err = newLimiter("upload", cfg.UploadRateLimitPerMinute); err != nil {
		b.close(slog.Default())
		return nil, err
	}
	return b, nil
}

func devBackends(cfg config.FileConfig, sessionTTL time.Duration, jwtOpts store.JWTOptions) (*backends, error) {
	b := &backends{store: store.NewMemoryStore()}
	var err error
	b.sessions, err = store.NewEphemeralJWTSessionStore(sessionTTL, store.NewMemoryTokenRevoker(), jwtOpts)
	if err != nil {
		return nil, fmt.Errorf("init sessions: %w", err)
	}
	b.files = storage.NewMemoryStore(cfg.PublicBaseURL, cfg.MinioBucket)
	b.objects = b.files

	newLimiter := func(limit int) (ratelimit.Limiter, error) {
		if limit <= 0 {
			return nil, nil
		}
		return ratelimit.NewMemoryFixedWindowLimiter(limit, rateWindow)
	}
	if b.loginLimiter, err = newLimiter(cfg.LoginRateLimitPerMinute); err != nil {
		return nil, err
	}
	if b.uploadLimiter, err = newLimiter(cfg.UploadRateLimitPerMinute); err != nil {
		return nil, err
	}
	return b, nil
}

func devAdminPassword() string {
	if v := os.Getenv("PORTFOLIO_ADMIN_PASSWORD"); v != "" {
		return v
	}
	return "password123"
}
