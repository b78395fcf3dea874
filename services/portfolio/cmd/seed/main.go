package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"inkfolio/internal/util"
	"inkfolio/pkg/identity"
	"inkfolio/pkg/store"
	"inkfolio/services/portfolio/internal/config"
	"inkfolio/services/portfolio/internal/seed"
)

func main() {
	var (
		configPath string
		email      string
		password   string
		name       string
		content    bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file (default PORTFOLIO_CONFIG or config.yaml)")
	flag.StringVar(&email, "email", seed.DefaultEmail, "Email of the admin account")
	flag.StringVar(&password, "password", "", "Password of the admin account (or PORTFOLIO_ADMIN_PASSWORD)")
	flag.StringVar(&name, "name", seed.DefaultName, "Display name of the admin profile")
	flag.BoolVar(&content, "content", false, "Insert the sample books and photos into an empty gallery")
	flag.Parse()

	if password == "" {
		password = os.Getenv("PORTFOLIO_ADMIN_PASSWORD")
	}
	if password == "" {
		fmt.Fprintln(os.Stderr, "Error: password is required. Use -password or PORTFOLIO_ADMIN_PASSWORD")
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.DevMode {
		fmt.Fprintln(os.Stderr, "Error: dev mode keeps data in memory; the server seeds itself on start")
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "err", err)
		}
	}()

	// Only CreateAccount is used, which never issues a token.
	sessions, err := store.NewEphemeralJWTSessionStore(time.Minute, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		logger.Error("failed to init session store", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	res, err := seed.Run(ctx, db, identity.NewLocal(db, sessions), seed.Options{
		Email:         email,
		Password:      password,
		Name:          name,
		SampleContent: content,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("seed failed", "err", err)
		os.Exit(1)
	}

	fmt.Printf("Admin profile ready:\n")
	fmt.Printf("  Email: %s\n", res.Admin.Email)
	fmt.Printf("  ID: %s\n", res.Admin.ID)
	fmt.Printf("  Account created: %t\n", res.AccountCreated)
	fmt.Printf("  Sample items created: %d\n", res.ItemsCreated)
}
