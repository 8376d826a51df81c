package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"sipuha/voicecheck/internal/auth"
	"sipuha/voicecheck/internal/config"
)

// openAccounts builds the account service over the configured store. The
// returned close func must be called when done.
func openAccounts() (*auth.Service, func(), error) {
	cfg, err := config.LoadAuth()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	closeFn := func() {}
	var users auth.UserStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		closeFn = func() { _ = db.Close() }
		if err := migrate(context.Background(), db); err != nil {
			closeFn()
			return nil, nil, err
		}
		pg, err := auth.NewPostgresUserStore(db)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("create postgres user store: %w", err)
		}
		users = pg
	} else {
		fs, err := auth.NewFileUserStore(cfg.Auth.UserStateFile)
		if err != nil {
			return nil, nil, fmt.Errorf("create user store: %w", err)
		}
		users = fs
	}

	tokens, err := auth.NewTokenService([]byte(cfg.Auth.TokenSecret), cfg.Auth.TokenIssuer)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("create token service: %w", err)
	}
	hasher, err := auth.NewPasswordHasher(auth.DefaultHashParams())
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("create password hasher: %w", err)
	}
	accounts, err := auth.NewService(users, tokens, hasher, auth.ServiceConfig{TokenTTL: cfg.Auth.TokenTTL})
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("create auth service: %w", err)
	}
	return accounts, closeFn, nil
}
