package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sipuha/voicecheck/internal/audit"
	"sipuha/voicecheck/internal/auth"
	"sipuha/voicecheck/internal/config"
	"sipuha/voicecheck/internal/httpserver"
	"sipuha/voicecheck/internal/inference"
	"sipuha/voicecheck/internal/migrations"
	"sipuha/voicecheck/internal/observability"
)

// StagedSuffix keeps scratch files recognizable to audio tooling.
const StagedSuffix = ".wav"

type App struct {
	cfg    config.Config
	log    *slog.Logger
	db     *sql.DB
	audit  *audit.Logger
	pool   *inference.Pool
	server *httpserver.Server
}

func New(cfg config.Config) (*App, error) {
	logger := observability.NewLogger(cfg.LogLevel)
	a := &App{cfg: cfg, log: logger}
	if err := a.build(); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg

	accounts, users, tokens, err := a.buildAuth()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := inference.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register inference metrics: %w", err)
	}

	a.pool, err = inference.NewPool(cfg.Inference.Workers, cfg.Inference.QueueDepth, metrics)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	stager, err := inference.NewStager(cfg.Inference.ScratchDir, StagedSuffix, cfg.Inference.MaxUploadBytes)
	if err != nil {
		return fmt.Errorf("create stager: %w", err)
	}
	classifier, err := NewClassifier(cfg.Inference)
	if err != nil {
		return err
	}
	dispatcher, err := inference.NewDispatcher(a.pool, stager, classifier, inference.DispatcherConfig{
		Timeout: cfg.Inference.Timeout,
		Logger:  a.log,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	a.audit, err = audit.NewLogger(cfg.AuditLogFile)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	a.server = httpserver.New(cfg.HTTP, httpserver.Deps{
		Accounts:       accounts,
		Sessions:       auth.NewSessionResolver(tokens, users),
		Media:          dispatcher,
		Audit:          a.audit,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:         a.log,
		LoginRedirect:  cfg.Auth.LoginRedirect,
		CookieSecure:   cfg.Auth.CookieSecure,
		MaxUploadBytes: cfg.Inference.MaxUploadBytes,
	})
	a.log.Info("inference configured",
		"classifier", cfg.Inference.Classifier,
		"workers", cfg.Inference.Workers,
		"queue_depth", cfg.Inference.QueueDepth,
		"timeout", cfg.Inference.Timeout.String(),
		"scratch_dir", stager.Dir(),
	)
	return nil
}

func (a *App) buildAuth() (*auth.Service, auth.UserStore, *auth.TokenService, error) {
	cfg := a.cfg
	users, err := a.openUserStore()
	if err != nil {
		return nil, nil, nil, err
	}
	tokens, err := auth.NewTokenService([]byte(cfg.Auth.TokenSecret), cfg.Auth.TokenIssuer)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create token service: %w", err)
	}
	hasher, err := auth.NewPasswordHasher(auth.DefaultHashParams())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create password hasher: %w", err)
	}
	accounts, err := auth.NewService(users, tokens, hasher, auth.ServiceConfig{TokenTTL: cfg.Auth.TokenTTL})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create auth service: %w", err)
	}
	if err := a.bootstrapUser(accounts); err != nil {
		return nil, nil, nil, err
	}
	return accounts, users, tokens, nil
}

// openUserStore picks postgres when DATABASE_URL is set, the JSON file
// otherwise. The postgres schema is migrated first; the opened *sql.DB is
// kept on a for Run to close.
func (a *App) openUserStore() (auth.UserStore, error) {
	if a.cfg.DatabaseURL == "" {
		users, err := auth.NewFileUserStore(a.cfg.Auth.UserStateFile)
		if err != nil {
			return nil, fmt.Errorf("create user store: %w", err)
		}
		return users, nil
	}

	db, err := sql.Open("postgres", a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	runner, err := migrations.NewRunner(db, a.log)
	if err != nil {
		return nil, fmt.Errorf("create migration runner: %w", err)
	}
	if _, err := runner.Apply(context.Background()); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	users, err := auth.NewPostgresUserStore(db)
	if err != nil {
		return nil, fmt.Errorf("create postgres user store: %w", err)
	}
	return users, nil
}

func (a *App) bootstrapUser(accounts *auth.Service) error {
	username := a.cfg.Auth.BootstrapUsername
	if username == "" {
		return nil
	}
	_, err := accounts.Lookup(username)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, auth.ErrUserNotFound):
		return fmt.Errorf("check bootstrap user: %w", err)
	}
	if _, err := accounts.Provision(username, "", a.cfg.Auth.BootstrapPassword, true); err != nil {
		return fmt.Errorf("create bootstrap user: %w", err)
	}
	a.log.Info("bootstrap user created", "username", username)
	return nil
}

// NewClassifier builds the configured classifier collaborator.
func NewClassifier(cfg config.InferenceConfig) (inference.Classifier, error) {
	switch cfg.Classifier {
	case "exec":
		c, err := inference.NewExecClassifier(cfg.ClassifierCmd)
		if err != nil {
			return nil, fmt.Errorf("create exec classifier: %w", err)
		}
		return c, nil
	case "http":
		c, err := inference.NewHTTPClassifier(cfg.ClassifierURL)
		if err != nil {
			return nil, fmt.Errorf("create http classifier: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown classifier %q", cfg.Classifier)
	}
}

func (a *App) Run(ctx context.Context) error {
	defer a.closeResources()

	errCh := make(chan error, 1)

	go func() {
		a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr)
		errCh <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		serverErr := a.server.Shutdown(shutdownCtx)
		poolErr := a.pool.Close(shutdownCtx)
		if serverErr != nil {
			return fmt.Errorf("shutdown server: %w", serverErr)
		}
		if poolErr != nil {
			return fmt.Errorf("drain worker pool: %w", poolErr)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	}
}

func (a *App) closeResources() {
	if a.pool != nil && !a.pool.Closed() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		if err := a.pool.Close(ctx); err != nil {
			a.log.Warn("worker pool did not drain", "error", err)
		}
		cancel()
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.log.Warn("close audit log", "error", err)
		}
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
