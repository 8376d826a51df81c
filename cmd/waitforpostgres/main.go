package main

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"sipuha/voicecheck/internal/migrations"
	"sipuha/voicecheck/internal/observability"
)

// waitforpostgres blocks until Postgres answers, then optionally applies the
// schema migrations so the server and integration tests start against a ready
// database.
func main() {
	log := observability.NewLogger(os.Getenv("LOG_LEVEL"))

	dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN"))
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		log.Error("TEST_POSTGRES_DSN or DATABASE_URL is required")
		os.Exit(2)
	}

	timeout := 60 * time.Second
	if raw := os.Getenv("WAIT_FOR_POSTGRES_TIMEOUT_SEC"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			log.Error("invalid WAIT_FOR_POSTGRES_TIMEOUT_SEC", "value", raw)
			os.Exit(2)
		}
		timeout = time.Duration(secs) * time.Second
	}
	ensureSchema, _ := strconv.ParseBool(os.Getenv("WAIT_FOR_POSTGRES_ENSURE_SCHEMA"))

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Error("open postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	deadline := time.Now().Add(timeout)
	attempt := 0
	for {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := db.PingContext(ctx)
		cancel()
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			log.Error("postgres not ready", "timeout", timeout.String(), "attempts", attempt, "error", err)
			os.Exit(1)
		}
		log.Debug("postgres not ready yet", "attempt", attempt, "error", err)
		time.Sleep(2 * time.Second)
	}

	if ensureSchema {
		runner, err := migrations.NewRunner(db, log)
		if err != nil {
			log.Error("create migration runner", "error", err)
			os.Exit(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		_, err = runner.Apply(ctx)
		cancel()
		if err != nil {
			log.Error("apply migrations", "error", err)
			os.Exit(1)
		}
	}
	log.Info("postgres ready", "attempts", attempt, "schema_ensured", ensureSchema)
}
