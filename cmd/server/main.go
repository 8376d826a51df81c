package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"sipuha/voicecheck/internal/app"
	"sipuha/voicecheck/internal/config"
	"sipuha/voicecheck/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The configured level is unknown until config loads.
		observability.NewLogger("info").Error("load config", "error", err)
		os.Exit(2)
	}
	log := observability.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg)
	if err != nil {
		log.Error("create app", "error", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		log.Error("run app", "error", err)
		stop()
		os.Exit(1)
	}
	log.Info("voicecheck stopped")
}
