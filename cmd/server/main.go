package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fxstream/internal/app"
	"fxstream/internal/config"
	"fxstream/internal/pkg/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg := logger.NewWithLevel(cfg.LogLevel)
	slog.SetDefault(lg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, lg).Run(ctx); err != nil {
		lg.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
