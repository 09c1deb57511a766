package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/packvault/packvault/vault"
	"github.com/packvault/packvault/vault/config"
	"github.com/packvault/packvault/vault/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	customHandler := logger.NewHandler()
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting PackVault economy engine",
		slog.String("version", version),
		slog.String("commit", commit))

	path := flag.String("config", "config.toml", "path to config")
	importCards := flag.String("import-cards", "", "TOML catalog file to import on startup")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Configuration loaded successfully")

	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	engine, err := vault.New(ctx, cfg)
	if err != nil {
		slog.Error("Engine startup failed",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(startTime)))
		os.Exit(-1)
	}
	defer engine.Close()

	slog.Info("Engine ready",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(startTime)))

	if *importCards != "" {
		n, err := engine.ImportCatalog(ctx, *importCards)
		if err != nil {
			slog.Error("Catalog import failed",
				slog.String("file", *importCards),
				slog.Any("error", err))
			os.Exit(-1)
		}
		slog.Info("Catalog imported",
			slog.String("file", *importCards),
			slog.Int("cards", n))
	}

	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	defer stopSweeps()
	engine.StartSweeps(sweepCtx)

	slog.Info("Engine is running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s
	slog.Info("Shutting down engine...")
}
