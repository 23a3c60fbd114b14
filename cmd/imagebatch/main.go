package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	httpAdapter "github.com/cwygoda/imagebatch/internal/adapter/http"
	"github.com/cwygoda/imagebatch/internal/adapter/imagestore"
	"github.com/cwygoda/imagebatch/internal/adapter/sqlite"
	"github.com/cwygoda/imagebatch/internal/adapter/webhook"
	"github.com/cwygoda/imagebatch/internal/config"
	"github.com/cwygoda/imagebatch/internal/export"
	"github.com/cwygoda/imagebatch/internal/orchestrator"
	"github.com/cwygoda/imagebatch/internal/transform"
)

func main() {
	// A local .env is optional.
	_ = godotenv.Load()

	cfg := config.Load()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	log.Info("starting imagebatch",
		"port", cfg.Port,
		"db", cfg.DBPath,
		"work_dir", cfg.WorkDir,
		"store_url", cfg.StoreUploadURL,
	)

	repo, err := sqlite.New(cfg.DBPath, log)
	if err != nil {
		log.Error("initializing database failed", "err", err)
		os.Exit(1)
	}
	defer repo.Close()

	store := imagestore.New(cfg.StoreUploadURL, cfg.StageTimeout, log)
	transformer := transform.New(store, transform.Config{
		WorkDir:      cfg.WorkDir,
		ScalePercent: cfg.ScalePercent,
		Quality:      cfg.Quality,
		StageTimeout: cfg.StageTimeout,
	}, log)
	notifier := webhook.New(cfg.WebhookURL, 3*time.Second, log)

	orch := orchestrator.New(repo, transformer, notifier, log,
		orchestrator.WithConcurrency(cfg.ImageConcurrency),
		orchestrator.WithMaxRetries(cfg.MaxRetries),
		orchestrator.WithJobDeadline(cfg.JobDeadline),
	)
	exporter := export.New(repo, log)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := httpAdapter.NewServer(orch, repo, exporter, addr, cfg.MaxUploadMB, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "err", err)
		}
	}()

	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "err", err)
	}

	log.Info("shutdown complete")
}
