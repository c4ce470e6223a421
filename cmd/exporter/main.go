package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	_ "go-export-service/docs"
	"go-export-service/internal/api"
	"go-export-service/internal/api/handler"
	"go-export-service/internal/config"
	"go-export-service/internal/export"
	"go-export-service/internal/notify"
	"go-export-service/internal/source"
	"go-export-service/internal/store"
	"go-export-service/internal/worker"
	"go-export-service/pkg/logger"
	"go-export-service/pkg/router"
	"go-export-service/pkg/utils"
)

// @title Export Service API
// @version 1.0
// @description Asynchronous dataset export service producing CSV and XLSX artifacts.
// @host localhost:8080
// @BasePath /api/v1
func main() {
	cfg, err := config.Init()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	cleanup, err := logger.Init(logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize logger")
	}
	defer cleanup()

	// Hot log-level changes; everything else needs a restart.
	config.Watch(func(next *config.Config) {
		if lvl, err := logrus.ParseLevel(next.Logger.Level); err == nil {
			logrus.SetLevel(lvl)
		}
	})

	if err := ensureParentDir(cfg.Store.DBPath, cfg.Source.DBPath); err != nil {
		logrus.WithError(err).Fatal("failed to create data directories")
	}

	// Job store
	if err := store.InitDB(cfg.Store.DBPath); err != nil {
		logrus.WithError(err).Fatal("failed to open job store")
	}
	defer func() { _ = store.CloseDB() }()

	// Jobs left over from an earlier run can never resume; fail them
	// before accepting new work.
	swept, err := store.FailInterruptedJobs()
	if err != nil {
		logrus.WithError(err).Fatal("failed to sweep interrupted jobs")
	}
	if swept > 0 {
		logrus.WithField("count", swept).Warn("failed jobs interrupted by a previous shutdown")
	}

	// Row source
	src, err := source.NewSQLSource(cfg.Source.DBPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to open row source")
	}
	defer func() { _ = src.Close() }()
	if err := src.EnsureSchema(); err != nil {
		logrus.WithError(err).Fatal("failed to prepare row source schema")
	}
	if cfg.Source.SeedDemo > 0 {
		if err := src.SeedDemo(cfg.Source.SeedDemo); err != nil {
			logrus.WithError(err).Fatal("failed to seed demo data")
		}
	}

	// Artifact directories
	artifacts := utils.NewArtifactManager(cfg.Export.OutputDir)
	if err := artifacts.EnsureBaseDirs(); err != nil {
		logrus.WithError(err).Fatal("failed to create artifact directories")
	}

	// Worker pool
	pool := worker.NewPool(&worker.Config{
		MaxWorkers: cfg.Worker.MaxWorkers,
		QueueSize:  cfg.Worker.QueueSize,
	})
	pool.Start()

	// Notification channel
	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout)
		logrus.WithField("url", cfg.Notify.WebhookURL).Info("webhook notifications enabled")
	}

	ctrl := export.NewController(cfg.Export, src, notifier, artifacts, pool)

	r := router.New()
	api.RegisterRoutes(r, handler.NewExportHandler(ctrl, artifacts))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: r.Handler(),
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"app":  cfg.AppName,
			"addr": srv.Addr,
		}).Info("export service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logrus.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("http shutdown incomplete")
	}
	// Let in-flight exports reach a terminal state; anything still
	// running is swept as interrupted on the next start.
	pool.Stop(shutdownCtx)
	logrus.Info("shutdown complete")
}

func ensureParentDir(paths ...string) error {
	for _, p := range paths {
		if dir := filepath.Dir(p); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	}
	return nil
}
