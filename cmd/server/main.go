package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/zynqcloud/pictura/internal/cleanup"
	"github.com/zynqcloud/pictura/internal/config"
	"github.com/zynqcloud/pictura/internal/httpserver"
	"github.com/zynqcloud/pictura/internal/imagestore"
	"github.com/zynqcloud/pictura/internal/kv"
	"github.com/zynqcloud/pictura/internal/obslog"
	"github.com/zynqcloud/pictura/internal/upload"
	"github.com/zynqcloud/pictura/internal/validate"
	"github.com/zynqcloud/pictura/internal/variantengine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		obslog.L().Error().Err(err).Msg("configuration error")
		os.Exit(1)
	}

	obslog.Init(obslog.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger := obslog.L()

	store, err := kv.Open(cfg.DataRoot)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open index")
		os.Exit(1)
	}
	defer store.Close() //nolint:errcheck

	fs, err := imagestore.New(filepath.Join(cfg.DataRoot, "files"))
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize image store")
		os.Exit(1)
	}

	tmpDir := filepath.Join(os.TempDir(), "pictura")
	uploads := upload.New(store, fs, tmpDir, validate.Format(cfg.TargetFormat), logger)
	variants := variantengine.New(store, fs, cfg.VariantWorkers, cfg.OperatorWhitelist, logger)

	// Root context cancelled on a shutdown signal — every background
	// goroutine (tmp-file sweep) receives this rather than wiring its own
	// signal handling.
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.SweepOnStart {
		logger.Info().Msg("running startup orphan sweep")
		if err := uploads.SweepOrphans(ctx); err != nil {
			logger.Error().Err(err).Msg("startup orphan sweep failed")
		}
	}

	var cleanupDone <-chan struct{}
	if cfg.SessionTmpTTLHours > 0 {
		ttl := time.Duration(cfg.SessionTmpTTLHours) * time.Hour
		cleanupDone = cleanup.RunPeriodic(ctx, tmpDir, ttl, time.Hour, logger)
		logger.Info().Int("ttl_hours", cfg.SessionTmpTTLHours).Str("tmp_dir", tmpDir).Msg("tmp-file sweep enabled")
	}

	handler := httpserver.New(httpserver.Config{
		ServiceToken:         cfg.ServiceToken,
		MaxUploadBytes:       int64(cfg.MaxUploadMB) << 20,
		SkipValidateImports:  cfg.SkipValidateImports,
		MinFreeBytes:         cfg.MinFreeBytes,
		MaxConcurrentUploads: cfg.MaxConcurrentUploads,
	}, store, fs, uploads, variants, logger)

	srv := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: handler,
		// ReadHeaderTimeout closes Slowloris: a client that never finishes
		// sending headers holds a goroutine until this fires.
		ReadHeaderTimeout: 10 * time.Second,
		// ReadTimeout/WriteTimeout are intentionally unbounded: a large
		// upload or a cold variant materialization can legitimately run
		// long. An upstream reverse proxy is the right layer to bound
		// total connection lifetime.
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info().
			Str("bind_addr", cfg.BindAddr).
			Str("data_root", cfg.DataRoot).
			Int("variant_workers", cfg.VariantWorkers).
			Msg("pictura starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			os.Exit(1)
		}
	}()

	// shutdownSignals is defined in signals.go (os.Interrupt) and extended
	// by signals_unix.go (+ SIGTERM) via build tags — no OS-specific
	// imports here.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, shutdownSignals...)
	<-quit

	logger.Info().Msg("shutdown signal received, draining connections")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if cleanupDone != nil {
		<-cleanupDone
	}

	logger.Info().Msg("pictura stopped")
}
