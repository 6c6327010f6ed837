package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sillymedia/internal/artifacts"
	"sillymedia/internal/common/dirlock"
	"sillymedia/internal/common/fsutil"
	"sillymedia/internal/config"
	"sillymedia/internal/events"
	"sillymedia/internal/httpapi"
	"sillymedia/internal/jobs"
	"sillymedia/internal/manager"
	"sillymedia/internal/progress"
	"sillymedia/internal/registry"
	"sillymedia/internal/store"
)

const shutdownTimeout = 5 * time.Second

// serve runs the server until SIGINT/SIGTERM or ctx ends.
func serve(parent context.Context, cfg config.Config, simulate bool, logger zerolog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := fsutil.EnsureDir(cfg.DataDir); err != nil {
		return err
	}
	lockCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	lock, err := dirlock.Acquire(lockCtx, cfg.DataDir)
	cancel()
	if err != nil {
		return fmt.Errorf("data dir %s is in use by another process: %w", cfg.DataDir, err)
	}
	defer lock.Release()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	files, err := artifacts.Open(cfg.DataDir)
	if err != nil {
		return err
	}

	reg, err := registry.Build(cfg, registry.Options{Simulate: simulate, Logger: &logger})
	if err != nil {
		return err
	}

	var pub manager.EventPublisher
	if cfg.NATSURL != "" {
		np, err := events.Connect(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			return err
		}
		defer np.Close()
		pub = np
	}

	gpu := manager.NewWithConfig(manager.ManagerConfig{
		Models:         reg.Handles(),
		IdleTimeout:    time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
		ReaperInterval: cfg.ReaperInterval.Std(),
		DefaultModel:   cfg.DefaultModel,
		MaxQueueDepth:  cfg.MaxQueueDepth,
		MaxWait:        cfg.MaxWait.Std(),
		Publisher:      pub,
		Logger:         &logger,
	})
	js := jobs.NewStore(jobs.Options{
		Workers:         cfg.JobWorkers,
		QueueSize:       cfg.JobQueueSize,
		Retention:       cfg.JobRetention.Std(),
		Recorder:        db,
		RemoveArtifacts: files.RemoveJob,
		Publisher:       pub,
		Logger:          &logger,
	})
	if _, err := js.Recover(ctx); err != nil {
		return err
	}

	httpapi.SetLogger(logger)
	if _, ok := config.LookupEnv("SILLY_MEDIA_HTTP_LOG_LEVEL"); !ok {
		httpapi.SetDefaultLogLevel(cfg.LogLevel)
	}
	httpapi.SetMaxBodyBytes(cfg.MaxBody.Int64())
	httpapi.SetMaxUploadBytes(cfg.MaxUpload.Int64())
	httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins, nil, nil)
	httpapi.SetBaseContext(ctx)

	mux := httpapi.NewMux(httpapi.Deps{
		GPU:      gpu,
		Jobs:     js,
		DB:       db,
		Files:    files,
		Progress: progress.NewSet(),
		Defaults: httpapi.Defaults{
			Steps:  cfg.DefaultInferenceSteps,
			CFG:    cfg.DefaultCFGScale,
			Width:  cfg.DefaultWidth,
			Height: cfg.DefaultHeight,
		},
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Int("models", len(reg.Handles())).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return gpu.Run(gctx) })
	g.Go(func() error { return js.Run(gctx) })
	g.Go(func() error { return js.RunRetention(gctx, cfg.RetentionSchedule) })
	if cfg.PreloadOnStartup {
		g.Go(func() error {
			if err := gpu.Preload(gctx); err != nil {
				logger.Warn().Err(err).Str("model", cfg.DefaultModel).Msg("preload failed")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if cerr := gpu.Close(sctx); cerr != nil {
			logger.Warn().Err(cerr).Msg("unload on shutdown")
		}
		return err
	})
	return g.Wait()
}
