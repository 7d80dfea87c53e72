package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/conorfennell/fushigi/internal/config"
	"github.com/conorfennell/fushigi/internal/ingest"
	"github.com/conorfennell/fushigi/internal/review"
	"github.com/conorfennell/fushigi/internal/scheduler"
	"github.com/conorfennell/fushigi/internal/storage"
	"github.com/conorfennell/fushigi/internal/web"
)

func main() {
	// 1. Define and parse command-line flags
	fs := pflag.NewFlagSet("fushigi", pflag.ExitOnError)
	config.RegisterFlags(fs)
	addSource := fs.String("add-source", "", "Add a grammar source (local path or git URL) and exit")
	syncOnce := fs.Bool("sync", false, "Run one sync over all sources and exit")
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the database
	db, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	logger.Info("Database opened", "driver", cfg.DB.Driver)

	syncer := ingest.NewSyncer(db, cfg.Sync.ReposDir, logger)

	// 3. One-shot commands
	if *addSource != "" {
		if _, err := syncer.AddSource(ctx, *addSource); err != nil {
			log.Fatalf("Failed to add source: %v", err)
		}
		return
	}
	if *syncOnce {
		report, err := syncer.RunSync(ctx)
		if err != nil {
			log.Fatalf("Sync failed: %v", err)
		}
		fmt.Printf("Synced %d sources: %d grammar points, %d orphaned, %d errors.\n",
			report.Sources, report.Parsed, report.Orphaned, report.Errors)
		return
	}

	// 4. Serve
	reviews := review.NewService(db, review.Options{
		DailyCapacity: cfg.SRS.DailyCapacity,
		Retries:       cfg.SRS.ReviewRetries,
		Logger:        logger,
	})

	sched, err := scheduler.New(cfg.Sync.Schedule, func(ctx context.Context) error {
		_, err := syncer.RunSync(ctx)
		return err
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           web.NewServer(db, reviews, syncer, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", "error", err)
		}
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
