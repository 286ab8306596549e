// Package app initializes and runs the sync engine process. It wires the
// remote stores, the local database, and the offline queue from config,
// and drains queued operations until shutdown.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/studioflow/docsync/internal/blob"
	"github.com/studioflow/docsync/internal/cache"
	"github.com/studioflow/docsync/internal/config"
	"github.com/studioflow/docsync/internal/engine"
	"github.com/studioflow/docsync/internal/localstore"
	"github.com/studioflow/docsync/internal/logging"
	"github.com/studioflow/docsync/internal/pointer"
	"github.com/studioflow/docsync/internal/queue"
	"github.com/studioflow/docsync/internal/status"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	engine  *engine.Engine
	localDB *sql.DB
	metaDB  *sql.DB
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	metaDB, err := pointer.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("pointer store init: %w", err)
	}

	localDB, err := localstore.Open(ctx, cfg.LocalDBPath)
	if err != nil {
		return nil, fmt.Errorf("local store init: %w", err)
	}

	snapshots, err := cache.NewSnapshotStore(
		localstore.NewKV(localDB, 0), cfg.SnapshotMaxBytes, logger)
	if err != nil {
		return nil, fmt.Errorf("snapshot store init: %w", err)
	}

	q := queue.New(queue.NewSQLiteRepository(localDB), queue.Options{
		MaxSize:          cfg.QueueMaxSize,
		MaxAttempts:      cfg.QueueMaxAttempts,
		BaseDelay:        cfg.QueueBaseDelay,
		MaxDelay:         cfg.QueueMaxDelay,
		MaxDeadLetterAge: cfg.DeadLetterMaxAge,
	}, logger)

	eng := engine.New(engine.Options{
		Blobs: blob.NewS3Store(blob.S3Options{
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
		}),
		Pointers:      pointer.NewPostgresStore(metaDB),
		Snapshots:     snapshots,
		Queue:         q,
		RemoteTimeout: cfg.RemoteTimeout,
		PollInterval:  cfg.PollInterval,
		Logger:        logger,
		Telemetry:     status.NewTelemetry(0),
	})

	return &App{config: cfg, logger: logger, engine: eng, localDB: localDB, metaDB: metaDB}, nil
}

// Engine exposes the sync engine to embedding callers.
func (app *App) Engine() *engine.Engine {
	return app.engine
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run drains the offline queue until an OS signal or context cancellation
// stops it, then closes both databases.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting sync engine",
		"local_db", app.config.LocalDBPath, "poll_interval", app.config.PollInterval.String())

	app.initSignalHandler(cancelFunc)

	app.engine.Run(ctx)

	if err := app.localDB.Close(); err != nil {
		app.logger.Error(ctx, "closing local db", "error", err.Error())
	}
	if err := app.metaDB.Close(); err != nil {
		app.logger.Error(ctx, "closing pointer db", "error", err.Error())
	}
	app.logger.Info(ctx, "sync engine stopped")
}
