// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/raido/internal/redash"
	"github.com/starford/raido/internal/storage"
	"github.com/starford/raido/internal/syncer"
)

// Fetch downloads all remote queries into the local tree.
func Fetch(ctx context.Context, opts ...Option) error {
	app, err := setup(opts)
	if err != nil {
		return err
	}

	fetcher := syncer.NewFetcher(app.remote, app.store, app.logger)
	rep, err := fetcher.Run(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	return summarize(app.logger, "fetch", rep)
}

// Push uploads local queries of the target data source's type.
func Push(ctx context.Context, opts ...Option) error {
	app, err := setup(opts)
	if err != nil {
		return err
	}

	pusher := syncer.NewPusher(app.remote, app.store, app.logger, app.config.Redash.DataSource)
	rep, err := pusher.Run(ctx)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return summarize(app.logger, "push", rep)
}

// setup applies options, validates configuration, and wires the storage and
// remote collaborators.
func setup(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := app.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg := app.config

	if app.logger == nil {
		app.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
	}
	slog.SetDefault(app.logger)

	app.logger.Info("Configuration loaded",
		slog.String("redash_url", cfg.Redash.URL),
		slog.String("sync_dir", cfg.Sync.Dir),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := storage.NewFS(cfg.Sync.Dir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	app.store = store

	if app.remote == nil {
		app.remote = redash.NewClient(cfg.Redash.URL, cfg.Redash.APIKey)
	}
	return app, nil
}

// summarize logs every per-item failure and turns a partially failed run
// into a non-nil error so the process exits non-zero.
func summarize(logger *slog.Logger, op string, rep *syncer.Report) error {
	logger.Info(op+" finished",
		slog.Int("synced", rep.Synced),
		slog.Int("failed", len(rep.Failures)))
	for _, f := range rep.Failures {
		logger.Error(op+": item failed",
			slog.String("item", f.Item),
			slog.String("error", f.Err.Error()))
	}
	if rep.Failed() {
		return fmt.Errorf("%s completed with %d failure(s)", op, len(rep.Failures))
	}
	return nil
}
