package internal

import (
	"log/slog"

	"github.com/starford/raido/internal/storage"
	"github.com/starford/raido/internal/syncer"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	remote syncer.RemoteAPI
	logger *slog.Logger
	store  storage.Provider
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithRemote overrides the Redash client; used by tests.
func WithRemote(remote syncer.RemoteAPI) Option {
	return func(a *application) {
		a.remote = remote
	}
}

// WithLogger overrides the default JSON logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *application) {
		a.logger = logger
	}
}
