// Package storage is the persistence layer shared by the configuration
// store, the outstanding-command registry, the event sink, and per-node
// hardware documents: a thin Postgres pool wrapper, an embedded-SQLite
// fallback for standalone deployments, and an in-memory implementation
// used when no persistent backing is configured at all (degraded mode).
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orchcore/orchd/internal/command"
	"github.com/orchcore/orchd/internal/config"
	"github.com/orchcore/orchd/internal/events"
	"github.com/orchcore/orchd/internal/gpusetup"
	"github.com/orchcore/orchd/internal/schedconfig"
)

// Backend is the full persistence contract every domain module in this
// repository needs, satisfied by PostgresStore, SQLiteStore, and
// MemoryStore alike.
type Backend interface {
	schedconfig.Store
	command.Store
	events.Store
	gpusetup.NodeStore
}

// NewStore selects and initializes the storage backend named by cfg's
// deployment profile: cluster profile connects to Postgres via pgPool
// (which the caller must have already connected), standalone profile opens
// an embedded SQLite file. It does not run migrations; call a Migrator
// separately before first use.
//
// Standalone deployments that never pointed DatabaseConfig at a SQLite path
// fall back to MemoryStore with a warning rather than failing startup,
// matching the configuration store's degraded-mode contract.
func NewStore(ctx context.Context, cfg *config.Config, pgPool *PostgresPool, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("initializing storage backend", "profile", cfg.App.Environment, "cluster", cfg.IsCluster())

	if cfg.IsCluster() {
		if pgPool == nil {
			return nil, &ErrStorageInitFailed{Backend: "postgres", Profile: string(cfg.Profile), Cause: fmt.Errorf("cluster profile requires a connected postgres pool")}
		}
		if err := pgPool.Health(ctx); err != nil {
			return nil, &ErrStorageInitFailed{Backend: "postgres", Profile: string(cfg.Profile), Cause: err}
		}
		SetBackendType("postgres", 2)
		SetHealthStatus("postgres", 1)
		return NewPostgresStore(pgPool), nil
	}

	if cfg.Database.SqlitePath == "" {
		logger.Warn("standalone profile has no sqlite_path configured, falling back to in-memory storage (data will not persist)")
		SetBackendType("memory", 0)
		SetHealthStatus("memory", 2)
		return NewMemoryStore(), nil
	}

	store, err := NewSQLiteStore(cfg.Database.SqlitePath)
	if err != nil {
		return nil, &ErrStorageInitFailed{Backend: "sqlite", Profile: string(cfg.Profile), Cause: err}
	}
	SetBackendType("sqlite", 1)
	SetHealthStatus("sqlite", 1)
	return store, nil
}

// NewFallbackStorage returns an in-memory Backend for degraded-mode startup
// when the configured persistent backend could not be initialized.
func NewFallbackStorage(logger *slog.Logger) Backend {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("creating fallback in-memory storage: data will not persist across restarts")
	SetBackendType("memory", 0)
	SetHealthStatus("memory", 2)
	return NewMemoryStore()
}
