package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrator applies the schema in migrations/ against either backend dialect
// this module supports. It opens its own database/sql handle because goose
// drives migrations through that interface rather than through pgx directly.
type Migrator struct {
	db      *sql.DB
	dialect string
	logger  *slog.Logger
}

// NewMigrator opens driverName/dsn (expected values: "pgx" for Postgres,
// "sqlite" for the standalone fallback) and wires goose to run against the
// dialect matching that driver.
func NewMigrator(driverName, dialect, dsn string, logger *slog.Logger) (*Migrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open migration connection: %w", err)
	}
	goose.SetBaseFS(embeddedMigrations)
	if err := goose.SetDialect(dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: set goose dialect %s: %w", dialect, err)
	}
	return &Migrator{db: db, dialect: dialect, logger: logger}, nil
}

// Close releases the migration connection.
func (m *Migrator) Close() error { return m.db.Close() }

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	start := time.Now()
	if err := goose.UpContext(ctx, m.db, "migrations"); err != nil {
		return fmt.Errorf("storage: apply migrations: %w", err)
	}
	m.logger.Info("migrations applied", "dialect", m.dialect, "duration", time.Since(start))
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := goose.DownContext(ctx, m.db, "migrations"); err != nil {
		return fmt.Errorf("storage: roll back migration: %w", err)
	}
	return nil
}

// Version reports the current schema version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	v, err := goose.GetDBVersionContext(ctx, m.db)
	if err != nil {
		return 0, fmt.Errorf("storage: read migration version: %w", err)
	}
	return v, nil
}
