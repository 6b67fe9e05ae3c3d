package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Conn is the minimal database surface the repositories in repositories.go
// query through. PostgresPool satisfies it; SQLiteStore does not use it and
// queries database/sql directly.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresConfig holds connection settings for the primary persistent
// backend.
type PostgresConfig struct {
	Host              string
	Port              int
	Database          string
	User              string
	Password          string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

// DSN builds a libpq connection string from the config.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=%d",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode, int(c.ConnectTimeout.Seconds()),
	)
}

// DefaultPostgresConfig returns sane local-development defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Host:              "localhost",
		Port:              5432,
		Database:          "orchd",
		User:              "orchd",
		SSLMode:           "disable",
		MaxConns:          20,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    10 * time.Second,
	}
}

// PostgresPool is a pgx connection pool with lifecycle and health-check
// management on top of it.
type PostgresPool struct {
	pool     *pgxpool.Pool
	cfg      PostgresConfig
	logger   *slog.Logger
	isClosed atomic.Bool
}

// NewPostgresPool constructs an unconnected pool; call Connect before use.
func NewPostgresPool(cfg PostgresConfig, logger *slog.Logger) *PostgresPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresPool{cfg: cfg, logger: logger}
}

// Connect establishes the pool, validating the config first.
func (p *PostgresPool) Connect(ctx context.Context) error {
	if p.isClosed.Load() {
		return fmt.Errorf("storage: pool already closed")
	}

	poolCfg, err := pgxpool.ParseConfig(p.cfg.DSN())
	if err != nil {
		return fmt.Errorf("storage: parse dsn: %w", err)
	}
	poolCfg.MaxConns = p.cfg.MaxConns
	poolCfg.MinConns = p.cfg.MinConns
	poolCfg.MaxConnLifetime = p.cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = p.cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = p.cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("storage: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("storage: ping: %w", err)
	}

	p.pool = pool
	p.logger.Info("connected to postgres", "host", p.cfg.Host, "database", p.cfg.Database)
	return nil
}

// Close releases the pool.
func (p *PostgresPool) Close() {
	if p.pool != nil && p.isClosed.CompareAndSwap(false, true) {
		p.pool.Close()
	}
}

// Pool returns the underlying pgxpool for migration tooling that needs the
// raw *sql.DB-compatible driver.
func (p *PostgresPool) Pool() *pgxpool.Pool { return p.pool }

func (p *PostgresPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.pool.Exec(ctx, sql, args...)
}

func (p *PostgresPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.pool.Query(ctx, sql, args...)
}

func (p *PostgresPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

// Health runs a lightweight round trip against the pool.
func (p *PostgresPool) Health(ctx context.Context) error {
	if p.pool == nil {
		return fmt.Errorf("storage: not connected")
	}
	return p.pool.Ping(ctx)
}
