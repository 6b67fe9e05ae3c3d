package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/orchcore/orchd/internal/command"
	"github.com/orchcore/orchd/internal/events"
	"github.com/orchcore/orchd/internal/node"
	"github.com/orchcore/orchd/internal/schedconfig"
)

// SQLiteStore is the standalone-profile persistence backend: every table
// this module needs against a single embedded database/sql handle (driver
// "sqlite", modernc.org/sqlite). It implements schedconfig.Store,
// command.Store, events.Store, and gpusetup.NodeStore directly rather than
// through the Conn abstraction repositories.go uses, since database/sql's
// positional "?" placeholders and pgx's "$1" placeholders aren't
// interchangeable over the same query strings.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens path (use "file::memory:?cache=shared" for an
// ephemeral in-process instance) and wires a store over it. Callers must
// run migrations separately via NewMigrator before first use.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) LoadCurrent(ctx context.Context) (*schedconfig.SchedulingConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT document FROM scheduling_config WHERE is_current LIMIT 1`)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, schedconfig.ErrNotFound
		}
		return nil, fmt.Errorf("storage: load current config: %w", err)
	}
	var cfg schedconfig.SchedulingConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("storage: decode config document: %w", err)
	}
	return &cfg, nil
}

func (s *SQLiteStore) SaveCurrent(ctx context.Context, cfg *schedconfig.SchedulingConfig) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("storage: encode config document: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin save config tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE scheduling_config SET is_current = 0 WHERE is_current`); err != nil {
		return fmt.Errorf("storage: archive current config: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO scheduling_config (version, is_current, document, created_at, updated_at, updated_by)
		VALUES (?, 1, ?, ?, ?, ?)
		ON CONFLICT (version) DO UPDATE SET
			is_current = 1, document = excluded.document, updated_at = excluded.updated_at, updated_by = excluded.updated_by`,
		cfg.Version, doc, cfg.CreatedAt, cfg.UpdatedAt, cfg.UpdatedBy)
	if err != nil {
		return fmt.Errorf("storage: save current config: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) History(ctx context.Context, limit int) ([]*schedconfig.SchedulingConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document FROM scheduling_config WHERE NOT is_current
		ORDER BY version DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list config history: %w", err)
	}
	defer rows.Close()

	var out []*schedconfig.SchedulingConfig
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("storage: scan config history row: %w", err)
		}
		var cfg schedconfig.SchedulingConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("storage: decode config history document: %w", err)
		}
		out = append(out, &cfg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveOutstanding(ctx context.Context, oc command.OutstandingCommand) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outstanding_command (command_id, node_id, target_resource_id, type, issued_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (command_id) DO NOTHING`,
		oc.CommandID, oc.NodeID, oc.TargetResourceID, string(oc.Type), oc.IssuedAt)
	if err != nil {
		return fmt.Errorf("storage: save outstanding command: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetOutstanding(ctx context.Context, commandID string) (command.OutstandingCommand, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT command_id, node_id, target_resource_id, type, issued_at
		FROM outstanding_command WHERE command_id = ?`, commandID)
	var oc command.OutstandingCommand
	var t string
	if err := row.Scan(&oc.CommandID, &oc.NodeID, &oc.TargetResourceID, &t, &oc.IssuedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return command.OutstandingCommand{}, false, nil
		}
		return command.OutstandingCommand{}, false, fmt.Errorf("storage: get outstanding command: %w", err)
	}
	oc.Type = command.Type(t)
	return oc, true, nil
}

func (s *SQLiteStore) DeleteOutstanding(ctx context.Context, commandID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outstanding_command WHERE command_id = ?`, commandID); err != nil {
		return fmt.Errorf("storage: delete outstanding command: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListOutstandingOlderThan(ctx context.Context, cutoff time.Time) ([]command.OutstandingCommand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT command_id, node_id, target_resource_id, type, issued_at
		FROM outstanding_command WHERE issued_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("storage: list outstanding commands: %w", err)
	}
	defer rows.Close()

	var out []command.OutstandingCommand
	for rows.Next() {
		var oc command.OutstandingCommand
		var t string
		if err := rows.Scan(&oc.CommandID, &oc.NodeID, &oc.TargetResourceID, &t, &oc.IssuedAt); err != nil {
			return nil, fmt.Errorf("storage: scan outstanding command row: %w", err)
		}
		oc.Type = command.Type(t)
		out = append(out, oc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, e events.OrchestratorEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("storage: encode event payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orchestrator_event (id, occurred_at, type, resource_type, resource_id, node_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.Type, e.ResourceType, e.ResourceID, e.NodeID, payload)
	if err != nil {
		return fmt.Errorf("storage: append event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) QueryEvents(ctx context.Context, filterType string, limit int) ([]events.OrchestratorEvent, error) {
	var rows *sql.Rows
	var err error
	if filterType != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, occurred_at, type, resource_type, resource_id, node_id, payload
			FROM orchestrator_event WHERE type = ?
			ORDER BY occurred_at DESC LIMIT ?`, filterType, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, occurred_at, type, resource_type, resource_id, node_id, payload
			FROM orchestrator_event ORDER BY occurred_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: query events: %w", err)
	}
	defer rows.Close()

	var out []events.OrchestratorEvent
	for rows.Next() {
		var e events.OrchestratorEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Type, &e.ResourceType, &e.ResourceID, &e.NodeID, &payload); err != nil {
			return nil, fmt.Errorf("storage: scan event row: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("storage: decode event payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetNode(ctx context.Context, nodeID string) (*node.Node, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT document FROM node WHERE id = ?`, nodeID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("storage: get node: %w", err)
	}
	var n node.Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, false, fmt.Errorf("storage: decode node document: %w", err)
	}
	return &n, true, nil
}

func (s *SQLiteStore) SaveNode(ctx context.Context, n *node.Node) error {
	doc, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("storage: encode node document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO node (id, document, registered_at, last_heartbeat_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET document = excluded.document, last_heartbeat_at = excluded.last_heartbeat_at`,
		n.ID, doc, n.RegisteredAt, n.LastHeartbeatAt)
	if err != nil {
		return fmt.Errorf("storage: save node: %w", err)
	}
	return nil
}
