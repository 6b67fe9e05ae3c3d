package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orchcore/orchd/internal/command"
	"github.com/orchcore/orchd/internal/events"
	"github.com/orchcore/orchd/internal/node"
	"github.com/orchcore/orchd/internal/schedconfig"
)

// ConfigRepository implements schedconfig.Store over a SQL Conn: the live
// row is the single one with is_current = true, every prior live row is
// archived (is_current = false) by the same transaction that installs a new
// one.
type ConfigRepository struct {
	conn Conn
}

// NewConfigRepository wires a schedconfig.Store backed by conn.
func NewConfigRepository(conn Conn) *ConfigRepository {
	return &ConfigRepository{conn: conn}
}

func (r *ConfigRepository) LoadCurrent(ctx context.Context) (*schedconfig.SchedulingConfig, error) {
	row := r.conn.QueryRow(ctx, `SELECT document FROM scheduling_config WHERE is_current LIMIT 1`)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

func (r *ConfigRepository) SaveCurrent(ctx context.Context, cfg *schedconfig.SchedulingConfig) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("storage: encode config document: %w", err)
	}
	if _, err := r.conn.Exec(ctx, `UPDATE scheduling_config SET is_current = false WHERE is_current`); err != nil {
		return fmt.Errorf("storage: archive current config: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO scheduling_config (version, is_current, document, created_at, updated_at, updated_by)
		VALUES ($1, true, $2, $3, $4, $5)
		ON CONFLICT (version) DO UPDATE SET
			is_current = true, document = $2, updated_at = $4, updated_by = $5`,
		cfg.Version, doc, cfg.CreatedAt, cfg.UpdatedAt, cfg.UpdatedBy)
	if err != nil {
		return fmt.Errorf("storage: save current config: %w", err)
	}
	return nil
}

func (r *ConfigRepository) History(ctx context.Context, limit int) ([]*schedconfig.SchedulingConfig, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT document FROM scheduling_config WHERE NOT is_current
		ORDER BY version DESC LIMIT $1`, limit)
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

// CommandRepository implements command.Store over a SQL Conn: one row per
// outstanding command, deleted on retirement.
type CommandRepository struct {
	conn Conn
}

// NewCommandRepository wires a command.Store backed by conn.
func NewCommandRepository(conn Conn) *CommandRepository {
	return &CommandRepository{conn: conn}
}

func (r *CommandRepository) SaveOutstanding(ctx context.Context, oc command.OutstandingCommand) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO outstanding_command (command_id, node_id, target_resource_id, type, issued_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (command_id) DO NOTHING`,
		oc.CommandID, oc.NodeID, oc.TargetResourceID, string(oc.Type), oc.IssuedAt)
	if err != nil {
		return fmt.Errorf("storage: save outstanding command: %w", err)
	}
	return nil
}

func (r *CommandRepository) GetOutstanding(ctx context.Context, commandID string) (command.OutstandingCommand, bool, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT command_id, node_id, target_resource_id, type, issued_at
		FROM outstanding_command WHERE command_id = $1`, commandID)
	var oc command.OutstandingCommand
	var t string
	if err := row.Scan(&oc.CommandID, &oc.NodeID, &oc.TargetResourceID, &t, &oc.IssuedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return command.OutstandingCommand{}, false, nil
		}
		return command.OutstandingCommand{}, false, fmt.Errorf("storage: get outstanding command: %w", err)
	}
	oc.Type = command.Type(t)
	return oc, true, nil
}

func (r *CommandRepository) DeleteOutstanding(ctx context.Context, commandID string) error {
	if _, err := r.conn.Exec(ctx, `DELETE FROM outstanding_command WHERE command_id = $1`, commandID); err != nil {
		return fmt.Errorf("storage: delete outstanding command: %w", err)
	}
	return nil
}

func (r *CommandRepository) ListOutstandingOlderThan(ctx context.Context, cutoff time.Time) ([]command.OutstandingCommand, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT command_id, node_id, target_resource_id, type, issued_at
		FROM outstanding_command WHERE issued_at < $1`, cutoff)
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

// EventRepository implements events.Store over a SQL Conn.
type EventRepository struct {
	conn Conn
}

// NewEventRepository wires an events.Store backed by conn.
func NewEventRepository(conn Conn) *EventRepository {
	return &EventRepository{conn: conn}
}

func (r *EventRepository) AppendEvent(ctx context.Context, e events.OrchestratorEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("storage: encode event payload: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO orchestrator_event (id, occurred_at, type, resource_type, resource_id, node_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Timestamp, e.Type, e.ResourceType, e.ResourceID, e.NodeID, payload)
	if err != nil {
		return fmt.Errorf("storage: append event: %w", err)
	}
	return nil
}

func (r *EventRepository) QueryEvents(ctx context.Context, filterType string, limit int) ([]events.OrchestratorEvent, error) {
	var rows pgx.Rows
	var err error
	if filterType != "" {
		rows, err = r.conn.Query(ctx, `
			SELECT id, occurred_at, type, resource_type, resource_id, node_id, payload
			FROM orchestrator_event WHERE type = $1
			ORDER BY occurred_at DESC LIMIT $2`, filterType, limit)
	} else {
		rows, err = r.conn.Query(ctx, `
			SELECT id, occurred_at, type, resource_type, resource_id, node_id, payload
			FROM orchestrator_event ORDER BY occurred_at DESC LIMIT $1`, limit)
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

// NodeRepository implements gpusetup.NodeStore over a SQL Conn: the whole
// node document is stored as JSONB, matching the in-memory store's
// copy-on-read/write semantics closely enough that callers never observe
// the difference.
type NodeRepository struct {
	conn Conn
}

// NewNodeRepository wires a gpusetup.NodeStore backed by conn.
func NewNodeRepository(conn Conn) *NodeRepository {
	return &NodeRepository{conn: conn}
}

func (r *NodeRepository) GetNode(ctx context.Context, nodeID string) (*node.Node, bool, error) {
	row := r.conn.QueryRow(ctx, `SELECT document FROM node WHERE id = $1`, nodeID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

// PostgresStore aggregates the four repositories over a single Conn into
// the one handle the rest of the module depends on.
type PostgresStore struct {
	*ConfigRepository
	*CommandRepository
	*EventRepository
	*NodeRepository
}

// NewPostgresStore wires every repository against the same conn.
func NewPostgresStore(conn Conn) *PostgresStore {
	return &PostgresStore{
		ConfigRepository:  NewConfigRepository(conn),
		CommandRepository: NewCommandRepository(conn),
		EventRepository:   NewEventRepository(conn),
		NodeRepository:    NewNodeRepository(conn),
	}
}

func (r *NodeRepository) SaveNode(ctx context.Context, n *node.Node) error {
	doc, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("storage: encode node document: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO node (id, document, registered_at, last_heartbeat_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET document = $2, last_heartbeat_at = $4`,
		n.ID, doc, n.RegisteredAt, n.LastHeartbeatAt)
	if err != nil {
		return fmt.Errorf("storage: save node: %w", err)
	}
	return nil
}
