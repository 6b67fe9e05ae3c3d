package command

import (
	"context"
	"time"
)

// Store is the persistence contract the command registry needs for
// outstanding commands. An in-memory implementation backs degraded mode and
// tests; Postgres/SQLite implementations live in package storage so
// outstanding entries survive a process restart.
type Store interface {
	SaveOutstanding(ctx context.Context, oc OutstandingCommand) error
	GetOutstanding(ctx context.Context, commandID string) (OutstandingCommand, bool, error)
	DeleteOutstanding(ctx context.Context, commandID string) error
	ListOutstandingOlderThan(ctx context.Context, cutoff time.Time) ([]OutstandingCommand, error)
}
