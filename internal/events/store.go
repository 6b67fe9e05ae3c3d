package events

import "context"

// Store is the persistence contract for events. Postgres/SQLite
// implementations live in package storage; MemoryStore backs tests and the
// degraded deployment profile.
type Store interface {
	AppendEvent(ctx context.Context, e OrchestratorEvent) error
	QueryEvents(ctx context.Context, filterType string, limit int) ([]OrchestratorEvent, error)
}
