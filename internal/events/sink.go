package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sink normalizes an event (assigning an id and timestamp when the caller
// omitted them) before handing it to the configured Store, and serves
// recency-ordered, optionally type-filtered queries back out of it.
type Sink struct {
	store Store
}

// NewSink wires an event sink over store.
func NewSink(store Store) *Sink {
	return &Sink{store: store}
}

// Append records e, filling ID and Timestamp if the caller left them zero.
func (s *Sink) Append(ctx context.Context, e OrchestratorEvent) error {
	if e.Type == "" {
		return fmt.Errorf("events: type is required")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := s.store.AppendEvent(ctx, e); err != nil {
		return fmt.Errorf("events: append: %w", err)
	}
	return nil
}

// Query returns up to limit events, most recent first, optionally narrowed
// to a single Type. A limit of 0 or less defers to the store's own default.
func (s *Sink) Query(ctx context.Context, filterType string, limit int) ([]OrchestratorEvent, error) {
	out, err := s.store.QueryEvents(ctx, filterType, limit)
	if err != nil {
		return nil, fmt.Errorf("events: query: %w", err)
	}
	return out, nil
}
