package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/orchcore/orchd/internal/command"
	"github.com/orchcore/orchd/internal/events"
	"github.com/orchcore/orchd/internal/node"
	"github.com/orchcore/orchd/internal/schedconfig"
)

// MemoryStore is an in-process implementation of every repository interface
// the core depends on (schedconfig.Store, command.Store, events.Store). It
// backs unit tests and the degraded/standalone deployment profile where no
// external database is configured.
type MemoryStore struct {
	mu sync.Mutex

	live    *schedconfig.SchedulingConfig
	history []*schedconfig.SchedulingConfig

	outstanding map[string]command.OutstandingCommand

	eventSeq int64
	events   []events.OrchestratorEvent

	nodes map[string]*node.Node
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		outstanding: make(map[string]command.OutstandingCommand),
		nodes:       make(map[string]*node.Node),
	}
}

// --- gpusetup.NodeStore ---

func (m *MemoryStore) GetNode(_ context.Context, nodeID string) (*node.Node, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return nil, false, nil
	}
	clone := *n
	clone.Hardware.GPUs = append([]node.GPU(nil), n.Hardware.GPUs...)
	return &clone, true, nil
}

func (m *MemoryStore) SaveNode(_ context.Context, n *node.Node) error {
	if n == nil {
		return fmt.Errorf("storage: cannot save nil node")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *n
	clone.Hardware.GPUs = append([]node.GPU(nil), n.Hardware.GPUs...)
	m.nodes[n.ID] = &clone
	return nil
}

// --- schedconfig.Store ---

func (m *MemoryStore) LoadCurrent(_ context.Context) (*schedconfig.SchedulingConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == nil {
		return nil, schedconfig.ErrNotFound
	}
	return m.live.Clone(), nil
}

func (m *MemoryStore) SaveCurrent(_ context.Context, cfg *schedconfig.SchedulingConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live != nil {
		m.history = append(m.history, m.live)
	}
	m.live = cfg.Clone()
	return nil
}

func (m *MemoryStore) History(_ context.Context, limit int) ([]*schedconfig.SchedulingConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*schedconfig.SchedulingConfig, len(m.history))
	copy(out, m.history)
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- command.Store ---

func (m *MemoryStore) SaveOutstanding(_ context.Context, oc command.OutstandingCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outstanding[oc.CommandID] = oc
	return nil
}

func (m *MemoryStore) GetOutstanding(_ context.Context, commandID string) (command.OutstandingCommand, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oc, ok := m.outstanding[commandID]
	return oc, ok, nil
}

func (m *MemoryStore) DeleteOutstanding(_ context.Context, commandID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outstanding, commandID)
	return nil
}

func (m *MemoryStore) ListOutstandingOlderThan(_ context.Context, cutoff time.Time) ([]command.OutstandingCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []command.OutstandingCommand
	for _, oc := range m.outstanding {
		if oc.IssuedAt.Before(cutoff) {
			out = append(out, oc)
		}
	}
	return out, nil
}

// --- events.Store ---

func (m *MemoryStore) AppendEvent(_ context.Context, e events.OrchestratorEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventSeq++
	if e.ID == "" {
		e.ID = e.Type + "-" + time.Now().Format("20060102T150405.000000000")
	}
	m.events = append(m.events, e)
	return nil
}

func (m *MemoryStore) QueryEvents(_ context.Context, filterType string, limit int) ([]events.OrchestratorEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]events.OrchestratorEvent, 0, len(m.events))
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if filterType != "" && e.Type != filterType {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
