package events

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	rows []OrchestratorEvent
}

func (m *memStore) AppendEvent(_ context.Context, e OrchestratorEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, e)
	return nil
}

func (m *memStore) QueryEvents(_ context.Context, filterType string, limit int) ([]OrchestratorEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OrchestratorEvent, 0, len(m.rows))
	for i := len(m.rows) - 1; i >= 0; i-- {
		e := m.rows[i]
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

func TestAppendFillsIdAndTimestamp(t *testing.T) {
	sink := NewSink(&memStore{})
	err := sink.Append(context.Background(), OrchestratorEvent{Type: TypeConfigUpdated, ResourceType: "SchedulingConfig", ResourceID: "current"})
	require.NoError(t, err)
}

func TestAppendRejectsMissingType(t *testing.T) {
	sink := NewSink(&memStore{})
	err := sink.Append(context.Background(), OrchestratorEvent{ResourceType: "SchedulingConfig"})
	assert.Error(t, err)
}

func TestQueryFiltersByTypeAndRespectsLimit(t *testing.T) {
	store := &memStore{}
	sink := NewSink(store)
	ctx := context.Background()

	require.NoError(t, sink.Append(ctx, OrchestratorEvent{Type: TypeCommandIssued, ResourceType: "NodeCommand", ResourceID: "c1"}))
	require.NoError(t, sink.Append(ctx, OrchestratorEvent{Type: TypeConfigUpdated, ResourceType: "SchedulingConfig", ResourceID: "current"}))
	require.NoError(t, sink.Append(ctx, OrchestratorEvent{Type: TypeCommandIssued, ResourceType: "NodeCommand", ResourceID: "c2"}))

	all, err := sink.Query(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	filtered, err := sink.Query(ctx, TypeCommandIssued, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	ids := []string{filtered[0].ResourceID, filtered[1].ResourceID}
	sort.Strings(ids)
	assert.Equal(t, []string{"c1", "c2"}, ids)

	limited, err := sink.Query(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
	assert.Equal(t, "c2", limited[0].ResourceID, "most recently appended event should come first")
}
