package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchcore/orchd/internal/events"
)

type memStore struct {
	mu          sync.Mutex
	outstanding map[string]OutstandingCommand
}

func newMemStore() *memStore {
	return &memStore{outstanding: make(map[string]OutstandingCommand)}
}

func (m *memStore) SaveOutstanding(_ context.Context, oc OutstandingCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outstanding[oc.CommandID] = oc
	return nil
}

func (m *memStore) GetOutstanding(_ context.Context, id string) (OutstandingCommand, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oc, ok := m.outstanding[id]
	return oc, ok, nil
}

func (m *memStore) DeleteOutstanding(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outstanding, id)
	return nil
}

func (m *memStore) ListOutstandingOlderThan(_ context.Context, cutoff time.Time) ([]OutstandingCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutstandingCommand
	for _, oc := range m.outstanding {
		if oc.IssuedAt.Before(cutoff) {
			out = append(out, oc)
		}
	}
	return out, nil
}

type recordingHandler struct {
	mu    sync.Mutex
	calls int
	last  Acknowledgment
}

func (h *recordingHandler) HandleAck(_ context.Context, _ OutstandingCommand, ack Acknowledgment) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.last = ack
	return nil
}

type noopDeliverer struct{ result DeliveryResult }

func (d noopDeliverer) Deliver(_ context.Context, _ string, _ NodeCommand) (DeliveryResult, error) {
	return d.result, nil
}

type memEventStore struct {
	mu   sync.Mutex
	rows []events.OrchestratorEvent
}

func (m *memEventStore) AppendEvent(_ context.Context, e events.OrchestratorEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, e)
	return nil
}

func (m *memEventStore) QueryEvents(_ context.Context, _ string, _ int) ([]events.OrchestratorEvent, error) {
	return nil, nil
}

func (m *memEventStore) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.rows))
	for i, e := range m.rows {
		out[i] = e.Type
	}
	return out
}

func TestRegisterThenProcessAcknowledgment(t *testing.T) {
	store := newMemStore()
	reg := NewRegistry(store, noopDeliverer{result: DeliveryResult{Success: true}}, nil, nil)
	handler := &recordingHandler{}
	reg.RegisterHandler(TypeConfigureGpu, handler)

	require.NoError(t, reg.RegisterCommand(context.Background(), "cmd-1", "node-1", "node-1", TypeConfigureGpu))

	err := reg.ProcessAcknowledgment(context.Background(), Acknowledgment{CommandID: "cmd-1", Success: true})
	require.NoError(t, err)

	assert.Equal(t, 1, handler.calls)
	_, ok, _ := store.GetOutstanding(context.Background(), "cmd-1")
	assert.False(t, ok, "outstanding entry should be retired after processing")
}

func TestProcessAcknowledgmentUnknownCommandIsNoop(t *testing.T) {
	store := newMemStore()
	reg := NewRegistry(store, noopDeliverer{}, nil, nil)
	handler := &recordingHandler{}
	reg.RegisterHandler(TypeConfigureGpu, handler)

	err := reg.ProcessAcknowledgment(context.Background(), Acknowledgment{CommandID: "does-not-exist"})
	require.NoError(t, err)
	assert.Equal(t, 0, handler.calls)
}

func TestProcessAcknowledgmentIsIdempotentToDoubleDelivery(t *testing.T) {
	store := newMemStore()
	reg := NewRegistry(store, noopDeliverer{}, nil, nil)
	handler := &recordingHandler{}
	reg.RegisterHandler(TypeConfigureGpu, handler)

	require.NoError(t, reg.RegisterCommand(context.Background(), "cmd-1", "node-1", "node-1", TypeConfigureGpu))
	require.NoError(t, reg.ProcessAcknowledgment(context.Background(), Acknowledgment{CommandID: "cmd-1", Success: true}))
	require.NoError(t, reg.ProcessAcknowledgment(context.Background(), Acknowledgment{CommandID: "cmd-1", Success: true}))

	assert.Equal(t, 1, handler.calls, "second ack for a retired command must be dropped, not re-handled")
}

func TestReapOnceSynthesizesTimeoutAck(t *testing.T) {
	store := newMemStore()
	reg := NewRegistry(store, noopDeliverer{}, nil, nil)
	handler := &recordingHandler{}
	reg.RegisterHandler(TypeConfigureGpu, handler)
	reg.SetTimeout(TypeConfigureGpu, time.Millisecond)

	require.NoError(t, reg.RegisterCommand(context.Background(), "cmd-1", "node-1", "node-1", TypeConfigureGpu))
	time.Sleep(5 * time.Millisecond)

	reg.reapOnce(context.Background())

	require.Equal(t, 1, handler.calls)
	assert.False(t, handler.last.Success)
	assert.Equal(t, "timeout", handler.last.ErrorMessage)
}

func TestRegistryEmitsLifecycleEvents(t *testing.T) {
	store := newMemStore()
	eventStore := &memEventStore{}
	sink := events.NewSink(eventStore)
	reg := NewRegistryWithSink(store, noopDeliverer{result: DeliveryResult{Success: true}}, nil, sink, nil, nil)
	handler := &recordingHandler{}
	reg.RegisterHandler(TypeConfigureGpu, handler)

	require.NoError(t, reg.RegisterCommand(context.Background(), "cmd-1", "node-1", "node-1", TypeConfigureGpu))
	require.NoError(t, reg.ProcessAcknowledgment(context.Background(), Acknowledgment{CommandID: "cmd-1", Success: true}))

	require.NoError(t, reg.RegisterCommand(context.Background(), "cmd-2", "node-1", "node-1", TypeConfigureGpu))
	reg.SetTimeout(TypeConfigureGpu, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	reg.reapOnce(context.Background())

	assert.Equal(t, []string{events.TypeCommandIssued, events.TypeCommandAcked, events.TypeCommandIssued, events.TypeCommandTimedOut}, eventStore.types())
}

func TestAcksForDifferentNodesProcessConcurrently(t *testing.T) {
	store := newMemStore()
	reg := NewRegistry(store, noopDeliverer{}, nil, nil)
	handler := &recordingHandler{}
	reg.RegisterHandler(TypeConfigureGpu, handler)

	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		require.NoError(t, reg.RegisterCommand(context.Background(), id, "node-"+id, "node-"+id, TypeConfigureGpu))
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		wg.Add(1)
		go func(cmdID string) {
			defer wg.Done()
			_ = reg.ProcessAcknowledgment(context.Background(), Acknowledgment{CommandID: cmdID, Success: true})
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 10, handler.calls)
}
