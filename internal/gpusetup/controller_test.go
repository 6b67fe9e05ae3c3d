package gpusetup

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchcore/orchd/internal/command"
	"github.com/orchcore/orchd/internal/node"
)

type memNodeStore struct {
	mu    sync.Mutex
	nodes map[string]*node.Node
}

func newMemNodeStore(nodes ...*node.Node) *memNodeStore {
	s := &memNodeStore{nodes: make(map[string]*node.Node)}
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	return s
}

func (s *memNodeStore) GetNode(_ context.Context, id string) (*node.Node, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, false, nil
	}
	clone := *n
	return &clone, true, nil
}

func (s *memNodeStore) SaveNode(_ context.Context, n *node.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *n
	s.nodes[n.ID] = &clone
	return nil
}

type recordingCommander struct {
	mu            sync.Mutex
	registered    []string
	deliverResult command.DeliveryResult
	deliverErr    error
	delivered     []command.NodeCommand
}

func (c *recordingCommander) RegisterCommand(_ context.Context, commandID, nodeID, targetResourceID string, t command.Type) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = append(c.registered, commandID)
	return nil
}

func (c *recordingCommander) DeliverCommand(_ context.Context, nodeID string, cmd command.NodeCommand) (command.DeliveryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = append(c.delivered, cmd)
	return c.deliverResult, c.deliverErr
}

func gpuNode(id string, gpus ...node.GPU) *node.Node {
	return &node.Node{ID: id, Hardware: node.HardwareInventory{GPUs: gpus}}
}

// racingNodeStore widens the window between GetNode and SaveNode with a
// sleep and tracks how many callers were ever inside that window at once,
// so a test can assert a caller-supplied lock actually serializes them.
type racingNodeStore struct {
	*memNodeStore
	delay   time.Duration
	current int32
	max     int32
}

func newRacingNodeStore(delay time.Duration, nodes ...*node.Node) *racingNodeStore {
	return &racingNodeStore{memNodeStore: newMemNodeStore(nodes...), delay: delay}
}

func (s *racingNodeStore) GetNode(ctx context.Context, id string) (*node.Node, bool, error) {
	n := atomic.AddInt32(&s.current, 1)
	for {
		old := atomic.LoadInt32(&s.max)
		if n <= old || atomic.CompareAndSwapInt32(&s.max, old, n) {
			break
		}
	}
	time.Sleep(s.delay)
	return s.memNodeStore.GetNode(ctx, id)
}

func (s *racingNodeStore) SaveNode(ctx context.Context, n *node.Node) error {
	defer atomic.AddInt32(&s.current, -1)
	return s.memNodeStore.SaveNode(ctx, n)
}

func (s *racingNodeStore) maxConcurrent() int32 {
	return atomic.LoadInt32(&s.max)
}

func TestEvaluateAndQueueSetupNoGpusIsNotNeeded(t *testing.T) {
	n := &node.Node{ID: "n1"}
	store := newMemNodeStore(n)
	ctrl := NewController(store, &recordingCommander{}, nil, nil, nil)

	require.NoError(t, ctrl.EvaluateAndQueueSetup(context.Background(), "n1"))

	got, _, _ := store.GetNode(context.Background(), "n1")
	assert.Equal(t, node.GpuSetupNotNeeded, got.GpuSetupStatus)
}

func TestEvaluateAndQueueSetupAlreadyUsableIsCompleted(t *testing.T) {
	n := gpuNode("n1", node.GPU{IsAvailableForPassthrough: true})
	n.Hardware.SupportsGpu = true
	store := newMemNodeStore(n)
	ctrl := NewController(store, &recordingCommander{}, nil, nil, nil)

	require.NoError(t, ctrl.EvaluateAndQueueSetup(context.Background(), "n1"))

	got, _, _ := store.GetNode(context.Background(), "n1")
	assert.Equal(t, node.GpuSetupCompleted, got.GpuSetupStatus)
}

func TestEvaluateAndQueueSetupQueuesConfigureGpuCommand(t *testing.T) {
	n := gpuNode("n1", node.GPU{IsIommuEnabled: true})
	store := newMemNodeStore(n)
	commander := &recordingCommander{deliverResult: command.DeliveryResult{Success: true}}
	ctrl := NewController(store, commander, nil, nil, nil)

	require.NoError(t, ctrl.EvaluateAndQueueSetup(context.Background(), "n1"))

	got, _, _ := store.GetNode(context.Background(), "n1")
	assert.Equal(t, node.GpuSetupInProgress, got.GpuSetupStatus)
	require.Len(t, commander.delivered, 1)

	var payload ConfigureGpuPayload
	require.NoError(t, json.Unmarshal(commander.delivered[0].Payload, &payload))
	assert.Equal(t, node.GpuModeVfioPassthrough, payload.Mode)
}

func TestEvaluateAndQueueSetupSkipsWhenAlreadyInProgress(t *testing.T) {
	n := gpuNode("n1", node.GPU{})
	n.GpuSetupStatus = node.GpuSetupInProgress
	store := newMemNodeStore(n)
	commander := &recordingCommander{deliverResult: command.DeliveryResult{Success: true}}
	ctrl := NewController(store, commander, nil, nil, nil)

	require.NoError(t, ctrl.EvaluateAndQueueSetup(context.Background(), "n1"))

	assert.Empty(t, commander.delivered)
}

func TestQueueSetupFallsBackToPendingOnDeliveryFailure(t *testing.T) {
	n := gpuNode("n1", node.GPU{})
	store := newMemNodeStore(n)
	commander := &recordingCommander{deliverResult: command.DeliveryResult{Success: false}}
	ctrl := NewController(store, commander, nil, nil, nil)

	require.NoError(t, ctrl.EvaluateAndQueueSetup(context.Background(), "n1"))

	got, _, _ := store.GetNode(context.Background(), "n1")
	assert.Equal(t, node.GpuSetupPending, got.GpuSetupStatus)
}

func TestTriggerSetupRejectsNodeWithoutGpus(t *testing.T) {
	store := newMemNodeStore(&node.Node{ID: "n1"})
	ctrl := NewController(store, &recordingCommander{}, nil, nil, nil)

	ok, reason := ctrl.TriggerSetup(context.Background(), "n1", node.GpuModeAuto)

	assert.False(t, ok)
	assert.Equal(t, "node has no GPUs", reason)
}

func TestTriggerSetupRejectsUnknownNode(t *testing.T) {
	store := newMemNodeStore()
	ctrl := NewController(store, &recordingCommander{}, nil, nil, nil)

	ok, reason := ctrl.TriggerSetup(context.Background(), "ghost", node.GpuModeAuto)

	assert.False(t, ok)
	assert.Equal(t, "node not found", reason)
}

func TestTriggerSetupRejectsAlreadyInProgress(t *testing.T) {
	n := gpuNode("n1", node.GPU{})
	n.GpuSetupStatus = node.GpuSetupInProgress
	store := newMemNodeStore(n)
	ctrl := NewController(store, &recordingCommander{}, nil, nil, nil)

	ok, reason := ctrl.TriggerSetup(context.Background(), "n1", node.GpuModeAuto)

	assert.False(t, ok)
	assert.Equal(t, "setup already in progress", reason)
}

func TestHandleAckFailureMarksAllGpusFailed(t *testing.T) {
	n := gpuNode("n1", node.GPU{}, node.GPU{})
	n.GpuSetupStatus = node.GpuSetupInProgress
	store := newMemNodeStore(n)
	ctrl := NewController(store, &recordingCommander{}, nil, nil, nil)

	err := ctrl.HandleAck(context.Background(), command.OutstandingCommand{NodeID: "n1"}, command.Acknowledgment{
		Success:      false,
		ErrorMessage: "agent rejected command",
	})
	require.NoError(t, err)

	got, _, _ := store.GetNode(context.Background(), "n1")
	assert.Equal(t, node.GpuSetupFailed, got.GpuSetupStatus)
	for _, g := range got.Hardware.GPUs {
		assert.Equal(t, node.GpuSetupFailed, g.SetupStatus)
	}
}

func TestHandleAckSuccessWithRebootRequired(t *testing.T) {
	n := gpuNode("n1", node.GPU{})
	store := newMemNodeStore(n)
	ctrl := NewController(store, &recordingCommander{}, nil, nil, nil)

	data, _ := json.Marshal(ConfigureGpuAck{RebootRequired: true})
	err := ctrl.HandleAck(context.Background(), command.OutstandingCommand{NodeID: "n1"}, command.Acknowledgment{
		Success: true,
		Data:    data,
	})
	require.NoError(t, err)

	got, _, _ := store.GetNode(context.Background(), "n1")
	assert.Equal(t, node.GpuSetupRebootRequired, got.GpuSetupStatus)
}

func TestHandleAckSuccessUpdatesPerGpuFlags(t *testing.T) {
	n := gpuNode("n1", node.GPU{})
	store := newMemNodeStore(n)
	ctrl := NewController(store, &recordingCommander{}, nil, nil, nil)

	data, _ := json.Marshal(ConfigureGpuAck{
		ContainerSharingReady: true,
		VfioPassthroughReady:  true,
		IommuEnabled:          true,
		DriverVersion:         "550.90",
	})
	err := ctrl.HandleAck(context.Background(), command.OutstandingCommand{NodeID: "n1"}, command.Acknowledgment{
		Success: true,
		Data:    data,
	})
	require.NoError(t, err)

	got, _, _ := store.GetNode(context.Background(), "n1")
	assert.Equal(t, node.GpuSetupCompleted, got.GpuSetupStatus)
	assert.True(t, got.Hardware.GPUs[0].IsAvailableForContainerSharing)
	assert.True(t, got.Hardware.GPUs[0].IsAvailableForPassthrough)
	assert.Equal(t, "550.90", got.Hardware.GPUs[0].DriverVersion)
	assert.True(t, got.Hardware.SupportsGpuContainers)
}

func TestHandleAckSerializesAgainstConcurrentEvaluate(t *testing.T) {
	n := gpuNode("n1", node.GPU{IsIommuEnabled: true})
	store := newRacingNodeStore(10*time.Millisecond, n)
	commander := &recordingCommander{deliverResult: command.DeliveryResult{Success: true}}
	ctrl := NewController(store, commander, nil, nil, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = ctrl.EvaluateAndQueueSetup(context.Background(), "n1")
	}()
	go func() {
		defer wg.Done()
		_ = ctrl.HandleAck(context.Background(), command.OutstandingCommand{NodeID: "n1"}, command.Acknowledgment{Success: true})
	}()
	wg.Wait()

	assert.LessOrEqual(t, store.maxConcurrent(), int32(1),
		"HandleAck and EvaluateAndQueueSetup must never hold the node's Get-mutate-Save window concurrently")
}

func TestHandleAckSuccessWithoutParseableDataDefaultsContainerSharing(t *testing.T) {
	n := gpuNode("n1", node.GPU{})
	store := newMemNodeStore(n)
	ctrl := NewController(store, &recordingCommander{}, nil, nil, nil)

	err := ctrl.HandleAck(context.Background(), command.OutstandingCommand{NodeID: "n1"}, command.Acknowledgment{
		Success: true,
	})
	require.NoError(t, err)

	got, _, _ := store.GetNode(context.Background(), "n1")
	assert.Equal(t, node.GpuSetupCompleted, got.GpuSetupStatus)
	assert.True(t, got.Hardware.GPUs[0].IsAvailableForContainerSharing)
}

func TestDetermineSetupModePrefersVfioWhenIommuEnabled(t *testing.T) {
	mode := DetermineSetupMode([]node.GPU{{IsIommuEnabled: false}, {IsIommuEnabled: true}})
	assert.Equal(t, node.GpuModeVfioPassthrough, mode)
}

func TestDetermineSetupModeFallsBackToAuto(t *testing.T) {
	mode := DetermineSetupMode([]node.GPU{{IsIommuEnabled: false}})
	assert.Equal(t, node.GpuModeAuto, mode)
}
