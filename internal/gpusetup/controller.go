package gpusetup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/orchcore/orchd/internal/command"
	"github.com/orchcore/orchd/internal/events"
	"github.com/orchcore/orchd/internal/lock"
	"github.com/orchcore/orchd/internal/metrics"
	"github.com/orchcore/orchd/internal/node"
)

// Commander is the slice of command.Registry the controller drives: it
// registers an outstanding entry then attempts delivery.
type Commander interface {
	RegisterCommand(ctx context.Context, commandID, nodeID, targetResourceID string, t command.Type) error
	DeliverCommand(ctx context.Context, nodeID string, cmd command.NodeCommand) (command.DeliveryResult, error)
}

// Controller is the per-node GPU readiness state machine.
type Controller struct {
	nodes     NodeStore
	commander Commander
	locker    lock.Locker
	sink      *events.Sink
	logger    *slog.Logger
	metrics   *metrics.GpuSetupMetrics
}

// NewController wires a controller over its collaborators.
func NewController(nodes NodeStore, commander Commander, locker lock.Locker, sink *events.Sink, logger *slog.Logger) *Controller {
	return NewControllerWithMetrics(nodes, commander, locker, sink, logger, nil)
}

// NewControllerWithMetrics is NewController plus Prometheus instrumentation;
// m may be nil to disable it.
func NewControllerWithMetrics(nodes NodeStore, commander Commander, locker lock.Locker, sink *events.Sink, logger *slog.Logger, m *metrics.GpuSetupMetrics) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Controller{nodes: nodes, commander: commander, locker: locker, sink: sink, logger: logger, metrics: m}
}

func nodeLockKey(nodeID string) string { return "gpusetup:node:" + nodeID }

// alreadyUsable reports whether the node already exposes working GPU access
// through either passthrough or container sharing, making setup unnecessary.
func alreadyUsable(n *node.Node) bool {
	if n.Hardware.SupportsGpu {
		for _, g := range n.Hardware.GPUs {
			if g.IsAvailableForPassthrough {
				return true
			}
		}
	}
	if n.Hardware.SupportsGpuContainers {
		for _, g := range n.Hardware.GPUs {
			if g.IsAvailableForContainerSharing {
				return true
			}
		}
	}
	return false
}

// DetermineSetupMode picks VfioPassthrough when any GPU already reports IOMMU
// enabled (the agent can bind vfio-pci directly, no reboot needed), and Auto
// otherwise (the container-toolkit path).
func DetermineSetupMode(gpus []node.GPU) node.GpuSetupMode {
	for _, g := range gpus {
		if g.IsIommuEnabled {
			return node.GpuModeVfioPassthrough
		}
	}
	return node.GpuModeAuto
}

func setAllGpuStatus(n *node.Node, status node.GpuSetupStatus) {
	n.GpuSetupStatus = status
	for i := range n.Hardware.GPUs {
		n.Hardware.GPUs[i].SetupStatus = status
	}
}

// EvaluateAndQueueSetup runs the automatic path for a node whose hardware
// inventory was just reported or refreshed: NotNeeded when it has no GPUs,
// Completed (no-op) when GPUs are already usable, otherwise queues a
// ConfigureGpu command unless one is already InProgress.
func (c *Controller) EvaluateAndQueueSetup(ctx context.Context, nodeID string) error {
	handle, err := c.locker.Acquire(ctx, nodeLockKey(nodeID))
	if err != nil {
		return fmt.Errorf("gpusetup: acquire node section for %s: %w", nodeID, err)
	}
	defer handle.Release(ctx)

	n, ok, err := c.nodes.GetNode(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("gpusetup: load node %s: %w", nodeID, err)
	}
	if !ok {
		return fmt.Errorf("gpusetup: node %s not found", nodeID)
	}

	if !n.HasGPUs() {
		setAllGpuStatus(n, node.GpuSetupNotNeeded)
		return c.nodes.SaveNode(ctx, n)
	}

	if alreadyUsable(n) {
		setAllGpuStatus(n, node.GpuSetupCompleted)
		return c.nodes.SaveNode(ctx, n)
	}

	if n.GpuSetupStatus == node.GpuSetupInProgress {
		c.logger.Debug("gpu setup already in progress, skipping re-queue", "node_id", nodeID)
		return nil
	}

	return c.queueSetup(ctx, n, DetermineSetupMode(n.Hardware.GPUs))
}

// TriggerSetup is the operator-invoked path: it fails fast for a node that is
// unknown, GPU-less, or already InProgress, and otherwise queues identically
// to the automatic path.
func (c *Controller) TriggerSetup(ctx context.Context, nodeID string, mode node.GpuSetupMode) (bool, string) {
	handle, err := c.locker.Acquire(ctx, nodeLockKey(nodeID))
	if err != nil {
		return false, fmt.Sprintf("acquire node section: %v", err)
	}
	defer handle.Release(ctx)

	n, ok, err := c.nodes.GetNode(ctx, nodeID)
	if err != nil {
		return false, fmt.Sprintf("load node: %v", err)
	}
	if !ok {
		return false, "node not found"
	}
	if !n.HasGPUs() {
		return false, "node has no GPUs"
	}
	if n.GpuSetupStatus == node.GpuSetupInProgress {
		if c.metrics != nil {
			c.metrics.TriggerRejected.WithLabelValues("already_in_progress").Inc()
		}
		return false, "setup already in progress"
	}

	if err := c.queueSetup(ctx, n, mode); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// queueSetup registers and delivers a ConfigureGpu command for n, marking it
// InProgress within the same critical section as the registration so
// concurrent evaluations collapse to at most one outstanding command.
func (c *Controller) queueSetup(ctx context.Context, n *node.Node, mode node.GpuSetupMode) error {
	commandID := uuid.New().String()
	payload := newPayload(mode, n.Hardware.GPUs, n.Hardware.ContainerRuntimes)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gpusetup: marshal payload: %w", err)
	}

	if err := c.commander.RegisterCommand(ctx, commandID, n.ID, n.ID, command.TypeConfigureGpu); err != nil {
		return fmt.Errorf("gpusetup: register command: %w", err)
	}
	if c.metrics != nil {
		c.metrics.QueuedTotal.WithLabelValues(string(mode)).Inc()
	}

	setAllGpuStatus(n, node.GpuSetupInProgress)
	if err := c.nodes.SaveNode(ctx, n); err != nil {
		return fmt.Errorf("gpusetup: persist in-progress status: %w", err)
	}

	c.emit(ctx, events.TypeGpuSetupQueued, n.ID, map[string]any{"mode": mode, "commandId": commandID})

	result, err := c.commander.DeliverCommand(ctx, n.ID, command.NodeCommand{
		CommandID:        commandID,
		Type:             command.TypeConfigureGpu,
		Payload:          data,
		RequiresAck:      true,
		TargetResourceID: n.ID,
	})
	if err != nil || !result.Success {
		// Delivery failed: back off to Pending so the next registration or
		// heartbeat re-queues instead of leaving the node stuck InProgress
		// with no agent ever having received the command.
		setAllGpuStatus(n, node.GpuSetupPending)
		if saveErr := c.nodes.SaveNode(ctx, n); saveErr != nil {
			return fmt.Errorf("gpusetup: persist pending status after delivery failure: %w", saveErr)
		}
		return nil
	}
	return nil
}

func (c *Controller) emit(ctx context.Context, eventType, nodeID string, payload map[string]any) {
	if c.sink == nil {
		return
	}
	id := nodeID
	if err := c.sink.Append(ctx, events.OrchestratorEvent{
		Type:         eventType,
		ResourceType: "Node",
		ResourceID:   nodeID,
		NodeID:       &id,
		Payload:      payload,
	}); err != nil {
		c.logger.Error("gpusetup: failed to emit event", "type", eventType, "node_id", nodeID, "error", err)
	}
}

// HandleAck implements command.AckHandler for command.TypeConfigureGpu. It
// acquires the same per-node section as EvaluateAndQueueSetup/TriggerSetup
// before touching the node: the registry's own dispatch lock is keyed
// differently and does not protect against a concurrent heartbeat-driven
// evaluation mutating the same Node.
func (c *Controller) HandleAck(ctx context.Context, oc command.OutstandingCommand, ack command.Acknowledgment) error {
	handle, err := c.locker.Acquire(ctx, nodeLockKey(oc.NodeID))
	if err != nil {
		return fmt.Errorf("gpusetup: acquire node section for %s: %w", oc.NodeID, err)
	}
	defer handle.Release(ctx)

	n, ok, err := c.nodes.GetNode(ctx, oc.NodeID)
	if err != nil {
		return fmt.Errorf("gpusetup: load node %s: %w", oc.NodeID, err)
	}
	if !ok {
		return fmt.Errorf("gpusetup: node %s not found", oc.NodeID)
	}

	if !ack.Success {
		setAllGpuStatus(n, node.GpuSetupFailed)
		if c.metrics != nil {
			c.metrics.OutcomeTotal.WithLabelValues("failed").Inc()
		}
		c.emit(ctx, events.TypeVmError, n.ID, map[string]any{"event": "gpu_setup_failed", "errorMessage": ack.ErrorMessage})
		return c.nodes.SaveNode(ctx, n)
	}

	var data ConfigureGpuAck
	parsed := len(ack.Data) > 0 && json.Unmarshal(ack.Data, &data) == nil

	if parsed && data.RebootRequired {
		setAllGpuStatus(n, node.GpuSetupRebootRequired)
		if c.metrics != nil {
			c.metrics.OutcomeTotal.WithLabelValues("reboot_required").Inc()
		}
		c.emit(ctx, events.TypeNodeRegistered, n.ID, map[string]any{"event": "gpu_setup_completed", "rebootRequired": true})
		return c.nodes.SaveNode(ctx, n)
	}

	setAllGpuStatus(n, node.GpuSetupCompleted)
	for i := range n.Hardware.GPUs {
		if parsed {
			n.Hardware.GPUs[i].IsAvailableForContainerSharing = data.ContainerSharingReady
			n.Hardware.GPUs[i].IsAvailableForPassthrough = data.VfioPassthroughReady
			n.Hardware.GPUs[i].IsIommuEnabled = data.IommuEnabled
			if data.DriverVersion != "" {
				n.Hardware.GPUs[i].DriverVersion = data.DriverVersion
			}
		} else {
			// No parseable ack payload: assume the most common successful
			// path (container sharing works) and leave other flags as-is.
			n.Hardware.GPUs[i].IsAvailableForContainerSharing = true
		}
	}

	n.Hardware.SupportsGpuContainers = false
	for _, g := range n.Hardware.GPUs {
		if g.IsAvailableForContainerSharing {
			n.Hardware.SupportsGpuContainers = true
			break
		}
	}

	if c.metrics != nil {
		c.metrics.OutcomeTotal.WithLabelValues("completed").Inc()
	}
	c.emit(ctx, events.TypeNodeRegistered, n.ID, map[string]any{
		"event":            "gpu_setup_completed",
		"rebootRequired":   false,
		"containerSharing": parsed && data.ContainerSharingReady,
		"passthrough":      parsed && data.VfioPassthroughReady,
	})
	return c.nodes.SaveNode(ctx, n)
}
