package command

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/orchcore/orchd/internal/events"
	"github.com/orchcore/orchd/internal/lock"
	"github.com/orchcore/orchd/internal/metrics"
)

// Deliverer hands a command to the addressed node agent. The real mechanism
// (long-poll response, push channel, message queue) is a collaborator
// contract out of scope for this module; implementations typically enqueue
// onto a per-node outbound channel drained by the agent's connection.
type Deliverer interface {
	Deliver(ctx context.Context, nodeID string, cmd NodeCommand) (DeliveryResult, error)
}

// AckHandler reacts to a retired command's acknowledgment. The GPU setup
// controller registers itself for TypeConfigureGpu.
type AckHandler interface {
	HandleAck(ctx context.Context, oc OutstandingCommand, ack Acknowledgment) error
}

// defaultTimeouts gives the per-type reap bound: 30 minutes for
// ConfigureGpu, which can involve a driver install and reboot, and falls
// back to this package's DefaultTimeout for types with no explicit entry.
var defaultTimeouts = map[Type]time.Duration{
	TypeConfigureGpu: 30 * time.Minute,
}

// DefaultTimeout is the reap bound applied to command types with no
// type-specific entry.
const DefaultTimeout = 10 * time.Minute

// Registry implements the command registry & dispatcher: it converts an
// intent to act on a node into a durable outstanding entry plus a delivery
// attempt, and routes asynchronous acknowledgments back to the subsystem
// that issued the command.
type Registry struct {
	store     Store
	deliverer Deliverer
	locker    lock.Locker
	sink      *events.Sink // optional; nil disables event emission
	logger    *slog.Logger
	metrics   *metrics.CommandMetrics

	handlersMu sync.RWMutex
	handlers   map[Type]AckHandler

	timeoutsMu sync.RWMutex
	timeouts   map[Type]time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRegistry wires a dispatcher over store (outstanding-command
// persistence), deliverer (the node-agent transport), and locker (per-node
// ack serialization).
func NewRegistry(store Store, deliverer Deliverer, locker lock.Locker, logger *slog.Logger) *Registry {
	return NewRegistryWithMetrics(store, deliverer, locker, logger, nil)
}

// NewRegistryWithMetrics is NewRegistry plus Prometheus instrumentation; m
// may be nil to disable it.
func NewRegistryWithMetrics(store Store, deliverer Deliverer, locker lock.Locker, logger *slog.Logger, m *metrics.CommandMetrics) *Registry {
	return NewRegistryWithSink(store, deliverer, locker, nil, logger, m)
}

// NewRegistryWithSink is NewRegistryWithMetrics plus an event sink; sink may
// be nil to disable emission entirely.
func NewRegistryWithSink(store Store, deliverer Deliverer, locker lock.Locker, sink *events.Sink, logger *slog.Logger, m *metrics.CommandMetrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Registry{
		store:     store,
		deliverer: deliverer,
		locker:    locker,
		sink:      sink,
		logger:    logger,
		metrics:   m,
		handlers:  make(map[Type]AckHandler),
		timeouts:  make(map[Type]time.Duration),
		stopCh:    make(chan struct{}),
	}
}

func (r *Registry) emit(ctx context.Context, eventType string, oc OutstandingCommand, payload map[string]any) {
	if r.sink == nil {
		return
	}
	nodeID := oc.NodeID
	if err := r.sink.Append(ctx, events.OrchestratorEvent{
		Type:         eventType,
		ResourceType: "Command",
		ResourceID:   oc.CommandID,
		NodeID:       &nodeID,
		Payload:      payload,
	}); err != nil {
		r.logger.Error("command: failed to emit event", "type", eventType, "command_id", oc.CommandID, "error", err)
	}
}

// RegisterHandler associates an AckHandler with a command Type. Must be
// called before any command of that type is processed.
func (r *Registry) RegisterHandler(t Type, h AckHandler) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.handlers[t] = h
}

// SetTimeout overrides the reap bound for a command type.
func (r *Registry) SetTimeout(t Type, d time.Duration) {
	r.timeoutsMu.Lock()
	defer r.timeoutsMu.Unlock()
	r.timeouts[t] = d
}

func (r *Registry) timeoutFor(t Type) time.Duration {
	r.timeoutsMu.RLock()
	if d, ok := r.timeouts[t]; ok {
		r.timeoutsMu.RUnlock()
		return d
	}
	r.timeoutsMu.RUnlock()
	if d, ok := defaultTimeouts[t]; ok {
		return d
	}
	return DefaultTimeout
}

func nodeLockKey(nodeID string) string { return "command:node:" + nodeID }

// RegisterCommand records an outstanding entry. Callers must do this before
// DeliverCommand so an ack arriving concurrently with delivery always finds
// a registration.
func (r *Registry) RegisterCommand(ctx context.Context, commandID, nodeID, targetResourceID string, t Type) error {
	oc := OutstandingCommand{
		CommandID:        commandID,
		NodeID:           nodeID,
		TargetResourceID: targetResourceID,
		Type:             t,
		IssuedAt:         time.Now(),
	}
	if err := r.store.SaveOutstanding(ctx, oc); err != nil {
		return fmt.Errorf("command: register %s: %w", commandID, err)
	}
	if r.metrics != nil {
		r.metrics.RegisteredTotal.WithLabelValues(string(t)).Inc()
		r.metrics.OutstandingGauge.WithLabelValues(string(t)).Inc()
	}
	r.emit(ctx, events.TypeCommandIssued, oc, map[string]any{"targetResourceId": targetResourceID})
	return nil
}

// DeliverCommand attempts to hand cmd to the node agent addressed by
// nodeID.
func (r *Registry) DeliverCommand(ctx context.Context, nodeID string, cmd NodeCommand) (DeliveryResult, error) {
	if r.deliverer == nil {
		return DeliveryResult{}, fmt.Errorf("command: no deliverer configured")
	}
	return r.deliverer.Deliver(ctx, nodeID, cmd)
}

// ProcessAcknowledgment looks up the outstanding entry by CommandID. If
// absent — including a second ack for an already-retired command — it logs
// and drops, making the registry idempotent to double delivery. If present,
// it dispatches to the handler registered for that command's Type under
// this registry's own per-node section, then retires the entry. This
// section only serializes against other acknowledgments (including the
// reaper's synthetic ones) for the same node; a handler that mutates domain state shared with another
// controller (e.g. a Node also touched by a heartbeat-driven evaluation)
// must still acquire its own per-node lock before doing so.
func (r *Registry) ProcessAcknowledgment(ctx context.Context, ack Acknowledgment) error {
	return r.processAcknowledgment(ctx, ack, events.TypeCommandAcked)
}

func (r *Registry) processAcknowledgment(ctx context.Context, ack Acknowledgment, eventType string) error {
	oc, ok, err := r.store.GetOutstanding(ctx, ack.CommandID)
	if err != nil {
		return fmt.Errorf("command: lookup %s: %w", ack.CommandID, err)
	}
	if !ok {
		r.logger.Info("dropping acknowledgment for unknown or already-retired command",
			"command_id", ack.CommandID)
		return nil
	}

	handle, err := r.locker.Acquire(ctx, nodeLockKey(oc.NodeID))
	if err != nil {
		return fmt.Errorf("command: acquire node section for %s: %w", oc.NodeID, err)
	}
	defer handle.Release(ctx)

	// Re-check after acquiring the per-node section: a concurrent ack for the
	// same command may have already retired it while we waited.
	oc, ok, err = r.store.GetOutstanding(ctx, ack.CommandID)
	if err != nil {
		return fmt.Errorf("command: re-check %s: %w", ack.CommandID, err)
	}
	if !ok {
		r.logger.Info("dropping acknowledgment, retired while waiting for node section",
			"command_id", ack.CommandID)
		return nil
	}

	r.handlersMu.RLock()
	handler := r.handlers[oc.Type]
	r.handlersMu.RUnlock()

	if handler == nil {
		r.logger.Warn("no ack handler registered for command type", "type", oc.Type, "command_id", ack.CommandID)
	} else if err := handler.HandleAck(ctx, oc, ack); err != nil {
		r.logger.Error("ack handler failed", "command_id", ack.CommandID, "type", oc.Type, "error", err)
	}

	if err := r.store.DeleteOutstanding(ctx, oc.CommandID); err != nil {
		return fmt.Errorf("command: retire %s: %w", oc.CommandID, err)
	}
	if r.metrics != nil {
		r.metrics.AckedTotal.WithLabelValues(string(oc.Type), strconv.FormatBool(ack.Success)).Inc()
		r.metrics.OutstandingGauge.WithLabelValues(string(oc.Type)).Dec()
	}
	r.emit(ctx, eventType, oc, map[string]any{"success": ack.Success, "errorMessage": ack.ErrorMessage})
	return nil
}

// StartReaper launches the background loop that retires outstanding
// commands older than their type's timeout, synthesizing a failed
// acknowledgment so the issuing state machine advances instead of wedging
// forever on a dead agent.
func (r *Registry) StartReaper(ctx context.Context, interval time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.reapOnce(ctx)
			}
		}
	}()
}

// Stop signals the reaper loop to exit and waits for it.
func (r *Registry) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Registry) reapOnce(ctx context.Context) {
	// ListOutstandingOlderThan uses the tightest (shortest) configured timeout
	// as its cutoff; per-entry filtering below applies each type's own bound.
	shortest := DefaultTimeout
	r.timeoutsMu.RLock()
	for _, d := range r.timeouts {
		if d < shortest {
			shortest = d
		}
	}
	r.timeoutsMu.RUnlock()
	for _, d := range defaultTimeouts {
		if d < shortest {
			shortest = d
		}
	}

	candidates, err := r.store.ListOutstandingOlderThan(ctx, time.Now().Add(-shortest))
	if err != nil {
		r.logger.Error("reaper: list outstanding failed", "error", err)
		return
	}

	for _, oc := range candidates {
		if time.Since(oc.IssuedAt) < r.timeoutFor(oc.Type) {
			continue
		}
		r.logger.Warn("reaping outstanding command", "command_id", oc.CommandID, "node_id", oc.NodeID, "type", oc.Type)
		if r.metrics != nil {
			r.metrics.ReapedTotal.WithLabelValues(string(oc.Type)).Inc()
		}
		if err := r.processAcknowledgment(ctx, Acknowledgment{
			CommandID:    oc.CommandID,
			Success:      false,
			ErrorMessage: "timeout",
		}, events.TypeCommandTimedOut); err != nil {
			r.logger.Error("reaper: synthetic ack failed", "command_id", oc.CommandID, "error", err)
		}
	}
}
