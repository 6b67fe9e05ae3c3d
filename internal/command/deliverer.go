package command

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// ChannelDeliverer is the in-process Deliverer: it enqueues a command onto a
// per-node buffered channel and reports success as soon as the channel
// accepts it. A node agent's connection (long-poll response, push stream)
// drains the channel returned by Channel; that transport lives outside this
// module. A per-node token bucket caps how fast one node can be handed new
// commands, so a misbehaving scheduler loop can't flood a single agent's
// queue while leaving every other node's budget untouched.
type ChannelDeliverer struct {
	mu        sync.Mutex
	outbound  map[string]chan NodeCommand
	limiters  map[string]*rate.Limiter
	capacity  int
	rateLimit rate.Limit
	burst     int
}

// NewChannelDeliverer constructs a deliverer whose per-node queues hold up
// to capacity commands before DeliverCommand reports failure instead of
// blocking.
func NewChannelDeliverer(capacity int) *ChannelDeliverer {
	return NewChannelDelivererWithRateLimit(capacity, 0, 0)
}

// NewChannelDelivererWithRateLimit is NewChannelDeliverer plus a per-node
// delivery rate limit: commandsPerSecond <= 0 disables limiting (every
// command is admitted immediately, subject only to queue capacity).
func NewChannelDelivererWithRateLimit(capacity int, commandsPerSecond float64, burst int) *ChannelDeliverer {
	if capacity <= 0 {
		capacity = 16
	}
	if burst <= 0 {
		burst = 1
	}
	return &ChannelDeliverer{
		outbound:  make(map[string]chan NodeCommand),
		limiters:  make(map[string]*rate.Limiter),
		capacity:  capacity,
		rateLimit: rate.Limit(commandsPerSecond),
		burst:     burst,
	}
}

func (d *ChannelDeliverer) queueFor(nodeID string) chan NodeCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.outbound[nodeID]
	if !ok {
		ch = make(chan NodeCommand, d.capacity)
		d.outbound[nodeID] = ch
	}
	return ch
}

// limiterFor lazily creates the per-node token bucket; nodes seen for the
// first time start with a full burst allowance.
func (d *ChannelDeliverer) limiterFor(nodeID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[nodeID]
	if !ok {
		l = rate.NewLimiter(d.rateLimit, d.burst)
		d.limiters[nodeID] = l
	}
	return l
}

// Channel exposes the outbound queue for nodeID so the node-agent transport
// can drain it; it is created on first reference from either side.
func (d *ChannelDeliverer) Channel(nodeID string) <-chan NodeCommand {
	return d.queueFor(nodeID)
}

// Deliver implements Deliverer.
func (d *ChannelDeliverer) Deliver(ctx context.Context, nodeID string, cmd NodeCommand) (DeliveryResult, error) {
	if d.rateLimit > 0 && !d.limiterFor(nodeID).Allow() {
		return DeliveryResult{Success: false, Message: fmt.Sprintf("delivery rate limit exceeded for node %s", nodeID)}, nil
	}

	select {
	case d.queueFor(nodeID) <- cmd:
		return DeliveryResult{Success: true}, nil
	case <-ctx.Done():
		return DeliveryResult{}, ctx.Err()
	default:
		return DeliveryResult{Success: false, Message: fmt.Sprintf("outbound queue full for node %s", nodeID)}, nil
	}
}
