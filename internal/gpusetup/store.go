package gpusetup

import (
	"context"

	"github.com/orchcore/orchd/internal/node"
)

// NodeStore is the repository contract the GPU setup controller needs to
// read and persist the Node it mutates. The node registry/inventory
// subsystem that owns registration and heartbeat handling is an external
// collaborator; this is the narrow slice of it the setup controller
// depends on.
type NodeStore interface {
	GetNode(ctx context.Context, nodeID string) (*node.Node, bool, error)
	SaveNode(ctx context.Context, n *node.Node) error
}
