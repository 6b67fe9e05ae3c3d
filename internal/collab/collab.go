// Package collab declares the collaborator interfaces the core components
// consume but do not implement: running a node's CPU benchmark executable
// and deciding marketplace listing eligibility. Both live outside this
// module's scope; the interfaces here only name that seam, and no package in
// this module imports them.
package collab

import "context"

// BenchmarkRunner executes the reference CPU benchmark against a node and
// reports its score, the same unit BaselineBenchmark in scheduling config is
// expressed in.
type BenchmarkRunner interface {
	RunBenchmark(ctx context.Context, nodeID string) (score float64, err error)
}

// ReviewEligibility decides whether a node or the operator account behind it
// may be listed for marketplace review, based on reputation signals this
// module does not track.
type ReviewEligibility interface {
	IsEligible(ctx context.Context, nodeID string) (bool, error)
}
