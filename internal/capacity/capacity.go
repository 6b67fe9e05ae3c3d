// Package capacity implements the capacity calculator: a pure translation
// of a node's hardware inventory and performance evaluation, under a
// SchedulingConfig's tier parameters, into the compute/memory/storage
// figures the scheduler allocates against.
package capacity

import (
	"math"

	"github.com/orchcore/orchd/internal/node"
	"github.com/orchcore/orchd/internal/schedconfig"
)

// NodeTotalCapacity is the envelope the node can offer across all tiers,
// computed against the Burstable tier's overcommit ratios (the maximum
// overcommit any tier on this node is permitted).
type NodeTotalCapacity struct {
	IsAcceptable       bool
	RejectionReason    string
	TotalComputePoints int64
	TotalMemoryBytes   int64
	TotalStorageBytes  int64
}

// TierSpecificCapacity is what a single QualityTier can draw from a node.
type TierSpecificCapacity struct {
	IsEligible          bool
	IneligibilityReason string
	TierComputePoints   int64
	TierMemoryBytes     int64
	TierStorageBytes    int64
}

// ComputeTotalCapacity returns n's maximum-overcommit envelope, computed
// using the Burstable tier's ratios from cfg. A node lacking an acceptable
// performance evaluation yields a zeroed, unacceptable result.
func ComputeTotalCapacity(n *node.Node, cfg *schedconfig.SchedulingConfig) NodeTotalCapacity {
	eval := n.Evaluation
	if eval == nil || !eval.IsAcceptable {
		reason := "No performance evaluation"
		if eval != nil {
			reason = eval.RejectionReason
			if reason == "" {
				reason = "Performance evaluation not acceptable"
			}
		}
		return NodeTotalCapacity{IsAcceptable: false, RejectionReason: reason}
	}

	tier, ok := cfg.Tiers[node.TierBurstable]
	if !ok {
		return NodeTotalCapacity{IsAcceptable: false, RejectionReason: "Burstable tier not configured"}
	}

	physicalCores := int64(n.Hardware.PhysicalCores)
	physicalMemory := n.Hardware.AllocatableMemory
	physicalStorage := n.Hardware.TotalStorageBytes()

	return NodeTotalCapacity{
		IsAcceptable:       true,
		TotalComputePoints: int64(math.Floor(float64(physicalCores) * eval.PointsPerCore * tier.CpuOvercommitRatio)),
		TotalMemoryBytes:   physicalMemory,
		TotalStorageBytes:  int64(math.Floor(float64(physicalStorage) * tier.StorageOvercommitRatio)),
	}
}

// ComputeTierCapacity returns what n can offer a specific tier. A node whose
// evaluation does not list tier among EligibleTiers is ineligible.
func ComputeTierCapacity(n *node.Node, tier node.QualityTier, cfg *schedconfig.SchedulingConfig) TierSpecificCapacity {
	eval := n.Evaluation
	if eval == nil || !eval.IsEligibleFor(tier) {
		reason := eval.IneligibilityReasonFor(tier)
		return TierSpecificCapacity{IsEligible: false, IneligibilityReason: reason}
	}

	tc, ok := cfg.Tiers[tier]
	if !ok {
		return TierSpecificCapacity{IsEligible: false, IneligibilityReason: "tier not configured"}
	}

	physicalCores := int64(n.Hardware.PhysicalCores)
	physicalMemory := n.Hardware.AllocatableMemory
	physicalStorage := n.Hardware.TotalStorageBytes()

	return TierSpecificCapacity{
		IsEligible:        true,
		TierComputePoints: int64(math.Floor(float64(physicalCores) * eval.PointsPerCore * tc.CpuOvercommitRatio)),
		TierMemoryBytes:   physicalMemory,
		TierStorageBytes:  int64(math.Floor(float64(physicalStorage) * tc.StorageOvercommitRatio)),
	}
}
