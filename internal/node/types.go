// Package node defines the hardware and evaluation data model for worker nodes:
// the inventory reported by a node agent, the benchmark-derived performance
// evaluation, and the quality tiers the scheduler sizes capacity against.
package node

import "time"

// QualityTier is a scheduling contract level, strictly ordered by increasing
// performance guarantee: Burstable < Balanced < Standard < Guaranteed.
type QualityTier string

const (
	TierBurstable  QualityTier = "burstable"
	TierBalanced   QualityTier = "balanced"
	TierStandard   QualityTier = "standard"
	TierGuaranteed QualityTier = "guaranteed"
)

// tierRank gives the strict ordering used by invariants and by callers that
// need to compare two tiers without string comparison.
var tierRank = map[QualityTier]int{
	TierBurstable:  0,
	TierBalanced:   1,
	TierStandard:   2,
	TierGuaranteed: 3,
}

// Rank returns the tier's position in the strict ordering. Unknown tiers rank
// below Burstable so they never win a comparison against a known tier.
func (t QualityTier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

// Valid reports whether t is one of the four known tiers.
func (t QualityTier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// AllTiers lists every known tier in ascending rank order.
func AllTiers() []QualityTier {
	return []QualityTier{TierBurstable, TierBalanced, TierStandard, TierGuaranteed}
}

// GpuSetupStatus is the lifecycle state of GPU hardware enablement on a node,
// mirrored per-GPU and at the node level.
type GpuSetupStatus string

const (
	GpuSetupNotNeeded      GpuSetupStatus = "not_needed"
	GpuSetupPending        GpuSetupStatus = "pending"
	GpuSetupInProgress     GpuSetupStatus = "in_progress"
	GpuSetupRebootRequired GpuSetupStatus = "reboot_required"
	GpuSetupCompleted      GpuSetupStatus = "completed"
	GpuSetupFailed         GpuSetupStatus = "failed"
)

// GpuSetupMode selects the mechanism used to make a GPU usable.
type GpuSetupMode string

const (
	GpuModeVfioPassthrough GpuSetupMode = "VfioPassthrough"
	GpuModeAuto            GpuSetupMode = "Auto"
)

// StorageDevice is one physical or virtual block device reported by a node.
type StorageDevice struct {
	Name       string `json:"name"`
	TotalBytes int64  `json:"totalBytes"`
}

// GPU describes a single accelerator attached to a node, along with the
// readiness flags the setup controller drives.
type GPU struct {
	Vendor                         string         `json:"vendor"`
	Model                          string         `json:"model"`
	PciAddress                     string         `json:"pciAddress"`
	MemoryBytes                    int64          `json:"memoryBytes"`
	IsIommuEnabled                 bool           `json:"isIommuEnabled"`
	IsAvailableForPassthrough      bool           `json:"isAvailableForPassthrough"`
	IsAvailableForContainerSharing bool           `json:"isAvailableForContainerSharing"`
	DriverVersion                  string         `json:"driverVersion"`
	SetupStatus                    GpuSetupStatus `json:"setupStatus"`
}

// HardwareInventory is the raw capacity a node agent reports on registration
// and heartbeat.
type HardwareInventory struct {
	PhysicalCores         int             `json:"physicalCores"`
	AllocatableMemory     int64           `json:"allocatableMemoryBytes"`
	Storage               []StorageDevice `json:"storage"`
	GPUs                  []GPU           `json:"gpus"`
	ContainerRuntimes     []string        `json:"containerRuntimes"`
	Architecture          string          `json:"architecture"`
	SupportsGpu           bool            `json:"supportsGpu"`
	SupportsGpuContainers bool            `json:"supportsGpuContainers"`
}

// TotalStorageBytes sums every reported storage device.
func (h HardwareInventory) TotalStorageBytes() int64 {
	var total int64
	for _, d := range h.Storage {
		total += d.TotalBytes
	}
	return total
}

// TierCapabilities records, per tier, whether a node is eligible and why not
// when it isn't.
type TierCapabilities struct {
	IneligibilityReason string `json:"ineligibilityReason,omitempty"`
}

// PerformanceEvaluation is the outcome of running the node's benchmark
// against the baseline and scoring it against each quality tier.
type PerformanceEvaluation struct {
	IsAcceptable          bool                             `json:"isAcceptable"`
	PointsPerCore         float64                          `json:"pointsPerCore"`
	PerformanceMultiplier float64                          `json:"performanceMultiplier"`
	EligibleTiers         map[QualityTier]bool             `json:"eligibleTiers"`
	TierCapabilities      map[QualityTier]TierCapabilities `json:"tierCapabilities"`
	RejectionReason       string                           `json:"rejectionReason,omitempty"`
}

// IsEligibleFor reports whether the evaluation lists tier as eligible.
func (e *PerformanceEvaluation) IsEligibleFor(tier QualityTier) bool {
	if e == nil {
		return false
	}
	return e.EligibleTiers[tier]
}

// IneligibilityReasonFor returns the recorded reason a node cannot serve
// tier, falling back to a generic message when none was recorded.
func (e *PerformanceEvaluation) IneligibilityReasonFor(tier QualityTier) string {
	if e == nil {
		return "Node not evaluated"
	}
	if cap, ok := e.TierCapabilities[tier]; ok && cap.IneligibilityReason != "" {
		return cap.IneligibilityReason
	}
	return "Node not evaluated"
}

// Node is a single worker in the fleet: stable identity, reported hardware,
// the most recent performance evaluation, and GPU setup state.
type Node struct {
	ID              string                 `json:"id"`
	Hardware        HardwareInventory      `json:"hardware"`
	Evaluation      *PerformanceEvaluation `json:"evaluation,omitempty"`
	GpuSetupStatus  GpuSetupStatus         `json:"gpuSetupStatus"`
	RegisteredAt    time.Time              `json:"registeredAt"`
	LastHeartbeatAt time.Time              `json:"lastHeartbeatAt"`
}

// HasGPUs reports whether the node's inventory lists any accelerator.
func (n *Node) HasGPUs() bool {
	return n != nil && len(n.Hardware.GPUs) > 0
}
