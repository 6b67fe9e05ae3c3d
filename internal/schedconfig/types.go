// Package schedconfig implements the configuration store: a persisted,
// versioned, validated, cache-fronted SchedulingConfig record that every
// capacity and placement decision in the orchestrator depends on.
package schedconfig

import (
	"time"

	"github.com/orchcore/orchd/internal/node"
)

// TierConfiguration carries the overcommit and pricing knobs for one quality
// tier.
type TierConfiguration struct {
	MinimumBenchmark       float64 `json:"minimumBenchmark" validate:"gt=0"`
	CpuOvercommitRatio     float64 `json:"cpuOvercommitRatio" validate:"gt=0"`
	StorageOvercommitRatio float64 `json:"storageOvercommitRatio" validate:"gt=0"`
	PriceMultiplier        float64 `json:"priceMultiplier" validate:"gte=0"`
	Description            string  `json:"description"`
	TargetUseCase          string  `json:"targetUseCase"`
}

// Limits bounds the load the scheduler is willing to place on a node.
type Limits struct {
	MaxUtilizationPercent float64 `json:"maxUtilizationPercent" validate:"gt=0,lte=100"`
	MinFreeMemoryMb       int64   `json:"minFreeMemoryMb" validate:"gte=0"`
	MaxLoadAverage        float64 `json:"maxLoadAverage" validate:"gt=0"`
	PreferLocalRegion     bool    `json:"preferLocalRegion"`
}

// Weights are the scoring factors used to rank candidate nodes; they must
// sum to 1.0 within floating tolerance.
type Weights struct {
	Capacity   float64 `json:"capacity" validate:"gte=0"`
	Load       float64 `json:"load" validate:"gte=0"`
	Reputation float64 `json:"reputation" validate:"gte=0"`
	Locality   float64 `json:"locality" validate:"gte=0"`
}

// Sum returns the total of the four weight components.
func (w Weights) Sum() float64 {
	return w.Capacity + w.Load + w.Reputation + w.Locality
}

// weightTolerance is how far Weights.Sum() may drift from 1.0 and still be
// accepted; floating point accumulation over repeated JSON round-trips
// otherwise fails an exact comparison.
const weightTolerance = 1e-6

// SchedulingConfig is the single globally-shared configuration record every
// capacity computation and placement decision reads.
type SchedulingConfig struct {
	Version                  int64                                  `json:"version"`
	BaselineBenchmark        float64                                `json:"baselineBenchmark" validate:"gt=0"`
	MaxPerformanceMultiplier float64                                `json:"maxPerformanceMultiplier" validate:"gt=0"`
	Tiers                    map[node.QualityTier]TierConfiguration `json:"tiers" validate:"dive"`
	Limits                   Limits                                 `json:"limits"`
	Weights                  Weights                                `json:"weights"`
	CreatedAt                time.Time                              `json:"createdAt"`
	UpdatedAt                time.Time                              `json:"updatedAt"`
	UpdatedBy                string                                 `json:"updatedBy"`
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// affecting the store's cached copy (the map is copied; struct values inside
// it are copied by value).
func (c *SchedulingConfig) Clone() *SchedulingConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Tiers = make(map[node.QualityTier]TierConfiguration, len(c.Tiers))
	for t, cfg := range c.Tiers {
		clone.Tiers[t] = cfg
	}
	return &clone
}
