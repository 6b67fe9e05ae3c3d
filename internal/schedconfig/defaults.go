package schedconfig

import "github.com/orchcore/orchd/internal/node"

// Default returns the canonical bootstrap SchedulingConfig written on first
// load when no persisted row exists. These values must not change without a
// corresponding version bump strategy for existing installations.
func Default() *SchedulingConfig {
	return &SchedulingConfig{
		Version:                  1,
		BaselineBenchmark:        1000,
		MaxPerformanceMultiplier: 20.0,
		Tiers: map[node.QualityTier]TierConfiguration{
			node.TierBurstable: {
				MinimumBenchmark:       1000,
				CpuOvercommitRatio:     4.0,
				StorageOvercommitRatio: 2.5,
				PriceMultiplier:        0.5,
				Description:            "Best-effort capacity with the highest overcommit",
				TargetUseCase:          "dev/test, batch jobs tolerant of jitter",
			},
			node.TierBalanced: {
				MinimumBenchmark:       1500,
				CpuOvercommitRatio:     2.7,
				StorageOvercommitRatio: 2.0,
				PriceMultiplier:        0.7,
				Description:            "General purpose workloads",
				TargetUseCase:          "web services, small databases",
			},
			node.TierStandard: {
				MinimumBenchmark:       2500,
				CpuOvercommitRatio:     1.6,
				StorageOvercommitRatio: 1.5,
				PriceMultiplier:        1.0,
				Description:            "Predictable performance with light overcommit",
				TargetUseCase:          "production services",
			},
			node.TierGuaranteed: {
				MinimumBenchmark:       4000,
				CpuOvercommitRatio:     1.0,
				StorageOvercommitRatio: 1.0,
				PriceMultiplier:        1.8,
				Description:            "Dedicated capacity, no CPU overcommit",
				TargetUseCase:          "latency-sensitive and compliance workloads",
			},
		},
		Limits: Limits{
			MaxUtilizationPercent: 90.0,
			MinFreeMemoryMb:       512,
			MaxLoadAverage:        8.0,
			PreferLocalRegion:     true,
		},
		Weights: Weights{
			Capacity:   0.40,
			Load:       0.25,
			Reputation: 0.20,
			Locality:   0.15,
		},
	}
}
