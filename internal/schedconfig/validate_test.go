package schedconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orchcore/orchd/internal/node"
)

func TestValidateAcceptsDefault(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	cfg := &SchedulingConfig{
		BaselineBenchmark:        0,
		MaxPerformanceMultiplier: -1,
		Tiers:                    map[node.QualityTier]TierConfiguration{},
		Limits: Limits{
			MaxUtilizationPercent: 150,
			MinFreeMemoryMb:       -1,
			MaxLoadAverage:        0,
		},
		Weights: Weights{Capacity: -0.1, Load: 0.5, Reputation: 0.5, Locality: 0.5},
	}

	err := Validate(cfg)
	var verr *ValidationError
	ok := assert.ErrorAs(t, err, &verr)
	if !ok {
		return
	}
	assert.GreaterOrEqual(t, len(verr.Violations), 7, "validate must report every violation in one pass, not just the first")
}

func TestValidateRequiresBurstableTier(t *testing.T) {
	cfg := Default()
	delete(cfg.Tiers, node.TierBurstable)

	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidateRejectsNonPositiveTierRatios(t *testing.T) {
	cfg := Default()
	tc := cfg.Tiers[node.TierBurstable]
	tc.CpuOvercommitRatio = 0
	cfg.Tiers[node.TierBurstable] = tc

	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsWeightsNotSummingToOne(t *testing.T) {
	cfg := Default()
	cfg.Weights = Weights{Capacity: 0.5, Load: 0.5, Reputation: 0.5, Locality: 0.5}

	assert.Error(t, Validate(cfg))
}

func TestValidateAcceptsWeightsWithinTolerance(t *testing.T) {
	cfg := Default()
	cfg.Weights = Weights{Capacity: 0.4000001, Load: 0.25, Reputation: 0.2, Locality: 0.15}

	assert.NoError(t, Validate(cfg))
}
