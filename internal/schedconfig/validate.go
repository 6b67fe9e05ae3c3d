package schedconfig

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/orchcore/orchd/internal/node"
)

// structValidator checks every `validate:"..."` tag on SchedulingConfig and
// its nested types; a single instance is reused across calls since it is
// safe for concurrent use once built.
var structValidator = validator.New()

// ValidationError aggregates every violation found in a single validation
// pass. Validation never returns after the first problem: the caller gets
// the complete list in one round trip instead of fixing one violation at a
// time across repeated submissions.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scheduling config validation failed: %s", strings.Join(e.Violations, "; "))
}

// Validate checks cfg against every configuration invariant and returns a
// single *ValidationError listing every violation, or nil if cfg is valid.
// Per-field bounds (positivity, percentage ranges) run through the
// go-playground/validator struct tags on SchedulingConfig and its nested
// types; the cross-field invariants tags cannot express (tier presence,
// weights summing to 1.0) are checked directly afterward.
func Validate(cfg *SchedulingConfig) error {
	var violations []string

	if err := structValidator.Struct(cfg); err != nil {
		for _, fe := range err.(validator.ValidationErrors) {
			violations = append(violations, fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag()))
		}
	}

	if len(cfg.Tiers) == 0 {
		violations = append(violations, "tiers must not be empty")
	} else if _, ok := cfg.Tiers[node.TierBurstable]; !ok {
		violations = append(violations, "tiers must contain burstable")
	}

	if math.Abs(cfg.Weights.Sum()-1.0) > weightTolerance {
		violations = append(violations, fmt.Sprintf("weights must sum to 1.0, got %f", cfg.Weights.Sum()))
	}

	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}
