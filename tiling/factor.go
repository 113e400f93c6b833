package tiling

import (
	"fmt"
	"sort"
)

// FactorPolicy maps an image dimension to a partition factor. Implementations
// must be deterministic and should be non-decreasing in the dimension.
type FactorPolicy interface {
	Factor(dimension int) int
}

// FixedFactor always returns the same factor
type FixedFactor int

// Factor implements FactorPolicy
func (f FixedFactor) Factor(int) int { return int(f) }

// FactorStep is one threshold of a StepFactor policy.
type FactorStep struct {
	MinDimension int `yaml:"minDimension" json:"minDimension"`
	Factor       int `yaml:"factor" json:"factor"`
}

// StepFactor picks the factor of the last step whose MinDimension does not
// exceed the dimension. Dimensions below every step get factor 1.
type StepFactor []FactorStep

// NewStepFactor sorts the steps and checks that factors are positive and
// non-decreasing.
func NewStepFactor(steps []FactorStep) (StepFactor, error) {
	sorted := make(StepFactor, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinDimension < sorted[j].MinDimension
	})

	for i, s := range sorted {
		if s.Factor <= 0 {
			return nil, fmt.Errorf("%w: step %d has factor %d", ErrInvalidFactor, i, s.Factor)
		}
		if s.MinDimension < 0 {
			return nil, fmt.Errorf("partition step %d: minDimension must be non-negative, got %d", i, s.MinDimension)
		}
		if i > 0 && s.Factor < sorted[i-1].Factor {
			return nil, fmt.Errorf("partition steps must be non-decreasing: factor %d at %d follows %d",
				s.Factor, s.MinDimension, sorted[i-1].Factor)
		}
	}
	return sorted, nil
}

// Factor implements FactorPolicy
func (s StepFactor) Factor(dimension int) int {
	factor := 1
	for _, step := range s {
		if step.MinDimension > dimension {
			break
		}
		factor = step.Factor
	}
	return factor
}

// ResolveFactor returns override when it is positive, otherwise the policy's
// factor for dimension. A non-positive result is ErrInvalidFactor.
func ResolveFactor(policy FactorPolicy, dimension, override int) (int, error) {
	if override > 0 {
		return override, nil
	}
	if override < 0 {
		return 0, fmt.Errorf("%w: override %d", ErrInvalidFactor, override)
	}
	if policy == nil {
		return 0, fmt.Errorf("%w: no partition policy configured", ErrInvalidFactor)
	}
	f := policy.Factor(dimension)
	if f <= 0 {
		return 0, fmt.Errorf("%w: policy returned %d for dimension %d", ErrInvalidFactor, f, dimension)
	}
	return f, nil
}
