package hazard

import (
	"math"
	"sort"

	apperrors "sitehazard/internal/errors"
)

// InterpolateExceedance evaluates a hazard curve at an arbitrary level,
// linearly in level between bracketing grid points and clamped to the end
// values outside the grid.
func InterpolateExceedance(levels, probs []float64, level float64) (float64, error) {
	if len(levels) != len(probs) {
		return 0, apperrors.NewMismatchedRecordsError("levels and probabilities", len(levels), len(probs))
	}
	if len(levels) == 0 {
		return 0, apperrors.NewInsufficientDataError("intensity levels", 0, 1)
	}
	if math.IsNaN(level) {
		return 0, apperrors.NewAppValidationError("interpolation level is NaN")
	}
	if err := ValidateLevels(levels); err != nil {
		return 0, err
	}

	n := len(levels)
	if level <= levels[0] {
		return probs[0], nil
	}
	if level >= levels[n-1] {
		return probs[n-1], nil
	}

	hi := sort.SearchFloat64s(levels, level)
	if levels[hi] == level {
		return probs[hi], nil
	}
	lo := hi - 1
	t := (level - levels[lo]) / (levels[hi] - levels[lo])
	return probs[lo] + t*(probs[hi]-probs[lo]), nil
}
