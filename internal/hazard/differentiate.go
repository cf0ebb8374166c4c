package hazard

import (
	"math"

	apperrors "sitehazard/internal/errors"
)

// DensityProxy returns |dp/dL| on the level grid. Interior points use the
// second-order central difference for non-uniform spacing, the two ends use
// one-sided first differences. The result is not normalized.
func DensityProxy(levels, probs []float64) ([]float64, error) {
	if len(levels) != len(probs) {
		return nil, apperrors.NewMismatchedRecordsError("levels and probabilities", len(levels), len(probs))
	}
	n := len(levels)
	if n < MinLevels {
		return nil, apperrors.NewInsufficientDataError("intensity levels", n, MinLevels)
	}
	if err := ValidateLevels(levels); err != nil {
		return nil, err
	}

	d := make([]float64, n)
	d[0] = (probs[1] - probs[0]) / (levels[1] - levels[0])
	d[n-1] = (probs[n-1] - probs[n-2]) / (levels[n-1] - levels[n-2])

	for i := 1; i < n-1; i++ {
		hd := levels[i] - levels[i-1]
		hs := levels[i+1] - levels[i]
		d[i] = (hd*hd*probs[i+1] - hs*hs*probs[i-1] + (hs*hs-hd*hd)*probs[i]) /
			(hs * hd * (hd + hs))
	}

	for i := range d {
		d[i] = math.Abs(d[i])
	}
	return d, nil
}
