package hazard

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	apperrors "sitehazard/internal/errors"
)

// ExceedanceModel gives the conditional exceedance row G[m][·] used by
// Convolve: 1 − G[m][j] is the weight rock level j contributes to surface
// level m.
type ExceedanceModel interface {
	ExceedanceRow(levels []float64, m int) ([]float64, error)
}

var (
	_ ExceedanceModel = AmplificationModel{}
	_ ExceedanceModel = ConstantRatio{}
)

func (a AmplificationModel) validate() error {
	if math.IsNaN(a.Slope) || a.Slope == 0 {
		return apperrors.NewDegenerateModelError(a.Slope, a.Dispersion)
	}
	if !(a.Intercept > 0) || math.IsInf(a.Intercept, 0) {
		return apperrors.NewNonPositiveValueError("intercept", 0, a.Intercept)
	}
	if math.IsNaN(a.Dispersion) || math.IsInf(a.Dispersion, 0) || a.Dispersion < 0 {
		return apperrors.NewDegenerateModelError(a.Slope, a.Dispersion)
	}
	return nil
}

// ExceedanceRow returns G[m][·] for the power-law model. Each rock level j
// maps the threshold ratio L[m]/L[j] to a median rock intensity
// exp(ln(ratio/b)/|c|); G[j] is the lognormal survival of L[m] around that
// median. With zero dispersion the survival collapses to 1 when the median
// is above L[m] and 0 otherwise.
func (a AmplificationModel) ExceedanceRow(levels []float64, m int) ([]float64, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	if err := checkTarget(levels, m); err != nil {
		return nil, err
	}

	target := levels[m]
	lnTarget := math.Log(target)
	absSlope := math.Abs(a.Slope)
	dist := distuv.Normal{Mu: 0, Sigma: a.Dispersion}

	row := make([]float64, len(levels))
	for j, level := range levels {
		lnMedian := math.Log(target/level/a.Intercept) / absSlope
		if a.Dispersion == 0 {
			if lnMedian > lnTarget {
				row[j] = 1
			}
			continue
		}
		row[j] = dist.Survival(lnTarget - lnMedian)
	}
	return row, nil
}

// ConstantRatio is a deterministic linear site: surface = K·rock
type ConstantRatio struct {
	K float64 `json:"k"`
}

// ExceedanceRow returns 1 where K·L[j] does not exceed L[m] and 0 elsewhere,
// so only rock levels amplified beyond L[m] contribute. A tie gives 1.
func (c ConstantRatio) ExceedanceRow(levels []float64, m int) ([]float64, error) {
	if !(c.K > 0) || math.IsInf(c.K, 0) {
		return nil, apperrors.NewNonPositiveValueError("ratio", 0, c.K)
	}
	if err := checkTarget(levels, m); err != nil {
		return nil, err
	}

	row := make([]float64, len(levels))
	for j, level := range levels {
		if c.K*level <= levels[m] {
			row[j] = 1
		}
	}
	return row, nil
}

// ExceedanceMatrix evaluates the model for every target level
func ExceedanceMatrix(model ExceedanceModel, levels []float64) ([][]float64, error) {
	if err := ValidateLevels(levels); err != nil {
		return nil, err
	}
	matrix := make([][]float64, len(levels))
	for m := range levels {
		row, err := model.ExceedanceRow(levels, m)
		if err != nil {
			return nil, fmt.Errorf("target level %d: %w", m, err)
		}
		matrix[m] = row
	}
	return matrix, nil
}

func checkTarget(levels []float64, m int) error {
	if len(levels) == 0 {
		return apperrors.NewInsufficientDataError("intensity levels", 0, 1)
	}
	if m < 0 || m >= len(levels) {
		return apperrors.NewAppValidationError(
			fmt.Sprintf("target index %d outside [0,%d)", m, len(levels)))
	}
	for i, l := range levels {
		if !(l > 0) {
			return apperrors.NewNonPositiveValueError("levels", i, l)
		}
	}
	return nil
}
