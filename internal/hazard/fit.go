package hazard

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	apperrors "sitehazard/internal/errors"
)

// AmplificationRatios returns surface/rock for every pair of values. Both
// values must be finite and positive.
func AmplificationRatios(rock, surface []float64) ([]float64, error) {
	if len(rock) != len(surface) {
		return nil, apperrors.NewMismatchedRecordsError("rock and surface values", len(rock), len(surface))
	}
	ratios := make([]float64, len(rock))
	for i := range rock {
		if !(rock[i] > 0) || math.IsInf(rock[i], 0) {
			return nil, apperrors.NewNonPositiveValueError("rock", i, rock[i])
		}
		if !(surface[i] > 0) || math.IsInf(surface[i], 0) {
			return nil, apperrors.NewNonPositiveValueError("surface", i, surface[i])
		}
		ratios[i] = surface[i] / rock[i]
	}
	return ratios, nil
}

// FitAmplificationModel fits ln AF = ln b + c·ln x by ordinary least squares,
// where x is the rock value and AF the surface/rock ratio. Dispersion is the
// population standard deviation of the residuals divided by |c|.
func FitAmplificationModel(rock, surface []float64) (AmplificationModel, error) {
	return FitAmplificationModelWithTolerance(rock, surface, DefaultSlopeTolerance)
}

// FitAmplificationModelWithTolerance is FitAmplificationModel with a custom
// threshold below which |c| is treated as zero.
func FitAmplificationModelWithTolerance(rock, surface []float64, tolerance float64) (AmplificationModel, error) {
	if len(rock) != len(surface) {
		return AmplificationModel{}, apperrors.NewMismatchedRecordsError(
			"rock and surface values", len(rock), len(surface))
	}
	if len(rock) < MinPairs {
		return AmplificationModel{}, apperrors.NewInsufficientDataError("ground-motion pairs", len(rock), MinPairs)
	}

	ratios, err := AmplificationRatios(rock, surface)
	if err != nil {
		return AmplificationModel{}, err
	}
	lnX := make([]float64, len(rock))
	lnAF := make([]float64, len(rock))
	for i := range rock {
		lnX[i] = math.Log(rock[i])
		lnAF[i] = math.Log(ratios[i])
	}

	// LinearRegression returns (intercept, slope).
	lnB, slope := stat.LinearRegression(lnX, lnAF, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) || math.Abs(slope) < tolerance {
		return AmplificationModel{}, apperrors.NewDegenerateModelError(slope, math.NaN())
	}

	residuals := make([]float64, len(lnX))
	for i := range lnX {
		residuals[i] = lnAF[i] - (lnB + slope*lnX[i])
	}

	dispersion := stat.PopStdDev(residuals, nil) / math.Abs(slope)
	if math.IsNaN(dispersion) || math.IsInf(dispersion, 0) {
		return AmplificationModel{}, apperrors.NewDegenerateModelError(slope, dispersion)
	}

	model := AmplificationModel{
		Slope:      slope,
		Intercept:  math.Exp(lnB),
		Dispersion: dispersion,
		Records:    len(rock),
	}
	if err := model.validate(); err != nil {
		return AmplificationModel{}, fmt.Errorf("fitted model: %w", err)
	}
	return model, nil
}
