package hazard

import (
	"fmt"

	apperrors "sitehazard/internal/errors"
)

// IntegrationWeights returns ΔIM for the level grid: neighbour spacing at the
// ends and the centred spacing L[j+1]−L[j−1] inside, all halved.
func IntegrationWeights(levels []float64) ([]float64, error) {
	n := len(levels)
	if n < 2 {
		return nil, apperrors.NewInsufficientDataError("intensity levels", n, 2)
	}
	if err := ValidateLevels(levels); err != nil {
		return nil, err
	}

	w := make([]float64, n)
	w[0] = (levels[1] - levels[0]) / 2
	w[n-1] = (levels[n-1] - levels[n-2]) / 2
	for j := 1; j < n-1; j++ {
		w[j] = (levels[j+1] - levels[j-1]) / 2
	}
	return w, nil
}

// Convolve integrates the density proxy against the exceedance matrix:
// newProb[m] = Σ_j (1 − G[m][j])·d[j]·ΔIM[j].
func Convolve(levels, density []float64, exceedance [][]float64) ([]float64, error) {
	if len(density) != len(levels) {
		return nil, apperrors.NewMismatchedRecordsError("density and levels", len(density), len(levels))
	}
	if len(exceedance) != len(levels) {
		return nil, apperrors.NewMismatchedRecordsError("exceedance rows and levels", len(exceedance), len(levels))
	}
	weights, err := IntegrationWeights(levels)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(levels))
	for m, row := range exceedance {
		if len(row) != len(levels) {
			return nil, apperrors.NewMismatchedRecordsError(
				fmt.Sprintf("exceedance row %d and levels", m), len(row), len(levels))
		}
		var sum float64
		for j, g := range row {
			sum += (1 - g) * density[j] * weights[j]
		}
		out[m] = sum
	}
	return out, nil
}

// ConvolveCurve runs the density, exceedance and integration steps for one
// rock curve and model.
func ConvolveCurve(model ExceedanceModel, rock HazardCurve) (density, surface []float64, err error) {
	density, err = DensityProxy(rock.Levels, rock.Probabilities)
	if err != nil {
		return nil, nil, fmt.Errorf("density proxy: %w", err)
	}
	matrix, err := ExceedanceMatrix(model, rock.Levels)
	if err != nil {
		return nil, nil, fmt.Errorf("exceedance matrix: %w", err)
	}
	surface, err = Convolve(rock.Levels, density, matrix)
	if err != nil {
		return nil, nil, fmt.Errorf("convolve: %w", err)
	}
	return density, surface, nil
}
