package hazard

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	apperrors "sitehazard/internal/errors"
)

func TestAmplificationModelExceedanceRow(t *testing.T) {
	model := AmplificationModel{Slope: -0.4, Intercept: 1.3, Dispersion: 0.35}
	levels := []float64{0.05, 0.2, 0.8}

	row, err := model.ExceedanceRow(levels, 1)
	require.NoError(t, err)
	require.Len(t, row, 3)

	std := distuv.UnitNormal
	for j, l := range levels {
		median := math.Exp(math.Log(levels[1]/l/1.3) / 0.4)
		want := 1 - std.CDF((math.Log(levels[1])-math.Log(median))/0.35)
		assert.InDelta(t, want, row[j], 1e-12, "j=%d", j)
	}
}

func TestExceedanceMatrixBounds(t *testing.T) {
	levels := logGrid(0.001, 3, 25)
	models := []ExceedanceModel{
		AmplificationModel{Slope: -0.3, Intercept: 1.2, Dispersion: 0.5},
		AmplificationModel{Slope: 1.7, Intercept: 0.4, Dispersion: 2.0},
		AmplificationModel{Slope: -0.8, Intercept: 3, Dispersion: 0},
		ConstantRatio{K: 1.8},
	}

	for _, model := range models {
		matrix, err := ExceedanceMatrix(model, levels)
		require.NoError(t, err)
		require.Len(t, matrix, len(levels))
		for m, row := range matrix {
			require.Len(t, row, len(levels))
			for j, g := range row {
				assert.GreaterOrEqual(t, g, 0.0, "%v G[%d][%d]", model, m, j)
				assert.LessOrEqual(t, g, 1.0, "%v G[%d][%d]", model, m, j)
			}
		}
	}
}

func TestExceedanceNonDecreasingInTarget(t *testing.T) {
	levels := logGrid(0.01, 2, 20)
	model := AmplificationModel{Slope: -0.3, Intercept: 1.5, Dispersion: 0.4}

	matrix, err := ExceedanceMatrix(model, levels)
	require.NoError(t, err)
	for j := range levels {
		for m := 1; m < len(levels); m++ {
			assert.GreaterOrEqual(t, matrix[m][j]+1e-12, matrix[m-1][j], "j=%d m=%d", j, m)
		}
	}
}

func TestZeroDispersionStep(t *testing.T) {
	levels := []float64{0.1, 1, 10}
	model := AmplificationModel{Slope: -0.5, Intercept: 1, Dispersion: 0}

	// ln median = 2(ln L[m] − ln L[j]); with L[m] = 1 the tie at j = 1 gives 0.
	row, err := model.ExceedanceRow(levels, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0}, row)
}

func TestConstantRatioRow(t *testing.T) {
	row, err := ConstantRatio{K: 1.5}.ExceedanceRow(scenarioLevels, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 0}, row)

	row, err = ConstantRatio{K: 1.5}.ExceedanceRow(scenarioLevels, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, row)

	// K·L[j] equal to L[m] counts as reaching the target
	row, err = ConstantRatio{K: 1}.ExceedanceRow(scenarioLevels, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 0}, row)

	row, err = ConstantRatio{K: 10}.ExceedanceRow(scenarioLevels, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 0}, row)

	matrix, err := ExceedanceMatrix(ConstantRatio{K: 1}, scenarioLevels)
	require.NoError(t, err)
	for m := range matrix {
		assert.Equal(t, 1.0, matrix[m][m], "m=%d", m)
	}
}

func TestExceedanceErrors(t *testing.T) {
	tests := []struct {
		name   string
		model  ExceedanceModel
		levels []float64
		m      int
		target error
	}{
		{"zero slope", AmplificationModel{Slope: 0, Intercept: 1, Dispersion: 0.3}, scenarioLevels, 0, apperrors.ErrDegenerateModel},
		{"negative dispersion", AmplificationModel{Slope: 0.5, Intercept: 1, Dispersion: -1}, scenarioLevels, 0, apperrors.ErrDegenerateModel},
		{"infinite dispersion", AmplificationModel{Slope: 0.5, Intercept: 1, Dispersion: math.Inf(1)}, scenarioLevels, 0, apperrors.ErrDegenerateModel},
		{"zero intercept", AmplificationModel{Slope: 0.5, Intercept: 0, Dispersion: 0.3}, scenarioLevels, 0, apperrors.ErrNonPositiveValue},
		{"zero ratio", ConstantRatio{K: 0}, scenarioLevels, 0, apperrors.ErrNonPositiveValue},
		{"non-positive level", ConstantRatio{K: 1}, []float64{0, 1, 2}, 1, apperrors.ErrNonPositiveValue},
		{"empty grid", ConstantRatio{K: 1}, nil, 0, apperrors.ErrInsufficientData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.model.ExceedanceRow(tt.levels, tt.m)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}

	_, err := ConstantRatio{K: 1}.ExceedanceRow(scenarioLevels, 3)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrTypeValidation, appErr.Type)
}
