package hazard

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sitehazard/internal/errors"
)

var (
	scenarioLevels = []float64{0.01, 0.1, 1.0}
	scenarioProbs  = []float64{0.5, 0.1, 0.001}
)

func uniformGrid(start, stop float64, n int) []float64 {
	grid := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range grid {
		grid[i] = start + float64(i)*step
	}
	return grid
}

func logGrid(start, stop float64, n int) []float64 {
	grid := make([]float64, n)
	lo, hi := math.Log(start), math.Log(stop)
	for i := range grid {
		grid[i] = math.Exp(lo + (hi-lo)*float64(i)/float64(n-1))
	}
	return grid
}

func expCurve(levels []float64, rate float64) []float64 {
	p := make([]float64, len(levels))
	for i, l := range levels {
		p[i] = math.Exp(-rate * l)
	}
	return p
}

func TestDensityProxy(t *testing.T) {
	t.Run("concrete grid", func(t *testing.T) {
		d, err := DensityProxy(scenarioLevels, scenarioProbs)
		require.NoError(t, err)
		require.Len(t, d, 3)
		assert.InDelta(t, 4.4444, d[0], 1e-4)
		assert.InDelta(t, 4.0504, d[1], 1e-4)
		assert.InDelta(t, 0.11, d[2], 1e-12)
	})

	t.Run("exact for quadratics inside the grid", func(t *testing.T) {
		levels := []float64{0.1, 0.3, 0.4, 0.9, 1.0}
		probs := make([]float64, len(levels))
		for i, l := range levels {
			probs[i] = 1 - l*l/2
		}
		d, err := DensityProxy(levels, probs)
		require.NoError(t, err)
		for i := 1; i < len(levels)-1; i++ {
			assert.InDelta(t, levels[i], d[i], 1e-12)
		}
	})

	t.Run("non-negative", func(t *testing.T) {
		levels := logGrid(0.001, 3, 40)
		probs := expCurve(levels, 2)
		probs[10] = probs[11] // flat step
		d, err := DensityProxy(levels, probs)
		require.NoError(t, err)
		for i, v := range d {
			assert.GreaterOrEqual(t, v, 0.0, "d[%d]", i)
		}
	})

	t.Run("does not mutate inputs", func(t *testing.T) {
		levels := append([]float64(nil), scenarioLevels...)
		probs := append([]float64(nil), scenarioProbs...)
		_, err := DensityProxy(levels, probs)
		require.NoError(t, err)
		assert.Equal(t, scenarioLevels, levels)
		assert.Equal(t, scenarioProbs, probs)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := DensityProxy([]float64{0.1, 1}, []float64{0.5, 0.1})
		assert.True(t, errors.Is(err, apperrors.ErrInsufficientData))

		_, err = DensityProxy(scenarioLevels, []float64{0.5, 0.1})
		assert.True(t, errors.Is(err, apperrors.ErrMismatchedRecords))

		_, err = DensityProxy([]float64{0.1, 0.1, 1}, scenarioProbs)
		assert.True(t, errors.Is(err, apperrors.ErrInconsistentLevels))
	})
}

func TestIntegrationWeights(t *testing.T) {
	w, err := IntegrationWeights(scenarioLevels)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.045, 0.495, 0.45}, w, 1e-12)

	uniform := uniformGrid(0, 1, 11)[1:]
	w, err = IntegrationWeights(uniform)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, w[0], 1e-12)
	assert.InDelta(t, 0.1, w[4], 1e-12)
	assert.InDelta(t, 0.05, w[len(w)-1], 1e-12)

	_, err = IntegrationWeights([]float64{0.1})
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientData))
}

func TestConvolveConcreteScenario(t *testing.T) {
	density, surface, err := ConvolveCurve(ConstantRatio{K: 1.5},
		HazardCurve{Measure: MustParseMeasure("PGA"), Levels: scenarioLevels, Probabilities: scenarioProbs})
	require.NoError(t, err)
	require.Len(t, surface, 3)

	// Only rock level 1.0 is amplified to at least 1.0.
	assert.InDelta(t, 0.11*0.45, surface[2], 1e-12)
	assert.InDelta(t, 0.0495, surface[2], 1e-12)

	// Both the discrete value and the interpolated reference lie between
	// p(1.0) and p(0.1).
	reference, err := InterpolateExceedance(scenarioLevels, scenarioProbs, 1/1.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.03763, reference, 1e-4)
	for _, v := range []float64{surface[2], reference} {
		assert.GreaterOrEqual(t, v, scenarioProbs[2])
		assert.LessOrEqual(t, v, scenarioProbs[1])
	}

	// Bounded by the total mass of the density proxy.
	weights, err := IntegrationWeights(scenarioLevels)
	require.NoError(t, err)
	var mass float64
	for j := range density {
		mass += density[j] * weights[j]
	}
	for _, v := range surface {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, mass+1e-12)
	}
	assert.InDelta(t, mass, surface[0], 1e-12)
}

func TestConvolveZeroDispersionShift(t *testing.T) {
	const k = 1.5
	levels := uniformGrid(0.001, 2.0, 2000)
	probs := expCurve(levels, 5)

	_, surface, err := ConvolveCurve(ConstantRatio{K: k},
		HazardCurve{Measure: MustParseMeasure("PGA"), Levels: levels, Probabilities: probs})
	require.NoError(t, err)

	checked := 0
	for m, level := range levels {
		if level/k < levels[0] {
			continue
		}
		want, err := InterpolateExceedance(levels, probs, level/k)
		require.NoError(t, err)
		assert.InDelta(t, want, surface[m], 0.01, "level %g", level)
		checked++
	}
	assert.Greater(t, checked, 1900)
}

func TestConvolveMonotone(t *testing.T) {
	levels := logGrid(0.005, 2.5, 35)
	probs := expCurve(levels, 3)

	models := map[string]ExceedanceModel{
		"power law c=-0.3":     AmplificationModel{Slope: -0.3, Intercept: 1.4, Dispersion: 0.5},
		"power law c=0.6":      AmplificationModel{Slope: 0.6, Intercept: 0.9, Dispersion: 0.3},
		"constant ratio k=2.0": ConstantRatio{K: 2},
		"constant ratio k=0.5": ConstantRatio{K: 0.5},
	}

	for name, model := range models {
		t.Run(name, func(t *testing.T) {
			_, surface, err := ConvolveCurve(model,
				HazardCurve{Measure: MustParseMeasure("PGA"), Levels: levels, Probabilities: probs})
			require.NoError(t, err)
			require.Len(t, surface, len(levels))
			for m := 1; m < len(surface); m++ {
				assert.LessOrEqual(t, surface[m], surface[m-1]+1e-12, "m=%d", m)
			}
		})
	}
}

func TestConvolveShapeErrors(t *testing.T) {
	d := []float64{1, 1, 1}
	g := [][]float64{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}}

	_, err := Convolve(scenarioLevels, d[:2], g)
	assert.True(t, errors.Is(err, apperrors.ErrMismatchedRecords))

	_, err = Convolve(scenarioLevels, d, g[:2])
	assert.True(t, errors.Is(err, apperrors.ErrMismatchedRecords))

	_, err = Convolve(scenarioLevels, d, [][]float64{{0, 0, 0}, {0, 0}, {0, 0, 0}})
	assert.True(t, errors.Is(err, apperrors.ErrMismatchedRecords))

	out, err := Convolve(scenarioLevels, d, g)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.99, 0.99, 0.99}, out, 1e-12)
}
