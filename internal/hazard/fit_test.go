package hazard

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sitehazard/internal/errors"
)

// synthPairs draws rock values and surface values following
// ln AF = ln b + c·ln x + ε, ε ~ N(0, (σ·|c|)²).
func synthPairs(rng *rand.Rand, n int, slope, intercept, dispersion float64) (rock, surface []float64) {
	rock = make([]float64, n)
	surface = make([]float64, n)
	for i := 0; i < n; i++ {
		x := math.Exp(-2 + rng.NormFloat64())
		eps := rng.NormFloat64() * dispersion * math.Abs(slope)
		af := intercept * math.Pow(x, slope) * math.Exp(eps)
		rock[i] = x
		surface[i] = af * x
	}
	return rock, surface
}

func TestFitAmplificationModelExact(t *testing.T) {
	// AF = 2·x^-0.5 exactly, so residuals vanish.
	rock := []float64{0.01, 0.1, 0.5, 1}
	surface := make([]float64, len(rock))
	for i, x := range rock {
		surface[i] = 2 * math.Pow(x, -0.5) * x
	}

	model, err := FitAmplificationModel(rock, surface)
	require.NoError(t, err)
	assert.InDelta(t, -0.5, model.Slope, 1e-9)
	assert.InDelta(t, 2.0, model.Intercept, 1e-9)
	assert.InDelta(t, 0.0, model.Dispersion, 1e-9)
	assert.Equal(t, 4, model.Records)
}

func TestFitAmplificationModelRecovery(t *testing.T) {
	const (
		slope      = 0.7
		intercept  = 1.8
		dispersion = 0.4
	)

	tests := []struct {
		name         string
		n            int
		slopeTol     float64
		lnInterTol   float64
		dispersionTo float64
	}{
		{"small sample", 50, 0.3, 0.6, 0.25},
		{"large sample", 5000, 0.03, 0.06, 0.03},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			rock, surface := synthPairs(rng, tt.n, slope, intercept, dispersion)

			model, err := FitAmplificationModel(rock, surface)
			require.NoError(t, err)
			assert.InDelta(t, slope, model.Slope, tt.slopeTol)
			assert.InDelta(t, math.Log(intercept), math.Log(model.Intercept), tt.lnInterTol)
			assert.InDelta(t, dispersion, model.Dispersion, tt.dispersionTo)
			assert.Equal(t, tt.n, model.Records)
		})
	}
}

func TestFitAmplificationModelErrors(t *testing.T) {
	tests := []struct {
		name    string
		rock    []float64
		surface []float64
		target  error
	}{
		{"single pair", []float64{0.1}, []float64{0.2}, apperrors.ErrInsufficientData},
		{"empty", nil, nil, apperrors.ErrInsufficientData},
		{"length mismatch", []float64{0.1, 0.2}, []float64{0.2}, apperrors.ErrMismatchedRecords},
		{"zero rock", []float64{0.1, 0}, []float64{0.2, 0.3}, apperrors.ErrNonPositiveValue},
		{"negative surface", []float64{0.1, 0.2}, []float64{0.2, -0.3}, apperrors.ErrNonPositiveValue},
		{"NaN rock", []float64{math.NaN(), 0.2}, []float64{0.2, 0.3}, apperrors.ErrNonPositiveValue},
		{"constant ratio", []float64{0.1, 0.2, 0.4}, []float64{0.15, 0.3, 0.6}, apperrors.ErrDegenerateModel},
		{"identical rock values", []float64{0.2, 0.2}, []float64{0.3, 0.4}, apperrors.ErrDegenerateModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FitAmplificationModel(tt.rock, tt.surface)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestAmplificationRatios(t *testing.T) {
	ratios, err := AmplificationRatios([]float64{0.1, 0.5}, []float64{0.2, 0.25})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 0.5}, ratios, 1e-12)

	_, err = AmplificationRatios([]float64{0, 0.5}, []float64{0.2, 0.25})
	assert.True(t, errors.Is(err, apperrors.ErrNonPositiveValue))

	_, err = AmplificationRatios([]float64{0.5}, []float64{0.2, 0.25})
	assert.True(t, errors.Is(err, apperrors.ErrMismatchedRecords))

	for _, surface := range [][]float64{{0.2, 0}, {0.2, -0.25}, {0.2, math.Inf(1)}} {
		_, err = AmplificationRatios([]float64{0.1, 0.5}, surface)
		var appErr *apperrors.AppError
		require.True(t, errors.As(err, &appErr), "surface %v", surface)
		assert.Equal(t, apperrors.ErrTypeNonPositiveValue, appErr.Type)
		assert.Equal(t, 1, appErr.Context["index"])
		assert.Contains(t, appErr.Message, "surface")
	}
}
