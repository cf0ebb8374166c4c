package hazard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sitehazard/internal/errors"
)

func TestParseMeasure(t *testing.T) {
	tests := []struct {
		input     string
		name      string
		period    float64
		frequency float64
		wantErr   bool
	}{
		{"PGA", "PGA", 0, 100, false},
		{"pga", "PGA", 0, 100, false},
		{"SA(0.2)", "SA(0.2)", 0.2, 5, false},
		{" SA(1.0) ", "SA(1.0)", 1.0, 1, false},
		{"sa(0.5)", "SA(0.5)", 0.5, 2, false},
		{"SA(0.10)", "SA(0.1)", 0.1, 10, false},
		{"SA(1)", "SA(1.0)", 1.0, 1, false},
		{"SA(2.50)", "SA(2.5)", 2.5, 0.4, false},
		{"SA(1e-1)", "SA(0.1)", 0.1, 10, false},
		{"PGV", "", 0, 0, true},
		{"SA(abc)", "", 0, 0, true},
		{"SA(0)", "", 0, 0, true},
		{"SA(-1)", "", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			m, err := ParseMeasure(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, m.Name)
			assert.Equal(t, tt.period, m.Period)
			assert.InDelta(t, tt.frequency, m.Frequency(), 1e-12)
			assert.Equal(t, tt.name, m.String())
		})
	}
}

func TestNewMeasureSet(t *testing.T) {
	t.Run("PGA first then increasing period", func(t *testing.T) {
		set, err := NewMeasureSet([]string{"SA(1.0)", "SA(0.1)", "PGA", "SA(0.3)"})
		require.NoError(t, err)
		assert.Equal(t, []string{"PGA", "SA(0.1)", "SA(0.3)", "SA(1.0)"}, set.Names())
		assert.True(t, set[0].IsPGA())
		assert.Equal(t, 2, set.Index("SA(0.3)"))
		assert.Equal(t, -1, set.Index("SA(2.0)"))
	})

	t.Run("duplicates rejected", func(t *testing.T) {
		_, err := NewMeasureSet([]string{"PGA", "pga"})
		assert.Error(t, err)

		_, err = NewMeasureSet([]string{"SA(0.1)", "SA(0.10)"})
		assert.Error(t, err)
	})

	t.Run("period spellings share a name", func(t *testing.T) {
		set, err := NewMeasureSet([]string{"SA(0.10)", "SA(1)"})
		require.NoError(t, err)
		assert.Equal(t, []string{"SA(0.1)", "SA(1.0)"}, set.Names())
		assert.Equal(t, 0, set.Index(MustParseMeasure("SA(0.1)").Name))
	})

	t.Run("unknown measure", func(t *testing.T) {
		_, err := NewMeasureSet([]string{"PGA", "MMI"})
		var appErr *apperrors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, apperrors.ErrTypeParsing, appErr.Type)
	})
}

func TestMedianAmplification(t *testing.T) {
	model := AmplificationModel{Slope: -0.5, Intercept: 2}
	assert.InDelta(t, 2.0, model.MedianAmplification(1), 1e-12)
	assert.InDelta(t, 1.0, model.MedianAmplification(4), 1e-12)
}

func TestMeasureRecordAmplification(t *testing.T) {
	fitted := AmplificationModel{Slope: 0.4, Intercept: 1.1, Dispersion: 0.2, Records: 10}

	got, ok := MeasureRecord{Model: fitted}.Amplification()
	assert.True(t, ok)
	assert.Equal(t, fitted, got)

	got, ok = MeasureRecord{Model: &fitted}.Amplification()
	assert.True(t, ok)
	assert.Equal(t, fitted, got)

	_, ok = MeasureRecord{Model: ConstantRatio{K: 2}}.Amplification()
	assert.False(t, ok)
}

func TestSiteValidate(t *testing.T) {
	levels := []float64{0.01, 0.1, 1}
	curve := func(name string, lv []float64, p []float64) HazardCurve {
		return HazardCurve{Measure: MustParseMeasure(name), Levels: lv, Probabilities: p}
	}

	tests := []struct {
		name    string
		site    Site
		kind    apperrors.ErrorType
		measure int
	}{
		{
			name: "too few levels",
			site: Site{Levels: []float64{0.1, 1}, Curves: []HazardCurve{
				curve("PGA", []float64{0.1, 1}, []float64{0.5, 0.1}),
			}},
			kind:    apperrors.ErrTypeInsufficientData,
			measure: apperrors.NoMeasure,
		},
		{
			name: "different grid",
			site: Site{Levels: levels, Curves: []HazardCurve{
				curve("PGA", levels, []float64{0.5, 0.1, 0.001}),
				curve("SA(0.2)", []float64{0.01, 0.2, 1}, []float64{0.5, 0.1, 0.001}),
			}},
			kind:    apperrors.ErrTypeInconsistentLevels,
			measure: 1,
		},
		{
			name: "non-positive level",
			site: Site{Levels: []float64{0, 0.1, 1}, Curves: []HazardCurve{
				curve("PGA", []float64{0, 0.1, 1}, []float64{0.5, 0.1, 0.001}),
			}},
			kind:    apperrors.ErrTypeNonPositiveValue,
			measure: apperrors.NoMeasure,
		},
		{
			name: "decreasing levels",
			site: Site{Levels: []float64{0.1, 0.01, 1}, Curves: []HazardCurve{
				curve("PGA", []float64{0.1, 0.01, 1}, []float64{0.5, 0.1, 0.001}),
			}},
			kind:    apperrors.ErrTypeInconsistentLevels,
			measure: apperrors.NoMeasure,
		},
		{
			name: "probability out of range",
			site: Site{Levels: levels, Curves: []HazardCurve{
				curve("PGA", levels, []float64{1.5, 0.1, 0.001}),
			}},
			kind:    apperrors.ErrTypeValidation,
			measure: 0,
		},
		{
			name: "probability increases",
			site: Site{Levels: levels, Curves: []HazardCurve{
				curve("PGA", levels, []float64{0.5, 0.1, 0.001}),
				curve("SA(0.2)", levels, []float64{0.1, 0.5, 0.001}),
			}},
			kind:    apperrors.ErrTypeValidation,
			measure: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.site.Validate()
			var appErr *apperrors.AppError
			require.True(t, errors.As(err, &appErr), "got %v", err)
			assert.Equal(t, tt.kind, appErr.Type)
			assert.Equal(t, tt.measure, appErr.Measure)
		})
	}

	t.Run("valid", func(t *testing.T) {
		site := Site{Levels: levels, Curves: []HazardCurve{
			curve("PGA", levels, []float64{0.5, 0.1, 0.001}),
			curve("SA(0.2)", levels, []float64{0.6, 0.2, 0}),
		}}
		assert.NoError(t, site.Validate())
		assert.Equal(t, []string{"PGA", "SA(0.2)"}, site.Measures().Names())
	})
}

func TestMeasureRecordAmplificationAt(t *testing.T) {
	rec := MeasureRecord{Model: AmplificationModel{Slope: -0.5, Intercept: 2, Dispersion: 0.3}}
	median, sigma := rec.AmplificationAt(4)
	assert.InDelta(t, 1.0, median, 1e-12)
	assert.Equal(t, 0.3, sigma)
	assert.Equal(t, "power_law", rec.ModelKind())

	rec = MeasureRecord{Model: ConstantRatio{K: 1.5}}
	median, sigma = rec.AmplificationAt(4)
	assert.Equal(t, 1.5, median)
	assert.Equal(t, 0.0, sigma)
	assert.Equal(t, "constant_ratio", rec.ModelKind())

	assert.Equal(t, "", MeasureRecord{}.ModelKind())
}
