package dataprocessing

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sitehazard/internal/errors"
)

const pgaCurves = `#,,,,"generated_by='OpenQuake engine 3.10.0', start_date='2020-12-11T10:15:00', checksum=2107362341, kind='mean', investigation_time=50.0, imt='PGA'"
lon,lat,depth,poe-0.0100000,poe-0.1000000,poe-1.0000000
44.40000,33.30000,0.00000,5.000000E-01,1.000000E-01,1.000000E-03
44.50000,33.40000,0.00000,6.000000E-01,2.000000E-01,2.000000E-03
`

func writeCurve(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestReadOpenQuakeCurves(t *testing.T) {
	curves, err := ReadOpenQuakeCurves(strings.NewReader(pgaCurves), "")
	require.NoError(t, err)

	assert.Equal(t, "PGA", curves.Measure.Name)
	assert.Equal(t, []float64{0.01, 0.1, 1.0}, curves.Levels)
	require.Len(t, curves.Sites, 2)
	assert.Equal(t, 44.4, curves.Sites[0].Lon)
	assert.Equal(t, 33.3, curves.Sites[0].Lat)
	assert.Equal(t, []float64{0.5, 0.1, 0.001}, curves.Sites[0].Probabilities)
	assert.Equal(t, "mean", curves.Metadata["kind"])
	assert.Equal(t, "50.0", curves.Metadata["investigation_time"])
	assert.Equal(t, "OpenQuake engine 3.10.0", curves.Metadata["generated_by"])

	curve, row, err := curves.Curve(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.6, 0.2, 0.002}, curve.Probabilities)
	assert.Equal(t, 44.5, row.Lon)

	_, _, err = curves.Curve(2)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestReadOpenQuakeCurvesWithoutMetadata(t *testing.T) {
	body := "lon,lat,poe-0.05,poe-0.5\n10.0,20.0,0.3,0.01\n\n"
	curves, err := ReadOpenQuakeCurves(strings.NewReader(body), "SA(0.2)")
	require.NoError(t, err)
	assert.Equal(t, "SA(0.2)", curves.Measure.Name)
	assert.Equal(t, 0.2, curves.Measure.Period)
	assert.Equal(t, 0.0, curves.Sites[0].Depth)
	assert.Len(t, curves.Sites, 1)
}

func TestReadOpenQuakeCurvesErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		measure string
	}{
		{"no measure", "lon,lat,poe-0.1\n1,2,0.5\n", ""},
		{"no poe columns", "lon,lat,depth\n1,2,0\n", "PGA"},
		{"no lon", "x,lat,poe-0.1\n1,2,0.5\n", "PGA"},
		{"bad level", "lon,lat,poe-abc\n1,2,0.5\n", "PGA"},
		{"bad value", "lon,lat,poe-0.1\n1,2,high\n", "PGA"},
		{"short row", "lon,lat,poe-0.1,poe-0.2\n1,2,0.5\n", "PGA"},
		{"no rows", "lon,lat,poe-0.1\n", "PGA"},
		{"empty", "", "PGA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadOpenQuakeCurves(strings.NewReader(tt.body), tt.measure)
			assert.Error(t, err)
		})
	}
}

func TestLoadSite(t *testing.T) {
	dir := t.TempDir()
	sa := strings.Replace(pgaCurves, "imt='PGA'", "imt='SA(0.2)'", 1)
	sa1 := strings.Replace(pgaCurves, "imt='PGA'", "imt='SA(1.0)'", 1)
	writeCurve(t, dir, "hazard_curve-mean-SA(1.0)_27.csv", sa1)
	writeCurve(t, dir, "hazard_curve-mean-PGA_27.csv", pgaCurves)
	writeCurve(t, dir, "hazard_curve-mean-SA(0.2)_27.csv", sa)

	site, err := LoadSite(dir, "", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, site.ID)
	assert.Equal(t, 44.5, site.Lon)
	assert.Equal(t, []string{"PGA", "SA(0.2)", "SA(1.0)"}, site.Measures().Names())
	assert.Equal(t, []float64{0.01, 0.1, 1.0}, site.Levels)
	for _, c := range site.Curves {
		assert.Equal(t, []float64{0.6, 0.2, 0.002}, c.Probabilities)
	}
	require.NoError(t, site.Validate())

	_, err = LoadSite(dir, "", 5)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = LoadSite(filepath.Join(dir, "missing"), "", 0)
	assert.Error(t, err)
}

func TestLoadSiteCanonicalPeriodNames(t *testing.T) {
	dir := t.TempDir()
	sa := strings.Replace(pgaCurves, "imt='PGA'", "imt='SA(0.10)'", 1)
	writeCurve(t, dir, "hazard_curve-mean-PGA_27.csv", pgaCurves)
	writeCurve(t, dir, "hazard_curve-mean-SA(0.10)_27.csv", sa)

	site, err := LoadSite(dir, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"PGA", "SA(0.1)"}, site.Measures().Names())
	require.Len(t, site.Curves, 2)
	assert.Equal(t, []float64{0.01, 0.1, 1.0}, site.Curves[1].Levels)

	spectra, err := ReadSpectraCSV(strings.NewReader("record,PGA,SA(0.1)\nA,0.1,0.2\nB,0.3,0.4\n"))
	require.NoError(t, err)
	pairs, err := PairSpectra(spectra, spectra, site.Measures())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, pairs[0].Rock)

	// Two spellings of one period are the same measure twice.
	writeCurve(t, dir, "hazard_curve-mean-SA(0.1)_27.csv", sa)
	_, err = LoadSite(dir, "", 0)
	assert.Error(t, err)
}
