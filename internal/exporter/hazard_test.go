package exporter

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"sitehazard/internal/config"
	"sitehazard/internal/dataprocessing"
	"sitehazard/internal/hazard"
)

var testLevels = []float64{0.01, 0.05, 0.1, 0.5, 1}

func testResult(t *testing.T) *hazard.Result {
	t.Helper()
	probs := []float64{0.5, 0.2, 0.1, 0.01, 0.001}
	site := hazard.Site{ID: 3, Lon: 44.36612, Lat: 33.31524, Levels: testLevels}
	for _, name := range []string{"PGA", "SA(0.5)"} {
		site.Curves = append(site.Curves, hazard.HazardCurve{
			Measure:       hazard.MustParseMeasure(name),
			Levels:        append([]float64(nil), testLevels...),
			Probabilities: append([]float64(nil), probs...),
		})
	}

	engine := hazard.NewEngine(hazard.EngineConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	result, err := engine.RunWithModels(context.Background(), site, []hazard.ExceedanceModel{
		hazard.AmplificationModel{Slope: -0.2, Intercept: 1.5, Dispersion: 0.3, Records: 12},
		hazard.ConstantRatio{K: 2},
	})
	require.NoError(t, err)
	return result
}

func testOutput(dir string) config.OutputConfig {
	return config.OutputConfig{Dir: dir, SiteCode: "BGD", Vs30Ref: 800, WriteWorkbook: true}
}

func TestExportAll(t *testing.T) {
	dir := t.TempDir()
	exporter := NewHazardExporter(testOutput(dir))

	paths, err := exporter.ExportAll(testResult(t))
	require.NoError(t, err)

	expected := []string{
		CurvesFile,
		"hazard_curve-surface-PGA_3.csv",
		"hazard_curve-surface-SA(0.5)_3.csv",
		AmplificationFile,
		ModelSummaryFile,
		WorkbookFile,
	}
	require.Len(t, paths, len(expected))
	for i, name := range expected {
		assert.Equal(t, filepath.Join(dir, name), paths[i])
		assert.FileExists(t, paths[i])
	}
}

func TestExportAllEmpty(t *testing.T) {
	exporter := NewHazardExporter(testOutput(t.TempDir()))
	_, err := exporter.ExportAll(&hazard.Result{})
	assert.Error(t, err)
	_, err = exporter.ExportAll(nil)
	assert.Error(t, err)
}

func TestExportCurves(t *testing.T) {
	result := testResult(t)
	exporter := NewHazardExporter(testOutput(t.TempDir()))

	path, err := exporter.ExportCurves(result, CurvesFile)
	require.NoError(t, err)

	records := readCSV(t, path)
	require.Len(t, records, 1+2*len(testLevels))
	assert.Equal(t, []string{"measure", "frequency_hz", "level", "rock_poe", "density", "surface_poe"}, records[0])
	assert.Equal(t, []string{"PGA", "100", "0.01", "5.000000E-01"}, records[1][:4])
	assert.Equal(t, "SA(0.5)", records[len(testLevels)+1][0])
	assert.Equal(t, "2", records[len(testLevels)+1][1])
}

func TestExportOpenQuakeCurvesRoundTrip(t *testing.T) {
	result := testResult(t)
	exporter := NewHazardExporter(testOutput(t.TempDir()))

	paths, err := exporter.ExportOpenQuakeCurves(result)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	for i, path := range paths {
		parsed, err := dataprocessing.ReadHazardCurveFile(path)
		require.NoError(t, err)

		rec := result.Records[i]
		assert.Equal(t, rec.Measure, parsed.Measure)
		assert.Equal(t, "surface", parsed.Metadata["kind"])
		assert.Equal(t, "BGD", parsed.Metadata["site_code"])
		assert.Equal(t, testLevels, parsed.Levels)

		curve, row, err := parsed.Curve(0)
		require.NoError(t, err)
		assert.InDelta(t, result.Lon, row.Lon, 1e-5)
		assert.InDelta(t, result.Lat, row.Lat, 1e-5)
		for j, p := range rec.Surface.Probabilities {
			assert.InDelta(t, p, curve.Probabilities[j], 1e-6*p+1e-12)
		}
	}
}

func TestAmplificationRows(t *testing.T) {
	result := testResult(t)
	preamble, header, rows := AmplificationRows(result, "BGD", 800)

	require.Len(t, preamble, 1)
	assert.Len(t, preamble[0], 6)
	assert.Equal(t, "#vs30_ref=800", preamble[0][0])
	assert.Equal(t, []string{"ampcode", "level", "PGA", "SA(0.5)", "sigma_PGA", "sigma_SA(0.5)"}, header)

	require.Len(t, rows, len(testLevels))
	for j, row := range rows {
		assert.Len(t, row, len(header))
		assert.Equal(t, "BGD", row[0])
		assert.Equal(t, formatFloat(testLevels[j]), row[1])
		assert.Equal(t, "2", row[3])
		assert.Equal(t, "0.3", row[4])
		assert.Equal(t, "0", row[5])
	}
	// b·x^c at x = 1 is b
	assert.Equal(t, "1.5", rows[len(rows)-1][2])
}

func TestExportAmplificationFile(t *testing.T) {
	exporter := NewHazardExporter(testOutput(t.TempDir()))
	path, err := exporter.ExportAmplification(testResult(t), AmplificationFile)
	require.NoError(t, err)

	records := readCSV(t, path)
	require.Len(t, records, 2+len(testLevels))
	assert.Equal(t, "#vs30_ref=800,,,,,", strings.Join(records[0], ","))
	assert.Equal(t, "ampcode", records[1][0])
}

func TestModelRows(t *testing.T) {
	header, rows := ModelRows(testResult(t))
	assert.Equal(t, []string{"measure", "frequency_hz", "model", "slope", "intercept", "dispersion", "records"}, header)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"PGA", "100", "power_law", "-0.2", "1.5", "0.3", "12"}, rows[0])
	assert.Equal(t, []string{"SA(0.5)", "2", "constant_ratio", "0", "2", "0", "0"}, rows[1])
}

func TestWriteWorkbook(t *testing.T) {
	result := testResult(t)
	path := filepath.Join(t.TempDir(), "out", WorkbookFile)

	written, err := WriteWorkbook(result, path, testOutput(filepath.Dir(path)))
	require.NoError(t, err)
	assert.Equal(t, path, written)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetCurves, SheetModels, SheetAmplification}, f.GetSheetList())

	curves, err := f.GetRows(SheetCurves)
	require.NoError(t, err)
	require.Len(t, curves, 1+len(testLevels))
	assert.Equal(t, []string{"level", "rock_PGA", "surface_PGA", "rock_SA(0.5)", "surface_SA(0.5)"}, curves[0])

	models, err := f.GetRows(SheetModels)
	require.NoError(t, err)
	require.Len(t, models, 4)
	assert.Equal(t, "site 3 (BGD)", models[0][0])
	assert.Equal(t, "power_law", models[2][2])

	amp, err := f.GetRows(SheetAmplification)
	require.NoError(t, err)
	assert.Equal(t, "#vs30_ref=800", amp[0][0])
	assert.Equal(t, "sigma_SA(0.5)", amp[1][5])
}
