package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// CurveSite is one row of an OpenQuake hazard curve file
type CurveSite struct {
	Lon, Lat      float64
	Probabilities []float64
}

// WriteHazardCurve writes an OpenQuake mean hazard curve CSV for imt into
// dir, named like the engine's own exports, and returns its path.
func WriteHazardCurve(t *testing.T, dir, imt string, levels []float64, sites ...CurveSite) string {
	t.Helper()

	var b strings.Builder
	fmt.Fprintf(&b, "#,,,,\"generated_by='OpenQuake engine 3.10.0', kind='mean', investigation_time=50.0, imt='%s'\"\n", imt)
	b.WriteString("lon,lat,depth")
	for _, l := range levels {
		fmt.Fprintf(&b, ",poe-%.7f", l)
	}
	b.WriteString("\n")
	for _, s := range sites {
		fmt.Fprintf(&b, "%.5f,%.5f,0.00000", s.Lon, s.Lat)
		for _, p := range s.Probabilities {
			fmt.Fprintf(&b, ",%.6E", p)
		}
		b.WriteString("\n")
	}

	path := filepath.Join(dir, fmt.Sprintf("hazard_curve-mean-%s_1.csv", imt))
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("write hazard curve: %v", err)
	}
	return path
}

// WriteSpectraCSV writes a spectra table with a record column followed by
// one column per measure. rows[k] holds record k's values.
func WriteSpectraCSV(t *testing.T, path string, measures []string, rows [][]float64) string {
	t.Helper()

	var b strings.Builder
	b.WriteString("record," + strings.Join(measures, ",") + "\n")
	for k, row := range rows {
		fields := make([]string, len(row))
		for i, v := range row {
			fields[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		fmt.Fprintf(&b, "rec%d,%s\n", k+1, strings.Join(fields, ","))
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("write spectra: %v", err)
	}
	return path
}
