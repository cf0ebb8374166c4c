package exporter

import (
	"fmt"
	"log/slog"
	"math"

	"sitehazard/internal/config"
	"sitehazard/internal/hazard"
)

const (
	// CurvesFile is the long-format table of rock and surface curves
	CurvesFile = "hazard_curves.csv"
	// AmplificationFile is the OpenQuake site amplification input
	AmplificationFile = "amp4oqe.csv"
	// ModelSummaryFile lists the fitted model per measure
	ModelSummaryFile = "amplification_models.csv"
	// WorkbookFile bundles all tables in one XLSX
	WorkbookFile = "site_hazard.xlsx"
)

// HazardExporter writes every artifact of a run into the output directory
type HazardExporter struct {
	cfg    config.OutputConfig
	writer *CSVWriter
}

// NewHazardExporter creates an exporter for the configured output directory
func NewHazardExporter(cfg config.OutputConfig) *HazardExporter {
	return &HazardExporter{cfg: cfg, writer: NewCSVWriter(cfg.Dir)}
}

// ExportAll writes the curves table, OpenQuake surface curves, the
// amplification file, the model summary and, when enabled, the workbook.
// It returns the written paths.
func (e *HazardExporter) ExportAll(result *hazard.Result) ([]string, error) {
	if result == nil || len(result.Records) == 0 {
		return nil, fmt.Errorf("no results to export")
	}

	var written []string

	path, err := e.ExportCurves(result, CurvesFile)
	if err != nil {
		return nil, fmt.Errorf("export curves: %w", err)
	}
	written = append(written, path)

	paths, err := e.ExportOpenQuakeCurves(result)
	if err != nil {
		return nil, fmt.Errorf("export surface curves: %w", err)
	}
	written = append(written, paths...)

	path, err = e.ExportAmplification(result, AmplificationFile)
	if err != nil {
		return nil, fmt.Errorf("export amplification: %w", err)
	}
	written = append(written, path)

	path, err = e.ExportModelSummary(result, ModelSummaryFile)
	if err != nil {
		return nil, fmt.Errorf("export model summary: %w", err)
	}
	written = append(written, path)

	if e.cfg.WriteWorkbook {
		path, err = WriteWorkbook(result, e.writer.resolvePath(WorkbookFile), e.cfg)
		if err != nil {
			return nil, fmt.Errorf("export workbook: %w", err)
		}
		written = append(written, path)
	}

	slog.Info("Exported convolution artifacts",
		slog.Int("site_id", result.SiteID),
		slog.Int("files", len(written)),
		slog.String("dir", e.cfg.Dir))
	return written, nil
}

// ExportCurves writes one row per measure and level with the rock
// probability, the density proxy and the surface probability.
func (e *HazardExporter) ExportCurves(result *hazard.Result, filePath string) (string, error) {
	stream, err := e.writer.CreateStreamWriter(filePath,
		[]string{"measure", "frequency_hz", "level", "rock_poe", "density", "surface_poe"})
	if err != nil {
		return "", err
	}

	for _, rec := range result.Records {
		for j, level := range rec.Rock.Levels {
			row := []string{
				rec.Measure.Name,
				formatFloat(rec.Measure.Frequency()),
				formatFloat(level),
				formatProbability(rec.Rock.Probabilities[j]),
				formatFloat(rec.Density[j]),
				formatProbability(rec.Surface.Probabilities[j]),
			}
			if err := stream.WriteRecord(row); err != nil {
				stream.Close()
				return "", fmt.Errorf("failed to write %s level %d: %w", rec.Measure.Name, j, err)
			}
		}
	}

	if err := stream.Close(); err != nil {
		return "", err
	}
	return stream.Path(), nil
}

// ExportOpenQuakeCurves writes one hazard_curve-surface-<IMT>_<site>.csv per
// measure in the OpenQuake export layout.
func (e *HazardExporter) ExportOpenQuakeCurves(result *hazard.Result) ([]string, error) {
	paths := make([]string, 0, len(result.Records))
	for _, rec := range result.Records {
		header := []string{"lon", "lat", "depth"}
		row := []string{formatCoord(result.Lon), formatCoord(result.Lat), formatCoord(result.Depth)}
		for j, level := range rec.Surface.Levels {
			header = append(header, "poe-"+formatFloat(level))
			row = append(row, formatProbability(rec.Surface.Probabilities[j]))
		}

		metadata := fmt.Sprintf("generated_by='sitehazard', kind='surface', site_code='%s', imt='%s'",
			e.cfg.SiteCode, rec.Measure.Name)
		preamble := []string{"#", "", "", "", metadata}

		name := fmt.Sprintf("hazard_curve-surface-%s_%d.csv", rec.Measure.Name, result.SiteID)
		path, err := e.writer.WriteCSV(name, WriteOptions{
			Preamble: [][]string{preamble},
			Headers:  header,
			Records:  [][]string{row},
		})
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// AmplificationRows builds the amp4oqe.csv table: a #vs30_ref line, the
// header, and one row per level with the median amplification of every
// measure followed by every dispersion.
func AmplificationRows(result *hazard.Result, siteCode string, vs30 float64) (preamble [][]string, header []string, rows [][]string) {
	p := len(result.Records)

	first := make([]string, 2*p+2)
	first[0] = "#vs30_ref=" + formatFloat(vs30)
	preamble = [][]string{first}

	header = []string{"ampcode", "level"}
	for _, rec := range result.Records {
		header = append(header, rec.Measure.Name)
	}
	for _, rec := range result.Records {
		header = append(header, "sigma_"+rec.Measure.Name)
	}

	for _, level := range result.Levels {
		row := make([]string, 0, 2*p+2)
		row = append(row, siteCode, formatFloat(level))
		sigmas := make([]string, 0, p)
		for _, rec := range result.Records {
			median, sigma := rec.AmplificationAt(level)
			row = append(row, formatFloat(median))
			sigmas = append(sigmas, formatFloat(sigma))
		}
		rows = append(rows, append(row, sigmas...))
	}
	return preamble, header, rows
}

// ExportAmplification writes the OpenQuake amplification file
func (e *HazardExporter) ExportAmplification(result *hazard.Result, filePath string) (string, error) {
	preamble, header, rows := AmplificationRows(result, e.cfg.SiteCode, e.cfg.Vs30Ref)
	return e.writer.WriteCSV(filePath, WriteOptions{
		Preamble: preamble,
		Headers:  header,
		Records:  rows,
	})
}

// ModelRows builds the model summary table
func ModelRows(result *hazard.Result) (header []string, rows [][]string) {
	header = []string{"measure", "frequency_hz", "model", "slope", "intercept", "dispersion", "records"}
	for _, rec := range result.Records {
		row := []string{rec.Measure.Name, formatFloat(rec.Measure.Frequency()), rec.ModelKind()}
		if a, ok := rec.Amplification(); ok {
			row = append(row, formatFloat(a.Slope), formatFloat(a.Intercept),
				formatFloat(a.Dispersion), formatInt(a.Records))
		} else {
			median, sigma := rec.AmplificationAt(math.NaN())
			row = append(row, "0", formatFloat(median), formatFloat(sigma), "0")
		}
		rows = append(rows, row)
	}
	return header, rows
}

// ExportModelSummary writes one row per measure with the model parameters
func (e *HazardExporter) ExportModelSummary(result *hazard.Result, filePath string) (string, error) {
	header, rows := ModelRows(result)
	return e.writer.WriteCSV(filePath, WriteOptions{
		Headers:   header,
		Records:   rows,
		BOMPrefix: true,
	})
}

func formatCoord(f float64) string {
	return fmt.Sprintf("%.5f", f)
}
