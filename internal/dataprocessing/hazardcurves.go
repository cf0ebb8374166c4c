package dataprocessing

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	apperrors "sitehazard/internal/errors"
	"sitehazard/internal/files"
	"sitehazard/internal/hazard"
)

const poePrefix = "poe-"

var metadataPair = regexp.MustCompile(`([a-z_]+)=('[^']*'|[^,]*)`)

// SiteCurve is one row of an OpenQuake hazard-curve export
type SiteCurve struct {
	Lon           float64
	Lat           float64
	Depth         float64
	Probabilities []float64
}

// CurveFile is a parsed OpenQuake hazard-curve export for one measure
type CurveFile struct {
	Measure  hazard.IntensityMeasure
	Levels   []float64
	Sites    []SiteCurve
	Metadata map[string]string
}

// Curve returns the hazard curve of the site at index siteID
func (f *CurveFile) Curve(siteID int) (hazard.HazardCurve, SiteCurve, error) {
	if siteID < 0 || siteID >= len(f.Sites) {
		return hazard.HazardCurve{}, SiteCurve{}, apperrors.NewNotFoundError(
			fmt.Sprintf("site %d in %s curves (%d sites)", siteID, f.Measure.Name, len(f.Sites)))
	}
	site := f.Sites[siteID]
	return hazard.HazardCurve{
		Measure:       f.Measure,
		Levels:        append([]float64(nil), f.Levels...),
		Probabilities: append([]float64(nil), site.Probabilities...),
	}, site, nil
}

// ReadHazardCurveFile parses an OpenQuake hazard-curve CSV. The measure is
// taken from the metadata line when present, otherwise from the file name.
func ReadHazardCurveFile(path string) (*CurveFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("failed to open hazard curves %s", path), err)
	}
	defer f.Close()

	fallback, _ := files.MeasureFromFilename(path)
	curves, err := ReadOpenQuakeCurves(f, fallback)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return curves, nil
}

// ReadOpenQuakeCurves parses hazard curves from r. measure is used when the
// export carries no imt metadata.
func ReadOpenQuakeCurves(r io.Reader, measure string) (*CurveFile, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	out := &CurveFile{Metadata: make(map[string]string)}

	header, err := reader.Read()
	if err != nil {
		return nil, apperrors.NewParsingError("failed to read hazard-curve header", err)
	}
	if len(header) > 0 && strings.HasPrefix(header[0], "#") {
		out.Metadata = parseMetadata(header)
		header, err = reader.Read()
		if err != nil {
			return nil, apperrors.NewParsingError("failed to read hazard-curve header", err)
		}
	}

	if imt, ok := out.Metadata["imt"]; ok && imt != "" {
		measure = imt
	}
	if measure == "" {
		return nil, apperrors.NewParsingError("hazard curves do not name their intensity measure", nil)
	}
	out.Measure, err = hazard.ParseMeasure(measure)
	if err != nil {
		return nil, err
	}

	cols, err := mapCurveColumns(header)
	if err != nil {
		return nil, err
	}
	out.Levels = cols.levels

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.NewParsingError(fmt.Sprintf("failed to read hazard-curve row %d", line), err)
		}
		if isBlank(record) {
			continue
		}

		site, err := cols.parseRow(record)
		if err != nil {
			return nil, apperrors.NewParsingError(fmt.Sprintf("hazard-curve row %d", line), err)
		}
		out.Sites = append(out.Sites, site)
	}

	if len(out.Sites) == 0 {
		return nil, apperrors.NewInsufficientDataError(out.Measure.Name+" hazard-curve sites", 0, 1)
	}
	return out, nil
}

// LoadSite reads every hazard-curve file in dir matching pattern and
// assembles the site at index siteID. Curves are ordered PGA first, then by
// increasing period. The level grid of the first curve becomes the site grid.
func LoadSite(dir, pattern string, siteID int) (hazard.Site, error) {
	found, err := files.NewDiscovery("").FindHazardCurveFiles(dir, pattern)
	if err != nil {
		return hazard.Site{}, apperrors.NewParsingError("hazard-curve discovery failed", err)
	}

	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	measures, err := hazard.NewMeasureSet(names)
	if err != nil {
		return hazard.Site{}, err
	}
	// File names may spell a period differently from its canonical name.
	byMeasure := make(map[string]files.FileInfo, len(found))
	for name, file := range found {
		m, err := hazard.ParseMeasure(name)
		if err != nil {
			return hazard.Site{}, err
		}
		byMeasure[m.Name] = file
	}

	site := hazard.Site{ID: siteID}
	for i, m := range measures {
		file := byMeasure[m.Name]
		parsed, err := ReadHazardCurveFile(file.Path)
		if err != nil {
			return hazard.Site{}, err
		}
		curve, row, err := parsed.Curve(siteID)
		if err != nil {
			return hazard.Site{}, err
		}
		if i == 0 {
			site.Lon, site.Lat, site.Depth = row.Lon, row.Lat, row.Depth
			site.Levels = append([]float64(nil), curve.Levels...)
		}
		// The file name picks the slot; the curve keeps the canonical measure.
		curve.Measure = m
		site.Curves = append(site.Curves, curve)

		slog.Debug("Loaded hazard curve",
			slog.String("measure", m.Name),
			slog.String("file", file.Name),
			slog.Int("levels", len(curve.Levels)),
			slog.Int("sites", len(parsed.Sites)))
	}

	return site, nil
}

type curveColumns struct {
	lon, lat, depth int
	poe             []int
	levels          []float64
}

func mapCurveColumns(header []string) (*curveColumns, error) {
	cols := &curveColumns{lon: -1, lat: -1, depth: -1}
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case name == "lon":
			cols.lon = i
		case name == "lat":
			cols.lat = i
		case name == "depth":
			cols.depth = i
		case strings.HasPrefix(name, poePrefix):
			level, err := strconv.ParseFloat(strings.TrimPrefix(name, poePrefix), 64)
			if err != nil {
				return nil, apperrors.NewParsingError(fmt.Sprintf("invalid level column %q", raw), err)
			}
			cols.poe = append(cols.poe, i)
			cols.levels = append(cols.levels, level)
		}
	}

	if cols.lon < 0 || cols.lat < 0 {
		return nil, apperrors.NewParsingError("hazard-curve header lacks lon/lat columns", nil)
	}
	if len(cols.poe) == 0 {
		return nil, apperrors.NewParsingError("hazard-curve header has no poe- columns", nil)
	}
	return cols, nil
}

func (c *curveColumns) parseRow(record []string) (SiteCurve, error) {
	var site SiteCurve
	var err error

	if site.Lon, err = floatAt(record, c.lon, "lon"); err != nil {
		return site, err
	}
	if site.Lat, err = floatAt(record, c.lat, "lat"); err != nil {
		return site, err
	}
	if c.depth >= 0 {
		if site.Depth, err = floatAt(record, c.depth, "depth"); err != nil {
			return site, err
		}
	}

	site.Probabilities = make([]float64, len(c.poe))
	for k, idx := range c.poe {
		if site.Probabilities[k], err = floatAt(record, idx, "poe"); err != nil {
			return site, err
		}
	}
	return site, nil
}

// parseMetadata reads key=value pairs from the OpenQuake comment line
func parseMetadata(record []string) map[string]string {
	meta := make(map[string]string)
	line := strings.TrimLeft(strings.Join(record, ","), "#, ")
	for _, m := range metadataPair.FindAllStringSubmatch(line, -1) {
		meta[m[1]] = strings.Trim(strings.TrimSpace(m[2]), "'\"")
	}
	return meta
}

func floatAt(record []string, idx int, what string) (float64, error) {
	if idx >= len(record) {
		return 0, fmt.Errorf("missing %s column %d", what, idx)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", what, record[idx], err)
	}
	return v, nil
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
