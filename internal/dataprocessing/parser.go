package dataprocessing

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	apperrors "sitehazard/internal/errors"
	"sitehazard/internal/hazard"
)

// SpectraTable holds spectral values per ground-motion record. Values[r][i]
// belongs to Records[r] and Measures[i], in file column order.
type SpectraTable struct {
	Measures hazard.MeasureSet
	Records  []string
	Values   [][]float64
}

// Column returns the values of the named measure, one per record
func (t *SpectraTable) Column(name string) ([]float64, bool) {
	idx := t.Measures.Index(name)
	if idx < 0 {
		return nil, false
	}
	col := make([]float64, len(t.Values))
	for r, row := range t.Values {
		col[r] = row[idx]
	}
	return col, true
}

// ReadSpectraTable reads a spectra table from a .csv or .xlsx file. sheet
// selects the worksheet of a workbook; empty means the first sheet.
func ReadSpectraTable(path, sheet string) (*SpectraTable, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadSpectraWorkbook(path, sheet)
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, apperrors.NewParsingError(fmt.Sprintf("failed to open spectra %s", path), err)
		}
		defer f.Close()
		table, err := ReadSpectraCSV(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return table, nil
	default:
		return nil, apperrors.NewParsingError(fmt.Sprintf("unsupported spectra file type %q", filepath.Ext(path)), nil)
	}
}

// ReadSpectraCSV parses a spectra table from CSV
func ReadSpectraCSV(r io.Reader) (*SpectraTable, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, apperrors.NewParsingError("failed to read spectra CSV", err)
	}
	return parseSpectraRows(rows)
}

// ReadSpectraWorkbook parses a spectra table from an Excel workbook
func ReadSpectraWorkbook(path, sheet string) (*SpectraTable, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("failed to open workbook %s", path), err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, apperrors.NewParsingError(fmt.Sprintf("workbook %s has no sheets", path), nil)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("failed to read sheet %q of %s", sheet, path), err)
	}

	slog.Debug("Read spectra sheet",
		slog.String("file", filepath.Base(path)),
		slog.String("sheet_name", sheet),
		slog.Int("total_rows", len(rows)))

	table, err := parseSpectraRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%s[%s]: %w", path, sheet, err)
	}
	return table, nil
}

// parseSpectraRows expects a header row with a record column followed by
// measure columns. Blank rows are skipped.
func parseSpectraRows(rows [][]string) (*SpectraTable, error) {
	headerRow := -1
	for i, row := range rows {
		if !isBlank(row) {
			headerRow = i
			break
		}
	}
	if headerRow < 0 {
		return nil, apperrors.NewParsingError("spectra table is empty", nil)
	}

	header := rows[headerRow]
	if len(header) < 2 {
		return nil, apperrors.NewParsingError("spectra header needs a record column and at least one measure", nil)
	}

	table := &SpectraTable{}
	seen := make(map[string]bool)
	for _, raw := range header[1:] {
		m, err := hazard.ParseMeasure(raw)
		if err != nil {
			return nil, err
		}
		if seen[m.Name] {
			return nil, apperrors.NewParsingError(fmt.Sprintf("duplicate spectra column %s", m.Name), nil)
		}
		seen[m.Name] = true
		table.Measures = append(table.Measures, m)
	}

	for i := headerRow + 1; i < len(rows); i++ {
		row := rows[i]
		if isBlank(row) {
			continue
		}

		id := strings.TrimSpace(row[0])
		if id == "" {
			id = fmt.Sprintf("record-%d", len(table.Records)+1)
		}

		values := make([]float64, len(table.Measures))
		for k := range table.Measures {
			col := k + 1
			if col >= len(row) || strings.TrimSpace(row[col]) == "" {
				return nil, apperrors.NewParsingError(
					fmt.Sprintf("row %d (%s) is missing %s", i+1, id, table.Measures[k].Name), nil)
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
			if err != nil {
				return nil, apperrors.NewParsingError(
					fmt.Sprintf("row %d (%s) has invalid %s value %q", i+1, id, table.Measures[k].Name, row[col]), err)
			}
			values[k] = v
		}

		table.Records = append(table.Records, id)
		table.Values = append(table.Values, values)
	}

	if len(table.Records) == 0 {
		return nil, apperrors.NewInsufficientDataError("spectra records", 0, hazard.MinPairs)
	}
	return table, nil
}
