package exporter

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"sitehazard/internal/config"
	"sitehazard/internal/hazard"
)

// Workbook sheet names
const (
	SheetCurves        = "Curves"
	SheetModels        = "Models"
	SheetAmplification = "Amplification"
)

// WriteWorkbook writes the curves, models and amplification tables to an
// XLSX file at path and returns the path.
func WriteWorkbook(result *hazard.Result, path string, cfg config.OutputConfig) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetCurves); err != nil {
		return "", fmt.Errorf("rename sheet: %w", err)
	}

	// Curves: one level column, then rock and surface per measure.
	curveHeader := []interface{}{"level"}
	for _, rec := range result.Records {
		curveHeader = append(curveHeader, "rock_"+rec.Measure.Name, "surface_"+rec.Measure.Name)
	}
	curveRows := [][]interface{}{curveHeader}
	for j, level := range result.Levels {
		row := []interface{}{level}
		for _, rec := range result.Records {
			row = append(row, rec.Rock.Probabilities[j], rec.Surface.Probabilities[j])
		}
		curveRows = append(curveRows, row)
	}
	if err := writeSheet(f, SheetCurves, curveRows); err != nil {
		return "", err
	}

	header, rows := ModelRows(result)
	title := fmt.Sprintf("site %d (%s)", result.SiteID, cfg.SiteCode)
	if err := writeStringSheet(f, SheetModels, title, header, rows); err != nil {
		return "", err
	}

	preamble, header, rows := AmplificationRows(result, cfg.SiteCode, cfg.Vs30Ref)
	if err := writeStringSheet(f, SheetAmplification, preamble[0][0], header, rows); err != nil {
		return "", err
	}

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	return path, nil
}

// writeStringSheet puts title in A1, the header in row 2 and rows below
func writeStringSheet(f *excelize.File, sheet, title string, header []string, rows [][]string) error {
	out := make([][]interface{}, 0, len(rows)+2)
	out = append(out, []interface{}{title}, toRow(header))
	for _, r := range rows {
		out = append(out, toRow(r))
	}
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	return writeSheet(f, sheet, out)
}

func writeSheet(f *excelize.File, sheet string, rows [][]interface{}) error {
	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, r+1, err)
		}
	}
	return nil
}

func toRow(values []string) []interface{} {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}
