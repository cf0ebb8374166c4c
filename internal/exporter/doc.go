// Package exporter writes the artifacts of a convolution run.
//
// This package contains three main components:
//
// CSVWriter: Core CSV writing with optional preamble lines (used for the
// OpenQuake #vs30_ref line), streaming, and UTF-8 BOM for Excel.
//
// HazardExporter: Surface hazard curves, both as a long table with rock,
// surface and density columns and as OpenQuake-style per-measure files that
// the dataprocessing package can read back.
//
// Amplification exports: the OpenQuake site amplification file
// (amp4oqe.csv), a per-measure model summary, and an XLSX workbook with all
// tables.
//
// Example usage:
//
//	exp := exporter.NewHazardExporter(cfg.Output)
//	paths, err := exp.ExportAll(result)
package exporter
