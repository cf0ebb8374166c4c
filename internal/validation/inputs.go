// Package validation checks batch inputs on disk before any file is parsed,
// so a misconfigured run fails with one clear message instead of a parse
// error halfway through.
package validation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"sitehazard/internal/config"
	apperrors "sitehazard/internal/errors"
	"sitehazard/internal/files"
)

// FileValidator checks the files named by the input and output config
type FileValidator struct {
	logger *slog.Logger
}

// NewFileValidator creates a new file validator
func NewFileValidator(logger *slog.Logger) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileValidator{logger: logger.With(slog.String("component", "file_validator"))}
}

// ValidateInputs checks the hazard curve directory and, when withSpectra is
// set, both spectra tables.
func (v *FileValidator) ValidateInputs(cfg config.InputConfig, withSpectra bool) error {
	pattern := cfg.HazardPattern
	if pattern == "" {
		pattern = files.DefaultHazardPattern
	}
	n, err := v.CountFiles(cfg.HazardDir, pattern)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NewConfigError(
			fmt.Sprintf("no hazard curve files matching %q in %s", pattern, cfg.HazardDir), nil)
	}

	if !withSpectra {
		return nil
	}
	for _, path := range []string{cfg.RockSpectra, cfg.SurfaceSpectra} {
		if err := v.ValidateSpectraFile(path); err != nil {
			return err
		}
	}
	return nil
}

// ValidateFile checks that path is a readable regular file
func (v *FileValidator) ValidateFile(path string) error {
	if path == "" {
		return apperrors.NewConfigError("file path is empty", nil)
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return apperrors.NewConfigError(fmt.Sprintf("file %s does not exist", path), err)
	}
	if err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("failed to stat file %s", path), err)
	}
	if info.IsDir() {
		return apperrors.NewConfigError(fmt.Sprintf("%s is a directory, not a file", path), nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("file %s is not readable", path), err)
	}
	f.Close()

	v.logger.Debug("File validated", slog.String("file", path), slog.Int64("size", info.Size()))
	return nil
}

// ValidateSpectraFile accepts readable .csv and .xlsx files, rejecting
// Excel lock files.
func (v *FileValidator) ValidateSpectraFile(path string) error {
	if err := v.ValidateFile(path); err != nil {
		return err
	}
	if strings.HasPrefix(filepath.Base(path), "~$") {
		return apperrors.NewConfigError(fmt.Sprintf("%s is a temporary Excel file", path), nil)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".xlsx":
		return nil
	default:
		return apperrors.NewConfigError(
			fmt.Sprintf("spectra file %s has unsupported extension %q", path, ext), nil)
	}
}

// CountFiles counts regular files matching pattern in dir
func (v *FileValidator) CountFiles(dir, pattern string) (int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, apperrors.NewConfigError(fmt.Sprintf("input directory %s is not accessible", dir), err)
	}
	if !info.IsDir() {
		return 0, apperrors.NewConfigError(fmt.Sprintf("%s is not a directory", dir), nil)
	}

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return 0, apperrors.NewConfigError(fmt.Sprintf("bad file pattern %q", pattern), err)
	}

	count := 0
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && !fi.IsDir() {
			count++
		}
	}
	v.logger.Debug("Files counted",
		slog.String("directory", dir),
		slog.String("pattern", pattern),
		slog.Int("count", count))
	return count, nil
}

// ValidateOutputDirectory creates dir if needed and checks it is writable
func (v *FileValidator) ValidateOutputDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("cannot create output directory %s", dir), err)
	}
	probe, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("output directory %s is not writable", dir), err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}
