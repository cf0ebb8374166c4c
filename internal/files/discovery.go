package files

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DefaultHazardPattern matches OpenQuake mean hazard-curve exports
const DefaultHazardPattern = "hazard_curve-mean-*.csv"

var measureInName = regexp.MustCompile(`(?i)(PGA|SA\([0-9.]+\))`)

// FileInfo represents information about a discovered file
type FileInfo struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Discovery provides file discovery operations
type Discovery struct {
	basePath string
}

// NewDiscovery creates a new file discovery instance
func NewDiscovery(basePath string) *Discovery {
	return &Discovery{basePath: basePath}
}

func (d *Discovery) resolve(dir string) string {
	if filepath.IsAbs(dir) || d.basePath == "" {
		return dir
	}
	return filepath.Join(d.basePath, dir)
}

// FindFilesByPattern finds regular files matching a glob pattern, sorted by name
func (d *Discovery) FindFilesByPattern(dir string, pattern string) ([]FileInfo, error) {
	fullPath := d.resolve(dir)
	if _, err := os.Stat(fullPath); err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", fullPath, err)
	}

	// Parentheses in OpenQuake names are literal, brackets would not be.
	matches, err := filepath.Glob(filepath.Join(fullPath, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
	}

	var files []FileInfo
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, FileInfo{
			Path:    match,
			Name:    filepath.Base(match),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
	return files, nil
}

// FindHazardCurveFiles returns hazard-curve files keyed by measure name
// ("PGA", "SA(0.2)"). When several files carry the same measure the most
// recently modified wins.
func (d *Discovery) FindHazardCurveFiles(dir string, pattern string) (map[string]FileInfo, error) {
	if pattern == "" {
		pattern = DefaultHazardPattern
	}
	files, err := d.FindFilesByPattern(dir, pattern)
	if err != nil {
		return nil, err
	}

	byMeasure := make(map[string]FileInfo)
	for _, file := range files {
		measure, ok := MeasureFromFilename(file.Name)
		if !ok {
			continue
		}
		if prev, exists := byMeasure[measure]; exists {
			latest, _ := GetLatestFile([]FileInfo{prev, file})
			byMeasure[measure] = latest
			continue
		}
		byMeasure[measure] = file
	}

	if len(byMeasure) == 0 {
		return nil, fmt.Errorf("no hazard-curve files matching %s in %s", pattern, d.resolve(dir))
	}
	return byMeasure, nil
}

// MeasureFromFilename extracts the intensity measure from an OpenQuake export name
func MeasureFromFilename(name string) (string, bool) {
	match := measureInName.FindString(filepath.Base(name))
	if match == "" {
		return "", false
	}
	return strings.ToUpper(match), true
}

// GetLatestFile returns the most recently modified file from a list
func GetLatestFile(files []FileInfo) (FileInfo, bool) {
	if len(files) == 0 {
		return FileInfo{}, false
	}

	latest := files[0]
	for _, file := range files[1:] {
		if file.ModTime.After(latest.ModTime) {
			latest = file
		}
	}

	return latest, true
}
