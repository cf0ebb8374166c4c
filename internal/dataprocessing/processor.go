package dataprocessing

import (
	"fmt"
	"log/slog"
	"strings"

	"sitehazard/internal/config"
	apperrors "sitehazard/internal/errors"
	"sitehazard/internal/hazard"
)

// Inputs is everything a convolution run reads from disk
type Inputs struct {
	Site  hazard.Site
	Pairs []hazard.GroundMotionPair
}

// PairSpectra builds ground-motion pairs with vectors ordered like measures.
// Rows are matched by record ID when both tables carry the same unique IDs
// and by position when the tables share no ID at all.
func PairSpectra(rock, surface *SpectraTable, measures hazard.MeasureSet) ([]hazard.GroundMotionPair, error) {
	if len(rock.Records) != len(surface.Records) {
		return nil, apperrors.NewMismatchedRecordsError("rock and surface records", len(rock.Records), len(surface.Records))
	}

	rockCols := make([]int, len(measures))
	surfaceCols := make([]int, len(measures))
	for i, m := range measures {
		rockCols[i] = rock.Measures.Index(m.Name)
		if rockCols[i] < 0 {
			return nil, apperrors.NewAppValidationError(
				fmt.Sprintf("rock spectra have no %s column", m.Name)).WithMeasure(i)
		}
		surfaceCols[i] = surface.Measures.Index(m.Name)
		if surfaceCols[i] < 0 {
			return nil, apperrors.NewAppValidationError(
				fmt.Sprintf("surface spectra have no %s column", m.Name)).WithMeasure(i)
		}
	}

	order, err := matchRecords(rock.Records, surface.Records)
	if err != nil {
		return nil, err
	}
	pairs := make([]hazard.GroundMotionPair, len(rock.Records))
	for r := range rock.Records {
		s := order[r]
		pair := hazard.GroundMotionPair{
			RecordID: rock.Records[r],
			Rock:     make([]float64, len(measures)),
			Surface:  make([]float64, len(measures)),
		}
		for i := range measures {
			pair.Rock[i] = rock.Values[r][rockCols[i]]
			pair.Surface[i] = surface.Values[s][surfaceCols[i]]
		}
		pairs[r] = pair
	}
	return pairs, nil
}

// matchRecords maps each rock row to a surface row. Rows pair by ID when
// every ID is shared and by position when no ID is shared. A partial overlap
// or a repeated ID is an error naming the offending records.
func matchRecords(rock, surface []string) ([]int, error) {
	if dups := duplicateIDs(rock); len(dups) > 0 {
		return nil, apperrors.NewAppValidationError(
			fmt.Sprintf("rock spectra repeat record ids %s", strings.Join(dups, ", "))).
			WithContext("duplicates", dups)
	}
	if dups := duplicateIDs(surface); len(dups) > 0 {
		return nil, apperrors.NewAppValidationError(
			fmt.Sprintf("surface spectra repeat record ids %s", strings.Join(dups, ", "))).
			WithContext("duplicates", dups)
	}

	index := make(map[string]int, len(surface))
	for i, id := range surface {
		index[id] = i
	}

	byID := make([]int, len(rock))
	var rockOnly []string
	for i, id := range rock {
		s, ok := index[id]
		if !ok {
			rockOnly = append(rockOnly, id)
			continue
		}
		byID[i] = s
		delete(index, id)
	}

	switch {
	case len(rockOnly) == 0:
		return byID, nil
	case len(rockOnly) == len(rock):
		order := make([]int, len(rock))
		for i := range order {
			order[i] = i
		}
		return order, nil
	}

	surfaceOnly := make([]string, 0, len(index))
	for _, id := range surface {
		if _, ok := index[id]; ok {
			surfaceOnly = append(surfaceOnly, id)
		}
	}
	return nil, apperrors.NewMismatchedRecordsError(
		fmt.Sprintf("matched record ids (rock only: %s; surface only: %s)",
			strings.Join(rockOnly, ", "), strings.Join(surfaceOnly, ", ")),
		len(rock)-len(rockOnly), len(rock)).
		WithContext("rock_only", rockOnly).
		WithContext("surface_only", surfaceOnly)
}

func duplicateIDs(ids []string) []string {
	seen := make(map[string]int, len(ids))
	var dups []string
	for _, id := range ids {
		seen[id]++
		if seen[id] == 2 {
			dups = append(dups, id)
		}
	}
	return dups
}

// LoadInputs reads the hazard curves and both spectra tables named by cfg
func LoadInputs(cfg config.InputConfig, logger *slog.Logger) (*Inputs, error) {
	if logger == nil {
		logger = slog.Default()
	}

	site, err := LoadSite(cfg.HazardDir, cfg.HazardPattern, cfg.SiteID)
	if err != nil {
		return nil, fmt.Errorf("load hazard curves: %w", err)
	}

	rock, err := ReadSpectraTable(cfg.RockSpectra, cfg.SpectraSheet)
	if err != nil {
		return nil, fmt.Errorf("load rock spectra: %w", err)
	}
	surface, err := ReadSpectraTable(cfg.SurfaceSpectra, cfg.SpectraSheet)
	if err != nil {
		return nil, fmt.Errorf("load surface spectra: %w", err)
	}

	pairs, err := PairSpectra(rock, surface, site.Measures())
	if err != nil {
		return nil, fmt.Errorf("pair spectra: %w", err)
	}

	logger.Info("Inputs loaded",
		slog.Int("site_id", site.ID),
		slog.Any("measures", site.Measures().Names()),
		slog.Int("levels", len(site.Levels)),
		slog.Int("records", len(pairs)))

	return &Inputs{Site: site, Pairs: pairs}, nil
}
