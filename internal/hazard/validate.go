package hazard

import (
	"errors"
	"fmt"
	"math"

	apperrors "sitehazard/internal/errors"
)

// ValidateLevels checks that levels are finite, positive and strictly increasing
func ValidateLevels(levels []float64) error {
	for i, l := range levels {
		if !(l > 0) || math.IsInf(l, 0) {
			return apperrors.NewNonPositiveValueError("levels", i, l)
		}
		if i > 0 && l <= levels[i-1] {
			return apperrors.NewInconsistentLevelsError(
				fmt.Sprintf("levels must be strictly increasing: levels[%d] = %g after %g", i, l, levels[i-1]))
		}
	}
	return nil
}

// Validate checks the curve's grid and that probabilities lie in [0,1] and
// never increase with level.
func (c HazardCurve) Validate() error {
	if len(c.Levels) != len(c.Probabilities) {
		return apperrors.NewMismatchedRecordsError(
			fmt.Sprintf("%s levels and probabilities", c.Measure.Name), len(c.Levels), len(c.Probabilities))
	}
	if err := ValidateLevels(c.Levels); err != nil {
		return err
	}
	for i, p := range c.Probabilities {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return apperrors.NewAppValidationError(
				fmt.Sprintf("%s probability[%d] = %g outside [0,1]", c.Measure.Name, i, p))
		}
		if i > 0 && p > c.Probabilities[i-1] {
			return apperrors.NewAppValidationError(
				fmt.Sprintf("%s probability[%d] = %g increases with level", c.Measure.Name, i, p))
		}
	}
	return nil
}

// Validate checks that every curve is well formed and shares the site grid
func (s Site) Validate() error {
	if len(s.Curves) == 0 {
		return apperrors.NewInsufficientDataError("intensity measures", 0, 1)
	}
	if len(s.Levels) < MinLevels {
		return apperrors.NewInsufficientDataError("intensity levels", len(s.Levels), MinLevels)
	}
	if err := ValidateLevels(s.Levels); err != nil {
		return err
	}

	seen := make(map[string]bool, len(s.Curves))
	for i, c := range s.Curves {
		if seen[c.Measure.Name] {
			return apperrors.NewAppValidationError(
				fmt.Sprintf("duplicate intensity measure %s", c.Measure.Name)).WithMeasure(i)
		}
		seen[c.Measure.Name] = true

		if !sameLevels(s.Levels, c.Levels) {
			return apperrors.NewInconsistentLevelsError(
				fmt.Sprintf("%s does not share the site level grid", c.Measure.Name)).WithMeasure(i)
		}
		if err := c.Validate(); err != nil {
			return withMeasure(err, i)
		}
	}
	return nil
}

// ValidatePairs checks pair vectors against the number of measures
func ValidatePairs(pairs []GroundMotionPair, measures int) error {
	if len(pairs) < MinPairs {
		return apperrors.NewInsufficientDataError("ground-motion pairs", len(pairs), MinPairs)
	}
	for i, p := range pairs {
		if len(p.Rock) != measures {
			return apperrors.NewMismatchedRecordsError(
				fmt.Sprintf("record %d (%s) rock values vs measures", i, p.RecordID), len(p.Rock), measures)
		}
		if len(p.Surface) != measures {
			return apperrors.NewMismatchedRecordsError(
				fmt.Sprintf("record %d (%s) surface values vs measures", i, p.RecordID), len(p.Surface), measures)
		}
	}
	return nil
}

// column extracts measure i of every pair
func column(pairs []GroundMotionPair, i int) (rock, surface []float64) {
	rock = make([]float64, len(pairs))
	surface = make([]float64, len(pairs))
	for k, p := range pairs {
		rock[k] = p.Rock[i]
		surface[k] = p.Surface[i]
	}
	return rock, surface
}

func sameLevels(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// withMeasure attributes the underlying AppError to a measure, wrapping
// anything else.
func withMeasure(err error, measure int) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.WithMeasure(measure)
	}
	return fmt.Errorf("measure %d: %w", measure, err)
}
