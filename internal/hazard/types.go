package hazard

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	apperrors "sitehazard/internal/errors"
)

const (
	// PGAName is the OpenQuake name of peak ground acceleration
	PGAName = "PGA"
	// PGAFrequency is the nominal frequency assigned to PGA in Hz
	PGAFrequency = 100.0
	// DefaultSlopeTolerance is the smallest |c| accepted from a regression
	DefaultSlopeTolerance = 1e-9
	// MinPairs is the minimum number of ground-motion pairs for a fit
	MinPairs = 2
	// MinLevels is the minimum grid size for the density proxy
	MinLevels = 3
)

// IntensityMeasure identifies a ground-motion parameter such as PGA or SA(0.2)
type IntensityMeasure struct {
	Name   string  `json:"name"`
	Period float64 `json:"period"` // seconds, 0 for PGA
}

// ParseMeasure parses an OpenQuake IMT name ("PGA", "SA(0.2)"). The period
// is rewritten in canonical form, so "SA(0.10)" and "SA(1)" name the same
// measures as "SA(0.1)" and "SA(1.0)".
func ParseMeasure(name string) (IntensityMeasure, error) {
	trimmed := strings.TrimSpace(name)
	if strings.EqualFold(trimmed, PGAName) {
		return IntensityMeasure{Name: PGAName}, nil
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SA(") || !strings.HasSuffix(upper, ")") {
		return IntensityMeasure{}, apperrors.NewParsingError(
			fmt.Sprintf("unsupported intensity measure %q", name), nil)
	}

	raw := trimmed[3 : len(trimmed)-1]
	period, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return IntensityMeasure{}, apperrors.NewParsingError(
			fmt.Sprintf("invalid spectral period in %q", name), err)
	}
	if period <= 0 || math.IsInf(period, 0) || math.IsNaN(period) {
		return IntensityMeasure{}, apperrors.NewNonPositiveValueError("period", 0, period)
	}

	return IntensityMeasure{Name: spectralName(period), Period: period}, nil
}

// spectralName formats a period the way OpenQuake writes it: shortest
// decimal form with at least one fractional digit.
func spectralName(period float64) string {
	s := strconv.FormatFloat(period, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return "SA(" + s + ")"
}

// MustParseMeasure is like ParseMeasure but panics on error
func MustParseMeasure(name string) IntensityMeasure {
	m, err := ParseMeasure(name)
	if err != nil {
		panic(err)
	}
	return m
}

// IsPGA reports whether the measure is peak ground acceleration
func (m IntensityMeasure) IsPGA() bool {
	return m.Period == 0
}

// Frequency returns the nominal frequency in Hz
func (m IntensityMeasure) Frequency() float64 {
	if m.IsPGA() {
		return PGAFrequency
	}
	return 1 / m.Period
}

// String returns the OpenQuake name of the measure
func (m IntensityMeasure) String() string {
	return m.Name
}

// MeasureSet is an ordered set of measures. Index 0 is PGA when PGA is present,
// spectral accelerations follow in increasing period.
type MeasureSet []IntensityMeasure

// NewMeasureSet parses and orders the given names
func NewMeasureSet(names []string) (MeasureSet, error) {
	set := make(MeasureSet, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		m, err := ParseMeasure(name)
		if err != nil {
			return nil, err
		}
		if seen[m.Name] {
			return nil, apperrors.NewAppValidationError(fmt.Sprintf("duplicate intensity measure %s", m.Name))
		}
		seen[m.Name] = true
		set = append(set, m)
	}

	sort.SliceStable(set, func(i, j int) bool {
		return set[i].Period < set[j].Period
	})
	return set, nil
}

// Names returns the measure names in set order
func (s MeasureSet) Names() []string {
	names := make([]string, len(s))
	for i, m := range s {
		names[i] = m.Name
	}
	return names
}

// Index returns the position of the named measure, or -1
func (s MeasureSet) Index(name string) int {
	for i, m := range s {
		if m.Name == name {
			return i
		}
	}
	return -1
}

// HazardCurve is a discretized exceedance curve for one measure
type HazardCurve struct {
	Measure       IntensityMeasure `json:"measure"`
	Levels        []float64        `json:"levels"`
	Probabilities []float64        `json:"probabilities"`
}

// Site is the rock hazard at one location: a shared level grid and one
// curve per measure, indexed like Measures().
type Site struct {
	ID     int           `json:"id"`
	Lon    float64       `json:"lon"`
	Lat    float64       `json:"lat"`
	Depth  float64       `json:"depth"`
	Levels []float64     `json:"levels"`
	Curves []HazardCurve `json:"curves"`
}

// Measures returns the measures of the site's curves in order
func (s Site) Measures() MeasureSet {
	set := make(MeasureSet, len(s.Curves))
	for i, c := range s.Curves {
		set[i] = c.Measure
	}
	return set
}

// GroundMotionPair holds rock and surface spectral values of one record,
// indexed like the site's measures.
type GroundMotionPair struct {
	RecordID string    `json:"record_id"`
	Rock     []float64 `json:"rock"`
	Surface  []float64 `json:"surface"`
}

// AmplificationModel is the fitted power law ln AF = ln b + c·ln x with
// dispersion σ.
type AmplificationModel struct {
	Slope      float64 `json:"slope"`      // c
	Intercept  float64 `json:"intercept"`  // b, not ln b
	Dispersion float64 `json:"dispersion"` // σ
	Records    int     `json:"records"`
}

// MedianAmplification returns b·level^c
func (a AmplificationModel) MedianAmplification(level float64) float64 {
	return a.Intercept * math.Pow(level, a.Slope)
}

// MeasureRecord is the full set of artifacts computed for one measure
type MeasureRecord struct {
	Index   int              `json:"index"`
	Measure IntensityMeasure `json:"measure"`
	Model   ExceedanceModel  `json:"-"`
	Rock    HazardCurve      `json:"rock"`
	Density []float64        `json:"density"`
	Surface HazardCurve      `json:"surface"`
}

// Amplification returns the fitted power law when the record used one
func (r MeasureRecord) Amplification() (AmplificationModel, bool) {
	switch m := r.Model.(type) {
	case AmplificationModel:
		return m, true
	case *AmplificationModel:
		if m != nil {
			return *m, true
		}
	}
	return AmplificationModel{}, false
}

// ModelKind names the exceedance model used by the record
func (r MeasureRecord) ModelKind() string {
	switch r.Model.(type) {
	case AmplificationModel, *AmplificationModel:
		return "power_law"
	case ConstantRatio, *ConstantRatio:
		return "constant_ratio"
	case nil:
		return ""
	}
	return "custom"
}

// AmplificationAt returns the median amplification and its dispersion at a
// rock level. Models other than the two built-in ones report NaN.
func (r MeasureRecord) AmplificationAt(level float64) (median, sigma float64) {
	switch m := r.Model.(type) {
	case ConstantRatio:
		return m.K, 0
	case *ConstantRatio:
		if m != nil {
			return m.K, 0
		}
	}
	if a, ok := r.Amplification(); ok {
		return a.MedianAmplification(level), a.Dispersion
	}
	return math.NaN(), math.NaN()
}

// Result is the output of a convolution run. Records are indexed by measure.
type Result struct {
	SiteID  int             `json:"site_id"`
	Lon     float64         `json:"lon"`
	Lat     float64         `json:"lat"`
	Depth   float64         `json:"depth"`
	Levels  []float64       `json:"levels"`
	Records []MeasureRecord `json:"records"`
}

// Measures returns the measures of the result in record order
func (r *Result) Measures() MeasureSet {
	set := make(MeasureSet, len(r.Records))
	for i, rec := range r.Records {
		set[i] = rec.Measure
	}
	return set
}

// SurfaceProbabilities returns the P×M matrix of convolved probabilities
func (r *Result) SurfaceProbabilities() [][]float64 {
	out := make([][]float64, len(r.Records))
	for i, rec := range r.Records {
		out[i] = append([]float64(nil), rec.Surface.Probabilities...)
	}
	return out
}

// Record returns the record of the named measure
func (r *Result) Record(name string) (MeasureRecord, bool) {
	for _, rec := range r.Records {
		if rec.Measure.Name == name {
			return rec, true
		}
	}
	return MeasureRecord{}, false
}
