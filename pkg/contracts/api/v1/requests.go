// Package api contains the v1 HTTP contracts of the convolution service.
// Structural checks live in the validate tags; numeric checks on levels,
// probabilities and spectra are left to the engine so they surface as
// domain errors.
package api

// CurveInput is the rock hazard curve of one intensity measure
type CurveInput struct {
	Measure       string    `json:"measure" validate:"required,imt"`
	Probabilities []float64 `json:"probabilities" validate:"required,min=3"`
}

// PairInput is one ground-motion record, values indexed like the curves
type PairInput struct {
	RecordID string    `json:"record_id" validate:"omitempty,max=128"`
	Rock     []float64 `json:"rock" validate:"required,min=1"`
	Surface  []float64 `json:"surface" validate:"required,min=1"`
}

// OutputOptions overrides the exporter defaults for one run
type OutputOptions struct {
	SiteCode      string  `json:"site_code,omitempty" validate:"omitempty,alphanum,max=16"`
	Vs30Ref       float64 `json:"vs30_ref,omitempty" validate:"omitempty,gt=0"`
	WriteWorkbook *bool   `json:"write_workbook,omitempty"`
	Upload        *bool   `json:"upload,omitempty"`
}

// ConvolutionRequest starts a run for one site. Exactly one of pairs (the
// model is fitted per measure) or constant_ratio (a linear site) is set.
type ConvolutionRequest struct {
	SiteID        int            `json:"site_id" validate:"gte=0"`
	Lon           float64        `json:"lon" validate:"gte=-180,lte=180"`
	Lat           float64        `json:"lat" validate:"gte=-90,lte=90"`
	Depth         float64        `json:"depth"`
	Levels        []float64      `json:"levels" validate:"required,min=3"`
	Curves        []CurveInput   `json:"curves" validate:"required,min=1,dive"`
	Pairs         []PairInput    `json:"pairs,omitempty" validate:"omitempty,min=2,dive"`
	ConstantRatio *float64       `json:"constant_ratio,omitempty" validate:"omitempty,gt=0"`
	Output        *OutputOptions `json:"output,omitempty"`
}

// FitRequest fits the amplification model of one measure
type FitRequest struct {
	Measure string    `json:"measure" validate:"required,imt"`
	Rock    []float64 `json:"rock" validate:"required,min=2"`
	Surface []float64 `json:"surface" validate:"required,min=2"`
	// Levels, when set, adds the median amplification at each level
	Levels []float64 `json:"levels,omitempty"`
}

// RunListRequest filters the run listing
type RunListRequest struct {
	Status string `json:"status" query:"status" validate:"omitempty,oneof=pending running completed failed cancelled"`
	SiteID *int   `json:"site_id" query:"site_id" validate:"omitempty,gte=0"`
	Limit  int    `json:"limit" query:"limit" validate:"gte=0,lte=500"`
}
