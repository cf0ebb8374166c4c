package api

import "time"

// ModelResponse describes the exceedance model used for one measure
type ModelResponse struct {
	Measure    string  `json:"measure"`
	Frequency  float64 `json:"frequency_hz"`
	Kind       string  `json:"kind"`
	Slope      float64 `json:"slope"`
	Intercept  float64 `json:"intercept"`
	Dispersion float64 `json:"dispersion"`
	Records    int     `json:"records"`
}

// FitResponse is the fitted model plus the optional amplification table
type FitResponse struct {
	ModelResponse
	Amplification []AmplificationPoint `json:"amplification,omitempty"`
}

// AmplificationPoint is the median amplification at one rock level
type AmplificationPoint struct {
	Level  float64 `json:"level"`
	Median float64 `json:"median"`
	Sigma  float64 `json:"sigma"`
}

// CurveResult holds the rock, density and surface vectors of one measure
type CurveResult struct {
	Measure string    `json:"measure"`
	Levels  []float64 `json:"levels"`
	Rock    []float64 `json:"rock"`
	Density []float64 `json:"density"`
	Surface []float64 `json:"surface"`
}

// RunResponse is the public view of a convolution run
type RunResponse struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	SiteID        int             `json:"site_id"`
	Measures      []string        `json:"measures"`
	Progress      int             `json:"progress"`
	Message       string          `json:"message,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorCode     string          `json:"error_code,omitempty"`
	FailedMeasure *int            `json:"failed_measure,omitempty"`
	TraceID       string          `json:"trace_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	DurationMS    int64           `json:"duration_ms,omitempty"`
	Artifacts     []string        `json:"artifacts,omitempty"`
	Models        []ModelResponse `json:"models,omitempty"`
	Curves        []CurveResult   `json:"curves,omitempty"`
}

// RunListResponse wraps a page of runs
type RunListResponse struct {
	Runs  []RunResponse `json:"runs"`
	Count int           `json:"count"`
}

// HealthResponse reports service and dependency status
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks,omitempty"`
	Queue         map[string]int    `json:"queue,omitempty"`
}
