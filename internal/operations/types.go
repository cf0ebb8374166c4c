package operations

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	apperrors "sitehazard/internal/errors"
	"sitehazard/internal/hazard"
)

// RunStatus represents the status of a run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transition is possible
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// ParseRunStatus validates a status string from a query parameter
func ParseRunStatus(s string) (RunStatus, error) {
	switch st := RunStatus(s); st {
	case "", RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return st, nil
	}
	return "", apperrors.NewAppValidationError("unknown run status " + s)
}

// Run is one convolution submitted to the service
type Run struct {
	ID            string         `json:"id"`
	Status        RunStatus      `json:"status"`
	SiteID        int            `json:"site_id"`
	Measures      []string       `json:"measures"`
	Progress      int            `json:"progress"`
	Message       string         `json:"message,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	FailedMeasure *int           `json:"failed_measure,omitempty"`
	TraceID       string         `json:"trace_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Artifacts     []string       `json:"artifacts,omitempty"`
	Models        []ModelSummary `json:"models,omitempty"`
	Result        *hazard.Result `json:"result,omitempty"`
}

// NewRun creates a pending run with a fresh ID
func NewRun(siteID int, measures []string) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Status:    RunStatusPending,
		SiteID:    siteID,
		Measures:  append([]string(nil), measures...),
		CreatedAt: time.Now().UTC(),
	}
}

// Clone returns a copy that shares only the immutable result
func (r *Run) Clone() *Run {
	c := *r
	c.Measures = append([]string(nil), r.Measures...)
	c.Artifacts = append([]string(nil), r.Artifacts...)
	c.Models = append([]ModelSummary(nil), r.Models...)
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.FailedMeasure != nil {
		m := *r.FailedMeasure
		c.FailedMeasure = &m
	}
	return &c
}

// Duration is the wall time between start and completion, or zero
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

// ModelSummary describes the exceedance model used for one measure
type ModelSummary struct {
	Measure    string  `json:"measure"`
	Kind       string  `json:"kind"`
	Slope      float64 `json:"slope"`
	Intercept  float64 `json:"intercept"`
	Dispersion float64 `json:"dispersion"`
	Records    int     `json:"records"`
}

// SummarizeModels lists the model of every record of result. Constant
// ratios report K as the intercept with zero slope.
func SummarizeModels(result *hazard.Result) []ModelSummary {
	if result == nil {
		return nil
	}
	out := make([]ModelSummary, 0, len(result.Records))
	for _, rec := range result.Records {
		s := ModelSummary{Measure: rec.Measure.Name, Kind: rec.ModelKind()}
		if a, ok := rec.Amplification(); ok {
			s.Slope, s.Intercept, s.Dispersion, s.Records = a.Slope, a.Intercept, a.Dispersion, a.Records
		} else {
			s.Intercept, s.Dispersion = rec.AmplificationAt(math.NaN())
		}
		out = append(out, s)
	}
	return out
}

// RunFilter for querying runs
type RunFilter struct {
	Status RunStatus
	SiteID *int
	Since  time.Time
	Limit  int
}

// matches reports whether run passes every set filter field
func (f RunFilter) matches(run *Run) bool {
	if f.Status != "" && run.Status != f.Status {
		return false
	}
	if f.SiteID != nil && run.SiteID != *f.SiteID {
		return false
	}
	if !f.Since.IsZero() && run.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// RunStore persists runs. Implementations return copies; callers must
// UpdateRun to publish changes.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	// ListRuns returns matching runs, newest first
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error
	// CleanupOldRuns deletes terminal runs created before now-olderThan
	CleanupOldRuns(ctx context.Context, olderThan time.Duration) (int, error)
}

// WebSocketHub receives run events for connected clients
type WebSocketHub interface {
	BroadcastUpdate(eventType, step, status string, metadata interface{})
}

// Run event types
const (
	EventRunQueued    = "run:queued"
	EventRunStarted   = "run:started"
	EventRunProgress  = "run:progress"
	EventRunCompleted = "run:completed"
	EventRunFailed    = "run:failed"
	EventRunCancelled = "run:cancelled"
)

// RunEvent is the payload broadcast for every run transition
type RunEvent struct {
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	Progress  int       `json:"progress"`
	Measure   string    `json:"measure,omitempty"`
	Completed int       `json:"completed,omitempty"`
	Total     int       `json:"total,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}
