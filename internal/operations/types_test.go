package operations

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sitehazard/internal/errors"
	"sitehazard/internal/hazard"
)

var (
	testLevels = []float64{0.01, 0.1, 1}
	testProbs  = []float64{0.5, 0.1, 0.001}
)

func testSite() hazard.Site {
	site := hazard.Site{ID: 1, Levels: testLevels}
	for _, name := range []string{"PGA", "SA(1.0)"} {
		site.Curves = append(site.Curves, hazard.HazardCurve{
			Measure:       hazard.MustParseMeasure(name),
			Levels:        testLevels,
			Probabilities: testProbs,
		})
	}
	return site
}

func testResult(t *testing.T) *hazard.Result {
	t.Helper()
	engine := hazard.NewEngine(hazard.EngineConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	result, err := engine.RunWithModels(context.Background(), testSite(), []hazard.ExceedanceModel{
		hazard.AmplificationModel{Slope: -0.3, Intercept: 1.8, Dispersion: 0.25, Records: 20},
		hazard.ConstantRatio{K: 1.5},
	})
	require.NoError(t, err)
	return result
}

func TestParseRunStatus(t *testing.T) {
	for _, s := range []string{"", "pending", "running", "completed", "failed", "cancelled"} {
		st, err := ParseRunStatus(s)
		require.NoError(t, err, s)
		assert.Equal(t, RunStatus(s), st)
	}

	_, err := ParseRunStatus("done")
	assert.ErrorIs(t, err, &apperrors.AppError{Type: apperrors.ErrTypeValidation})
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunStatusPending.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
	assert.True(t, RunStatusCancelled.Terminal())
}

func TestNewRunAndClone(t *testing.T) {
	measures := []string{"PGA", "SA(1.0)"}
	run := NewRun(4, measures)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusPending, run.Status)
	assert.Equal(t, 4, run.SiteID)

	measures[0] = "mutated"
	assert.Equal(t, "PGA", run.Measures[0])

	started := time.Now()
	m := 1
	run.StartedAt = &started
	run.FailedMeasure = &m
	run.Artifacts = []string{"a.csv"}

	c := run.Clone()
	c.Measures[1] = "x"
	c.Artifacts[0] = "b.csv"
	*c.FailedMeasure = 2
	*c.StartedAt = started.Add(time.Hour)

	assert.Equal(t, "SA(1.0)", run.Measures[1])
	assert.Equal(t, "a.csv", run.Artifacts[0])
	assert.Equal(t, 1, *run.FailedMeasure)
	assert.Equal(t, started, *run.StartedAt)
}

func TestRunDuration(t *testing.T) {
	run := NewRun(0, nil)
	assert.Zero(t, run.Duration())

	start := time.Now()
	end := start.Add(3 * time.Second)
	run.StartedAt, run.CompletedAt = &start, &end
	assert.Equal(t, 3*time.Second, run.Duration())
}

func TestSummarizeModels(t *testing.T) {
	assert.Nil(t, SummarizeModels(nil))

	summaries := SummarizeModels(testResult(t))
	require.Len(t, summaries, 2)
	assert.Equal(t, ModelSummary{
		Measure: "PGA", Kind: "power_law", Slope: -0.3, Intercept: 1.8, Dispersion: 0.25, Records: 20,
	}, summaries[0])
	assert.Equal(t, ModelSummary{Measure: "SA(1.0)", Kind: "constant_ratio", Intercept: 1.5}, summaries[1])
}

func TestRunFilterMatches(t *testing.T) {
	run := NewRun(2, nil)
	run.Status = RunStatusCompleted
	site := 2
	other := 3

	assert.True(t, RunFilter{}.matches(run))
	assert.True(t, RunFilter{Status: RunStatusCompleted, SiteID: &site}.matches(run))
	assert.False(t, RunFilter{Status: RunStatusFailed}.matches(run))
	assert.False(t, RunFilter{SiteID: &other}.matches(run))
	assert.False(t, RunFilter{Since: run.CreatedAt.Add(time.Minute)}.matches(run))
}
