package operations

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sitehazard/internal/errors"
	"sitehazard/internal/hazard"
)

type recordingHub struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHub) BroadcastUpdate(eventType, _, _ string, _ interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

func (h *recordingHub) seen(eventType string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitForStatus(t *testing.T, store RunStore, id string, status RunStatus) *Run {
	t.Helper()
	var run *Run
	require.Eventually(t, func() bool {
		got, err := store.GetRun(context.Background(), id)
		if err != nil {
			return false
		}
		run = got
		return got.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return run
}

func engineWork(models []hazard.ExceedanceModel) WorkFunc {
	return func(ctx context.Context, run *Run, progress hazard.ProgressFunc) error {
		engine := hazard.NewEngine(hazard.EngineConfig{MaxWorkers: 1}, quietLogger(), hazard.WithProgress(progress))
		result, err := engine.RunWithModels(ctx, testSite(), models)
		if err != nil {
			return err
		}
		run.Result = result
		run.Artifacts = []string{"hazard_curves.csv"}
		return nil
	}
}

func startQueue(t *testing.T, cfg QueueConfig, store RunStore, hub WebSocketHub) *RunQueue {
	t.Helper()
	q := NewRunQueue(cfg, store, hub, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = q.Stop(5 * time.Second)
	})
	return q
}

func TestRunQueueCompletes(t *testing.T) {
	store := NewMemoryRunStore()
	hub := &recordingHub{}
	q := startQueue(t, QueueConfig{Workers: 1, Capacity: 4}, store, hub)

	run := NewRun(1, []string{"PGA", "SA(1.0)"})
	require.NoError(t, q.Enqueue(context.Background(), run, engineWork([]hazard.ExceedanceModel{
		hazard.AmplificationModel{Slope: -0.3, Intercept: 1.8, Dispersion: 0.25, Records: 20},
		hazard.ConstantRatio{K: 1.5},
	})))

	done := waitForStatus(t, store, run.ID, RunStatusCompleted)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.Result)
	assert.Len(t, done.Result.Records, 2)
	assert.Len(t, done.Models, 2)
	assert.Equal(t, "constant_ratio", done.Models[1].Kind)
	assert.Equal(t, []string{"hazard_curves.csv"}, done.Artifacts)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)

	assert.Eventually(t, func() bool { return hub.seen(EventRunCompleted) }, time.Second, 10*time.Millisecond)
	assert.True(t, hub.seen(EventRunQueued))
	assert.True(t, hub.seen(EventRunStarted))
	assert.True(t, hub.seen(EventRunProgress))
}

func TestRunQueueRecordsFailure(t *testing.T) {
	store := NewMemoryRunStore()
	hub := &recordingHub{}
	q := startQueue(t, QueueConfig{Workers: 1}, store, hub)

	run := NewRun(1, []string{"PGA", "SA(1.0)"})
	require.NoError(t, q.Enqueue(context.Background(), run, engineWork([]hazard.ExceedanceModel{
		hazard.ConstantRatio{K: 1.5},
		hazard.AmplificationModel{Slope: 0, Intercept: 1, Dispersion: 0.1},
	})))

	failed := waitForStatus(t, store, run.ID, RunStatusFailed)
	assert.Equal(t, string(apperrors.ErrTypeDegenerateModel), failed.ErrorCode)
	require.NotNil(t, failed.FailedMeasure)
	assert.Equal(t, 1, *failed.FailedMeasure)
	assert.Nil(t, failed.Result)
	assert.Eventually(t, func() bool { return hub.seen(EventRunFailed) }, time.Second, 10*time.Millisecond)
}

func TestRunQueueRecoversPanic(t *testing.T) {
	store := NewMemoryRunStore()
	q := startQueue(t, QueueConfig{Workers: 1}, store, nil)

	run := NewRun(0, nil)
	require.NoError(t, q.Enqueue(context.Background(), run, func(context.Context, *Run, hazard.ProgressFunc) error {
		panic("boom")
	}))

	failed := waitForStatus(t, store, run.ID, RunStatusFailed)
	assert.Contains(t, failed.Error, "boom")
}

func TestRunQueueCancelRunning(t *testing.T) {
	store := NewMemoryRunStore()
	q := startQueue(t, QueueConfig{Workers: 1}, store, nil)

	started := make(chan struct{})
	run := NewRun(0, nil)
	require.NoError(t, q.Enqueue(context.Background(), run, func(ctx context.Context, _ *Run, _ hazard.ProgressFunc) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	<-started
	require.NoError(t, q.CancelRun(context.Background(), run.ID))
	cancelled := waitForStatus(t, store, run.ID, RunStatusCancelled)
	assert.NotNil(t, cancelled.CompletedAt)
}

func TestRunQueueCancelPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore()
	q := NewRunQueue(QueueConfig{Workers: 1, Capacity: 4}, store, nil, quietLogger())

	var called atomic.Bool
	first := NewRun(0, nil)
	require.NoError(t, q.Enqueue(ctx, first, func(context.Context, *Run, hazard.ProgressFunc) error {
		called.Store(true)
		return nil
	}))
	require.NoError(t, q.CancelRun(ctx, first.ID))

	second := NewRun(0, nil)
	require.NoError(t, q.Enqueue(ctx, second, func(context.Context, *Run, hazard.ProgressFunc) error {
		return nil
	}))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Start would fail pending runs left by a previous process, so the
	// workers are started directly.
	q.wg.Add(1)
	go q.worker(runCtx, 0)
	defer q.Stop(5 * time.Second)

	waitForStatus(t, store, second.ID, RunStatusCompleted)
	assert.False(t, called.Load())

	got, err := store.GetRun(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCancelled, got.Status)

	err = q.CancelRun(ctx, second.ID)
	assert.ErrorIs(t, err, &apperrors.AppError{Type: apperrors.ErrTypeValidation})
}

// cancelOnGetStore cancels the run from inside the first GetRun, which is
// the worker reading the run status as it picks the run up.
type cancelOnGetStore struct {
	RunStore
	once     sync.Once
	queue    *RunQueue
	cancelMu sync.Mutex
	err      error
	called   bool
}

func (s *cancelOnGetStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.once.Do(func() {
		err := s.queue.CancelRun(ctx, id)
		s.cancelMu.Lock()
		s.err, s.called = err, true
		s.cancelMu.Unlock()
	})
	return s.RunStore.GetRun(ctx, id)
}

func TestRunQueueCancelWhileWorkerPicksUp(t *testing.T) {
	ctx := context.Background()
	store := &cancelOnGetStore{RunStore: NewMemoryRunStore()}
	hub := &recordingHub{}
	q := NewRunQueue(QueueConfig{Workers: 1, Capacity: 4}, store, hub, quietLogger())
	store.queue = q

	var ran atomic.Bool
	run := NewRun(0, nil)
	require.NoError(t, q.Enqueue(ctx, run, func(context.Context, *Run, hazard.ProgressFunc) error {
		ran.Store(true)
		return nil
	}))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	q.wg.Add(1)
	go q.worker(runCtx, 0)
	defer q.Stop(5 * time.Second)

	got := waitForStatus(t, store.RunStore, run.ID, RunStatusCancelled)
	assert.Nil(t, got.StartedAt)
	assert.False(t, ran.Load())

	store.cancelMu.Lock()
	assert.True(t, store.called)
	assert.NoError(t, store.err)
	store.cancelMu.Unlock()

	assert.Eventually(t, func() bool { return hub.seen(EventRunCancelled) }, time.Second, 10*time.Millisecond)
	assert.False(t, hub.seen(EventRunStarted))

	// No later write may flip the run back.
	time.Sleep(50 * time.Millisecond)
	final, err := store.RunStore.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCancelled, final.Status)
	assert.False(t, ran.Load())
}

func TestRunQueueFull(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore()
	q := NewRunQueue(QueueConfig{Workers: 1, Capacity: 1}, store, nil, quietLogger())

	noop := func(context.Context, *Run, hazard.ProgressFunc) error { return nil }
	require.NoError(t, q.Enqueue(ctx, NewRun(0, nil), noop))

	rejected := NewRun(0, nil)
	err := q.Enqueue(ctx, rejected, noop)
	assert.True(t, errors.Is(err, ErrQueueFull))

	got, err := store.GetRun(ctx, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)

	stats := q.GetQueueStats()
	assert.Equal(t, 1, stats["queue_size"])
	assert.Equal(t, 1, stats["queue_cap"])
}

func TestRunQueueTimeout(t *testing.T) {
	store := NewMemoryRunStore()
	q := startQueue(t, QueueConfig{Workers: 1, RunTimeout: 20 * time.Millisecond}, store, nil)

	run := NewRun(0, nil)
	require.NoError(t, q.Enqueue(context.Background(), run, func(ctx context.Context, _ *Run, _ hazard.ProgressFunc) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	failed := waitForStatus(t, store, run.ID, RunStatusFailed)
	assert.Equal(t, "TIMEOUT", failed.ErrorCode)
}

func TestRunQueueRecoversStaleRuns(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore()

	stale := NewRun(0, nil)
	stale.Status = RunStatusRunning
	require.NoError(t, store.CreateRun(ctx, stale))

	startQueue(t, QueueConfig{Workers: 1}, store, nil)

	got, err := store.GetRun(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, "run interrupted by restart", got.Error)
}

func TestRunQueueCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore()
	q := NewRunQueue(QueueConfig{}, store, nil, quietLogger())

	old := NewRun(0, nil)
	old.Status = RunStatusCompleted
	old.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.CreateRun(ctx, old))

	n, err := q.Cleanup(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
