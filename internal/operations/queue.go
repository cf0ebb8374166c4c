package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "sitehazard/internal/errors"
	"sitehazard/internal/hazard"
	"sitehazard/internal/infrastructure"
)

// ErrQueueFull is returned by Enqueue when no slot is free
var ErrQueueFull = errors.New("run queue is full")

// WorkFunc performs a run. It sets Result, Models and Artifacts on run and
// passes progress to the engine so measure completions reach the store.
type WorkFunc func(ctx context.Context, run *Run, progress hazard.ProgressFunc) error

// QueueConfig sizes the run queue
type QueueConfig struct {
	Workers    int
	Capacity   int
	RunTimeout time.Duration
}

type task struct {
	run  *Run
	work WorkFunc
}

type activeRun struct {
	cancel    context.CancelFunc
	cancelled bool
}

// RunQueue manages async run execution
type RunQueue struct {
	mu       sync.Mutex
	tasks    chan *task
	cfg      QueueConfig
	wg       sync.WaitGroup
	store    RunStore
	hub      WebSocketHub
	logger   *slog.Logger
	shutdown chan struct{}
	stopOnce sync.Once
	active   map[string]*activeRun
	// cancelling holds runs whose cancel is being written to the store
	// while no worker owns them
	cancelling map[string]struct{}
}

// NewRunQueue creates a new run queue. hub may be nil.
func NewRunQueue(cfg QueueConfig, store RunStore, hub WebSocketHub, logger *slog.Logger) *RunQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = cfg.Workers * 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RunQueue{
		tasks:    make(chan *task, cfg.Capacity),
		cfg:      cfg,
		store:    store,
		hub:      hub,
		logger:   logger.With(slog.String("component", "run_queue")),
		shutdown: make(chan struct{}),
		active:   make(map[string]*activeRun),

		cancelling: make(map[string]struct{}),
	}
}

// Start begins processing runs
func (q *RunQueue) Start(ctx context.Context) {
	q.logger.Info("starting run queue",
		slog.Int("workers", q.cfg.Workers),
		slog.Int("capacity", q.cfg.Capacity))

	q.recoverRuns(ctx)

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Stop signals the workers and waits up to timeout for them to finish
func (q *RunQueue) Stop(timeout time.Duration) error {
	q.logger.Info("stopping run queue")
	q.stopOnce.Do(func() { close(q.shutdown) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("run queue stopped gracefully")
		return nil
	case <-time.After(timeout):
		q.logger.Warn("run queue stop timeout exceeded")
		return fmt.Errorf("timeout waiting for workers to finish")
	}
}

// Enqueue stores run as pending and schedules work for it
func (q *RunQueue) Enqueue(ctx context.Context, run *Run, work WorkFunc) error {
	run.Status = RunStatusPending
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.TraceID == "" {
		run.TraceID = infrastructure.GetTraceID(ctx)
	}

	if err := q.store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	// The worker owns its own copy from here on.
	queued := run.Clone()
	select {
	case q.tasks <- &task{run: queued, work: work}:
		q.logger.InfoContext(ctx, "run enqueued",
			slog.String("run_id", run.ID),
			slog.Int("site_id", run.SiteID))
		q.broadcast(EventRunQueued, run, "")
		return nil
	default:
		now := time.Now().UTC()
		run.Status = RunStatusFailed
		run.Error = ErrQueueFull.Error()
		run.CompletedAt = &now
		if err := q.store.UpdateRun(ctx, run); err != nil {
			q.logger.ErrorContext(ctx, "failed to record rejected run", slog.String("error", err.Error()))
		}
		return ErrQueueFull
	}
}

// GetRun retrieves a run by ID
func (q *RunQueue) GetRun(ctx context.Context, id string) (*Run, error) {
	return q.store.GetRun(ctx, id)
}

// ListRuns returns runs matching the filter
func (q *RunQueue) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	return q.store.ListRuns(ctx, filter)
}

// CancelRun cancels a pending or running run
func (q *RunQueue) CancelRun(ctx context.Context, id string) error {
	q.mu.Lock()
	if a, ok := q.active[id]; ok {
		a.cancelled = true
		a.cancel()
		q.mu.Unlock()
		return nil
	}
	// A worker that picks the run up from here on sees the mark and skips it.
	q.cancelling[id] = struct{}{}
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.cancelling, id)
		q.mu.Unlock()
	}()

	run, err := q.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.Status != RunStatusPending {
		return apperrors.NewAppValidationError(
			fmt.Sprintf("run %s cannot be cancelled (status: %s)", id, run.Status))
	}

	now := time.Now().UTC()
	run.Status = RunStatusCancelled
	run.Message = "Run cancelled before start"
	run.CompletedAt = &now
	if err := q.store.UpdateRun(ctx, run); err != nil {
		return err
	}
	q.broadcast(EventRunCancelled, run, "")
	return nil
}

// Cleanup deletes terminal runs older than olderThan
func (q *RunQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := q.store.CleanupOldRuns(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.InfoContext(ctx, "old runs removed", slog.Int("count", n))
	}
	return n, nil
}

// worker processes runs from the queue
func (q *RunQueue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()

	logger := q.logger.With(slog.Int("worker_id", workerID))
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-q.shutdown:
			logger.Debug("worker stopped by shutdown")
			return
		case t := <-q.tasks:
			q.processRun(ctx, t, logger)
		}
	}
}

// processRun executes a single run
func (q *RunQueue) processRun(parent context.Context, t *task, logger *slog.Logger) {
	run := t.run
	ctx := parent
	if run.TraceID != "" {
		ctx = infrastructure.WithTraceID(ctx, run.TraceID)
	}
	logger = logger.With(slog.String("run_id", run.ID))

	if q.cfg.RunTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, q.cfg.RunTimeout)
		defer cancelTimeout()
	}
	ctx, cancel := context.WithCancel(ctx)
	entry := &activeRun{cancel: cancel}

	// Registering first means a CancelRun from here on goes through entry;
	// one that started earlier either left its mark or already wrote the
	// cancelled status read below.
	q.mu.Lock()
	_, marked := q.cancelling[run.ID]
	if !marked {
		q.active[run.ID] = entry
	}
	q.mu.Unlock()
	if marked {
		cancel()
		logger.InfoContext(ctx, "skipping cancelled run")
		return
	}

	release := func() {
		q.mu.Lock()
		delete(q.active, run.ID)
		q.mu.Unlock()
		cancel()
	}
	if stored, err := q.store.GetRun(ctx, run.ID); err == nil && stored.Status == RunStatusCancelled {
		release()
		logger.InfoContext(ctx, "skipping cancelled run")
		return
	}
	q.mu.Lock()
	cancelledEarly := entry.cancelled
	q.mu.Unlock()
	if cancelledEarly {
		release()
		q.markCancelled(parent, run, logger)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "run panicked", slog.Any("panic", r))
			q.handleRunError(ctx, run, fmt.Errorf("run panicked: %v", r), logger)
		}
		release()
	}()

	now := time.Now().UTC()
	run.Status = RunStatusRunning
	run.StartedAt = &now
	run.Progress = 0
	run.Message = "Run started"
	if err := q.store.UpdateRun(ctx, run); err != nil {
		logger.ErrorContext(ctx, "failed to update run status", slog.String("error", err.Error()))
	}
	q.broadcast(EventRunStarted, run, "")
	logger.InfoContext(ctx, "processing run started")

	var progressMu sync.Mutex
	progress := func(ev hazard.ProgressEvent) {
		progressMu.Lock()
		defer progressMu.Unlock()

		if ev.Total > 0 {
			// The last few percent are left for export.
			run.Progress = ev.Completed * 90 / ev.Total
		}
		run.Message = fmt.Sprintf("Convolved %s (%d/%d)", ev.Measure.Name, ev.Completed, ev.Total)
		if err := q.store.UpdateRun(ctx, run); err != nil {
			logger.WarnContext(ctx, "failed to record progress", slog.String("error", err.Error()))
		}
		q.broadcastEvent(EventRunProgress, RunEvent{
			RunID:     run.ID,
			Status:    run.Status,
			Progress:  run.Progress,
			Measure:   ev.Measure.Name,
			Completed: ev.Completed,
			Total:     ev.Total,
			Message:   run.Message,
		})
	}

	if err := t.work(ctx, run, progress); err != nil {
		q.mu.Lock()
		cancelled := entry.cancelled
		q.mu.Unlock()
		if cancelled && errors.Is(err, context.Canceled) {
			q.markCancelled(parent, run, logger)
			return
		}
		q.handleRunError(ctx, run, err, logger)
		return
	}

	completedAt := time.Now().UTC()
	run.Status = RunStatusCompleted
	run.Progress = 100
	run.Message = "Run completed successfully"
	run.CompletedAt = &completedAt
	if run.Models == nil {
		run.Models = SummarizeModels(run.Result)
	}

	// ctx may already be past its deadline; the final state must still land.
	if err := q.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		logger.ErrorContext(ctx, "failed to update run completion", slog.String("error", err.Error()))
	}
	q.broadcast(EventRunCompleted, run, "")

	logger.InfoContext(ctx, "processing run completed",
		slog.Duration("duration", run.Duration()),
		slog.Int("artifacts", len(run.Artifacts)))
}

func (q *RunQueue) markCancelled(ctx context.Context, run *Run, logger *slog.Logger) {
	now := time.Now().UTC()
	run.Status = RunStatusCancelled
	run.Message = "Run cancelled"
	run.CompletedAt = &now
	if err := q.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		logger.ErrorContext(ctx, "failed to update cancelled run", slog.String("error", err.Error()))
	}
	q.broadcast(EventRunCancelled, run, "")
	logger.InfoContext(ctx, "run cancelled")
}

// handleRunError records a failed run, keeping the error kind and the
// offending measure when the error carries them
func (q *RunQueue) handleRunError(ctx context.Context, run *Run, err error, logger *slog.Logger) {
	logger.ErrorContext(ctx, "run failed", slog.String("error", err.Error()))

	run.Status = RunStatusFailed
	run.Error = err.Error()
	run.Message = "Run failed"
	completedAt := time.Now().UTC()
	run.CompletedAt = &completedAt

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		run.ErrorCode = string(appErr.Type)
		if appErr.Measure != apperrors.NoMeasure {
			m := appErr.Measure
			run.FailedMeasure = &m
		}
	} else if errors.Is(err, context.DeadlineExceeded) {
		run.ErrorCode = "TIMEOUT"
	}

	if err := q.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		logger.ErrorContext(ctx, "failed to update run error", slog.String("error", err.Error()))
	}
	q.broadcast(EventRunFailed, run, run.Error)
}

// recoverRuns fails runs left pending or running by a previous process.
// Their inputs were never persisted, so they cannot be resumed.
func (q *RunQueue) recoverRuns(ctx context.Context) {
	for _, status := range []RunStatus{RunStatusRunning, RunStatusPending} {
		runs, err := q.store.ListRuns(ctx, RunFilter{Status: status})
		if err != nil {
			q.logger.Error("failed to list stale runs",
				slog.String("status", string(status)),
				slog.String("error", err.Error()))
			continue
		}
		for _, run := range runs {
			now := time.Now().UTC()
			run.Status = RunStatusFailed
			run.Error = "run interrupted by restart"
			run.CompletedAt = &now
			if err := q.store.UpdateRun(ctx, run); err != nil {
				q.logger.Error("failed to mark stale run", slog.String("run_id", run.ID), slog.String("error", err.Error()))
				continue
			}
			q.logger.Warn("stale run marked failed", slog.String("run_id", run.ID))
		}
	}
}

func (q *RunQueue) broadcast(eventType string, run *Run, errMsg string) {
	q.broadcastEvent(eventType, RunEvent{
		RunID:    run.ID,
		Status:   run.Status,
		Progress: run.Progress,
		Message:  run.Message,
		Error:    errMsg,
	})
}

func (q *RunQueue) broadcastEvent(eventType string, ev RunEvent) {
	if q.hub == nil {
		return
	}
	q.hub.BroadcastUpdate(eventType, ev.Measure, string(ev.Status), ev)
}

// GetQueueStats returns queue statistics
func (q *RunQueue) GetQueueStats() map[string]interface{} {
	q.mu.Lock()
	activeCount := len(q.active)
	q.mu.Unlock()

	return map[string]interface{}{
		"workers":     q.cfg.Workers,
		"queue_size":  len(q.tasks),
		"queue_cap":   cap(q.tasks),
		"active_runs": activeCount,
	}
}
