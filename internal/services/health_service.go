package services

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"sitehazard/pkg/contracts"
	api "sitehazard/pkg/contracts/api/v1"
)

// Health states reported by HealthService
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// DefaultCheckTimeout bounds each dependency check
const DefaultCheckTimeout = 2 * time.Second

// Pinger is a dependency that can report reachability, e.g. the Postgres
// run store or the artifact bucket.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStatsProvider exposes queue counters; *operations.RunQueue implements it
type QueueStatsProvider interface {
	GetQueueStats() map[string]interface{}
}

// HealthService aggregates dependency checks
type HealthService struct {
	checks    map[string]Pinger
	queue     QueueStatsProvider
	timeout   time.Duration
	startTime time.Time
	logger    *slog.Logger
}

// NewHealthService creates a health service. checks and queue may be empty.
func NewHealthService(checks map[string]Pinger, queue QueueStatsProvider, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		checks:    checks,
		queue:     queue,
		timeout:   DefaultCheckTimeout,
		startTime: time.Now(),
		logger:    logger.With(slog.String("component", "health_service")),
	}
}

// Check pings every dependency. Any failure degrades the overall status.
func (h *HealthService) Check(ctx context.Context) api.HealthResponse {
	resp := api.HealthResponse{
		Status:        StatusHealthy,
		Version:       contracts.Version,
		UptimeSeconds: h.Uptime().Seconds(),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 0 {
		resp.Checks = make(map[string]string, len(names))
	}
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.checks[name].Ping(checkCtx)
		cancel()

		if err != nil {
			resp.Status = StatusDegraded
			resp.Checks[name] = err.Error()
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()))
			continue
		}
		resp.Checks[name] = "ok"
	}

	if h.queue != nil {
		resp.Queue = make(map[string]int)
		for k, v := range h.queue.GetQueueStats() {
			if n, ok := v.(int); ok {
				resp.Queue[k] = n
			}
		}
	}
	return resp
}

// Uptime returns the time since the service was created
func (h *HealthService) Uptime() time.Duration {
	return time.Since(h.startTime)
}
