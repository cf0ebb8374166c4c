package hazard

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	apperrors "sitehazard/internal/errors"
)

// DefaultMaxWorkers bounds measure parallelism when none is configured
const DefaultMaxWorkers = 4

// EngineConfig controls a convolution run
type EngineConfig struct {
	MaxWorkers     int
	SlopeTolerance float64
	Timeout        time.Duration
}

// MeasureObserver receives per-measure timings, e.g. *infrastructure.HazardMetrics
type MeasureObserver interface {
	RecordMeasure(ctx context.Context, measure string, duration time.Duration, err error)
}

// ProgressEvent reports one finished measure
type ProgressEvent struct {
	Index     int              `json:"index"`
	Measure   IntensityMeasure `json:"measure"`
	Completed int              `json:"completed"`
	Total     int              `json:"total"`
	Duration  time.Duration    `json:"duration"`
}

// ProgressFunc is called from worker goroutines and must be safe for concurrent use
type ProgressFunc func(ProgressEvent)

// Engine runs the per-measure pipeline across a bounded worker pool
type Engine struct {
	cfg      EngineConfig
	logger   *slog.Logger
	tracer   trace.Tracer
	observer MeasureObserver
	progress ProgressFunc
}

// Option customizes an Engine
type Option func(*Engine)

// WithTracer sets the tracer used for run and measure spans
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithObserver sets the measure observer
func WithObserver(o MeasureObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// WithProgress sets the progress callback
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) { e.progress = fn }
}

// NewEngine creates an engine. Zero config values take defaults.
func NewEngine(cfg EngineConfig, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.SlopeTolerance <= 0 {
		cfg.SlopeTolerance = DefaultSlopeTolerance
	}

	e := &Engine{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "hazard_engine")),
		tracer: noop.NewTracerProvider().Tracer("sitehazard/hazard"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run fits one amplification model per measure from pairs and convolves
// every curve of the site. Pair vectors are indexed like site.Measures().
func (e *Engine) Run(ctx context.Context, site Site, pairs []GroundMotionPair) (*Result, error) {
	if err := site.Validate(); err != nil {
		return nil, err
	}
	if err := ValidatePairs(pairs, len(site.Curves)); err != nil {
		return nil, err
	}

	return e.run(ctx, site, func(i int) (ExceedanceModel, error) {
		rock, surface := column(pairs, i)
		model, err := FitAmplificationModelWithTolerance(rock, surface, e.cfg.SlopeTolerance)
		if err != nil {
			return nil, err
		}
		e.logger.DebugContext(ctx, "amplification model fitted",
			slog.String("measure", site.Curves[i].Measure.Name),
			slog.Float64("slope", model.Slope),
			slog.Float64("intercept", model.Intercept),
			slog.Float64("dispersion", model.Dispersion),
			slog.Int("records", model.Records))
		return model, nil
	})
}

// RunWithModels convolves every curve of the site with the given models,
// one per measure.
func (e *Engine) RunWithModels(ctx context.Context, site Site, models []ExceedanceModel) (*Result, error) {
	if err := site.Validate(); err != nil {
		return nil, err
	}
	if len(models) != len(site.Curves) {
		return nil, apperrors.NewMismatchedRecordsError("models and measures", len(models), len(site.Curves))
	}

	return e.run(ctx, site, func(i int) (ExceedanceModel, error) {
		if models[i] == nil {
			return nil, apperrors.NewAppValidationError("missing exceedance model")
		}
		return models[i], nil
	})
}

func (e *Engine) run(ctx context.Context, site Site, modelFor func(int) (ExceedanceModel, error)) (*Result, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	ctx, span := e.tracer.Start(ctx, "hazard.run", trace.WithAttributes(
		attribute.Int("site.id", site.ID),
		attribute.Int("measures", len(site.Curves)),
		attribute.Int("levels", len(site.Levels)),
	))
	defer span.End()

	start := time.Now()
	total := len(site.Curves)
	e.logger.InfoContext(ctx, "starting convolution run",
		slog.Int("site_id", site.ID),
		slog.Int("measures", total),
		slog.Int("levels", len(site.Levels)),
		slog.Int("workers", e.cfg.MaxWorkers))

	records := make([]MeasureRecord, total)
	var completed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxWorkers)

	for i := range site.Curves {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			measureStart := time.Now()
			rec, err := e.runMeasure(gctx, i, site.Curves[i], modelFor)
			elapsed := time.Since(measureStart)
			if e.observer != nil {
				e.observer.RecordMeasure(gctx, site.Curves[i].Measure.Name, elapsed, err)
			}
			if err != nil {
				return withMeasure(err, i)
			}
			records[i] = rec

			done := int(completed.Add(1))
			if e.progress != nil {
				e.progress(ProgressEvent{
					Index:     i,
					Measure:   rec.Measure,
					Completed: done,
					Total:     total,
					Duration:  elapsed,
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.ErrorContext(ctx, "convolution run failed",
			slog.Int("site_id", site.ID),
			slog.String("error", err.Error()))
		return nil, err
	}

	e.logger.InfoContext(ctx, "convolution run completed",
		slog.Int("site_id", site.ID),
		slog.Int("measures", total),
		slog.Duration("duration", time.Since(start)))

	return &Result{
		SiteID:  site.ID,
		Lon:     site.Lon,
		Lat:     site.Lat,
		Depth:   site.Depth,
		Levels:  append([]float64(nil), site.Levels...),
		Records: records,
	}, nil
}

func (e *Engine) runMeasure(ctx context.Context, i int, rock HazardCurve, modelFor func(int) (ExceedanceModel, error)) (MeasureRecord, error) {
	_, span := e.tracer.Start(ctx, "hazard.measure", trace.WithAttributes(
		attribute.Int("measure.index", i),
		attribute.String("measure.name", rock.Measure.Name),
	))
	defer span.End()

	model, err := modelFor(i)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return MeasureRecord{}, err
	}

	density, surface, err := ConvolveCurve(model, rock)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return MeasureRecord{}, fmt.Errorf("%s: %w", rock.Measure.Name, err)
	}

	return MeasureRecord{
		Index:   i,
		Measure: rock.Measure,
		Model:   model,
		Rock: HazardCurve{
			Measure:       rock.Measure,
			Levels:        append([]float64(nil), rock.Levels...),
			Probabilities: append([]float64(nil), rock.Probabilities...),
		},
		Density: density,
		Surface: HazardCurve{
			Measure:       rock.Measure,
			Levels:        append([]float64(nil), rock.Levels...),
			Probabilities: surface,
		},
	}, nil
}
