package services

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/trace"

	"sitehazard/internal/config"
	apperrors "sitehazard/internal/errors"
	"sitehazard/internal/exporter"
	"sitehazard/internal/hazard"
	"sitehazard/internal/infrastructure"
	"sitehazard/internal/operations"
	api "sitehazard/pkg/contracts/api/v1"
)

// RunManager schedules and tracks runs; *operations.RunQueue implements it
type RunManager interface {
	Enqueue(ctx context.Context, run *operations.Run, work operations.WorkFunc) error
	GetRun(ctx context.Context, id string) (*operations.Run, error)
	ListRuns(ctx context.Context, filter operations.RunFilter) ([]*operations.Run, error)
	CancelRun(ctx context.Context, id string) error
}

// ArtifactUploader copies exported files to remote storage and returns their URIs
type ArtifactUploader interface {
	UploadRun(ctx context.Context, runID string, files []string) ([]string, error)
}

// ConvolutionService builds hazard inputs from requests and runs them on the queue
type ConvolutionService struct {
	runs      RunManager
	engineCfg hazard.EngineConfig
	output    config.OutputConfig
	uploader  ArtifactUploader
	metrics   *infrastructure.HazardMetrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

// ServiceOption configures a ConvolutionService
type ServiceOption func(*ConvolutionService)

// WithUploader enables artifact upload for runs that ask for it
func WithUploader(u ArtifactUploader) ServiceOption {
	return func(s *ConvolutionService) { s.uploader = u }
}

// WithMetrics records run and measure metrics
func WithMetrics(m *infrastructure.HazardMetrics) ServiceOption {
	return func(s *ConvolutionService) { s.metrics = m }
}

// WithTracer passes a tracer to every engine the service creates
func WithTracer(t trace.Tracer) ServiceOption {
	return func(s *ConvolutionService) { s.tracer = t }
}

// NewConvolutionService creates the service. output.Dir is the parent of
// the per-run artifact directories.
func NewConvolutionService(runs RunManager, engineCfg hazard.EngineConfig, output config.OutputConfig, logger *slog.Logger, opts ...ServiceOption) *ConvolutionService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ConvolutionService{
		runs:      runs,
		engineCfg: engineCfg,
		output:    output,
		logger:    logger.With(slog.String("component", "convolution_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInputs is a request resolved into engine inputs. Exactly one of
// Pairs and Models is set.
type RunInputs struct {
	Site   hazard.Site
	Pairs  []hazard.GroundMotionPair
	Models []hazard.ExceedanceModel
	Output config.OutputConfig
	Upload bool
}

// Submit resolves the request and queues the run. The returned run is pending.
func (s *ConvolutionService) Submit(ctx context.Context, req api.ConvolutionRequest) (*operations.Run, error) {
	in, err := s.BuildInputs(req)
	if err != nil {
		return nil, err
	}
	if in.Upload && s.uploader == nil {
		return nil, apperrors.NewAppValidationError("artifact upload requested but object storage is not configured")
	}

	run := operations.NewRun(in.Site.ID, in.Site.Measures().Names())
	if err := s.runs.Enqueue(ctx, run, s.Work(in)); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Convolution run submitted",
		slog.String("run_id", run.ID),
		slog.Int("site_id", run.SiteID),
		slog.Int("measures", len(run.Measures)),
		slog.Bool("fitted", in.Pairs != nil))
	return run, nil
}

// BuildInputs converts a request into engine inputs. Measures are put in
// canonical order (PGA first, then increasing period) and every pair
// vector is permuted to match.
func (s *ConvolutionService) BuildInputs(req api.ConvolutionRequest) (*RunInputs, error) {
	hasPairs := len(req.Pairs) > 0
	hasRatio := req.ConstantRatio != nil
	if hasPairs == hasRatio {
		return nil, apperrors.NewAppValidationError("exactly one of pairs or constant_ratio must be given")
	}

	names := make([]string, len(req.Curves))
	for i, c := range req.Curves {
		names[i] = c.Measure
	}
	measures, err := hazard.NewMeasureSet(names)
	if err != nil {
		return nil, err
	}

	// order[i] is the request position of canonical measure i
	order := make([]int, len(measures))
	for i, m := range measures {
		for j, name := range names {
			if parsed, err := hazard.ParseMeasure(name); err == nil && parsed.Name == m.Name {
				order[i] = j
				break
			}
		}
	}

	site := hazard.Site{
		ID:     req.SiteID,
		Lon:    req.Lon,
		Lat:    req.Lat,
		Depth:  req.Depth,
		Levels: append([]float64(nil), req.Levels...),
		Curves: make([]hazard.HazardCurve, len(measures)),
	}
	for i, m := range measures {
		site.Curves[i] = hazard.HazardCurve{
			Measure:       m,
			Levels:        append([]float64(nil), req.Levels...),
			Probabilities: append([]float64(nil), req.Curves[order[i]].Probabilities...),
		}
	}

	in := &RunInputs{Site: site, Output: s.outputFor(req.Output)}
	if req.Output != nil && req.Output.Upload != nil {
		in.Upload = *req.Output.Upload
	}

	if hasRatio {
		in.Models = make([]hazard.ExceedanceModel, len(measures))
		for i := range in.Models {
			in.Models[i] = hazard.ConstantRatio{K: *req.ConstantRatio}
		}
		return in, nil
	}

	in.Pairs = make([]hazard.GroundMotionPair, len(req.Pairs))
	for k, p := range req.Pairs {
		if len(p.Rock) != len(measures) || len(p.Surface) != len(measures) {
			return nil, apperrors.NewMismatchedRecordsError(
				fmt.Sprintf("pair %d values vs measures", k), min(len(p.Rock), len(p.Surface)), len(measures))
		}
		pair := hazard.GroundMotionPair{
			RecordID: p.RecordID,
			Rock:     make([]float64, len(measures)),
			Surface:  make([]float64, len(measures)),
		}
		if pair.RecordID == "" {
			pair.RecordID = fmt.Sprintf("record-%d", k+1)
		}
		for i := range measures {
			pair.Rock[i] = p.Rock[order[i]]
			pair.Surface[i] = p.Surface[order[i]]
		}
		in.Pairs[k] = pair
	}
	return in, nil
}

// outputFor overlays request options on the configured output settings
func (s *ConvolutionService) outputFor(opts *api.OutputOptions) config.OutputConfig {
	out := s.output
	if opts == nil {
		return out
	}
	if opts.SiteCode != "" {
		out.SiteCode = opts.SiteCode
	}
	if opts.Vs30Ref > 0 {
		out.Vs30Ref = opts.Vs30Ref
	}
	if opts.WriteWorkbook != nil {
		out.WriteWorkbook = *opts.WriteWorkbook
	}
	return out
}

// Work returns the queued body of a run: convolve, export into
// <output dir>/<run id>, then upload when asked.
func (s *ConvolutionService) Work(in *RunInputs) operations.WorkFunc {
	return func(ctx context.Context, run *operations.Run, progress hazard.ProgressFunc) error {
		result, err := s.Convolve(ctx, in, progress)
		if err != nil {
			return err
		}
		run.Result = result
		run.Models = operations.SummarizeModels(result)

		out := in.Output
		out.Dir = filepath.Join(s.output.Dir, run.ID)
		paths, err := exporter.NewHazardExporter(out).ExportAll(result)
		if err != nil {
			return apperrors.NewStorageError("export artifacts", err)
		}
		run.Artifacts = paths

		if in.Upload && s.uploader != nil {
			uris, err := s.uploader.UploadRun(ctx, run.ID, paths)
			if err != nil {
				return err
			}
			run.Artifacts = append(run.Artifacts, uris...)
		}
		return nil
	}
}

// Convolve runs the engine on resolved inputs
func (s *ConvolutionService) Convolve(ctx context.Context, in *RunInputs, progress hazard.ProgressFunc) (*hazard.Result, error) {
	opts := []hazard.Option{hazard.WithProgress(progress), hazard.WithTracer(s.tracer)}
	if s.metrics != nil {
		opts = append(opts, hazard.WithObserver(s.metrics))
	}
	engine := hazard.NewEngine(s.engineCfg, s.logger, opts...)

	start := time.Now()
	var (
		result *hazard.Result
		err    error
	)
	if in.Models != nil {
		result, err = engine.RunWithModels(ctx, in.Site, in.Models)
	} else {
		result, err = engine.Run(ctx, in.Site, in.Pairs)
	}
	s.metrics.RecordRun(ctx, "api", len(in.Site.Curves), time.Since(start), err)
	return result, err
}

// FitModel fits the amplification model of one measure and, when levels
// are given, tabulates the median amplification over them.
func (s *ConvolutionService) FitModel(ctx context.Context, req api.FitRequest) (*api.FitResponse, error) {
	measure, err := hazard.ParseMeasure(req.Measure)
	if err != nil {
		return nil, err
	}

	tolerance := s.engineCfg.SlopeTolerance
	if tolerance <= 0 {
		tolerance = hazard.DefaultSlopeTolerance
	}
	model, err := hazard.FitAmplificationModelWithTolerance(req.Rock, req.Surface, tolerance)
	if err != nil {
		return nil, err
	}

	resp := &api.FitResponse{ModelResponse: api.ModelResponse{
		Measure:    measure.Name,
		Frequency:  measure.Frequency(),
		Kind:       "power_law",
		Slope:      model.Slope,
		Intercept:  model.Intercept,
		Dispersion: model.Dispersion,
		Records:    model.Records,
	}}

	if len(req.Levels) > 0 {
		if err := hazard.ValidateLevels(req.Levels); err != nil {
			return nil, err
		}
		rec := hazard.MeasureRecord{Measure: measure, Model: model}
		for _, level := range req.Levels {
			median, sigma := rec.AmplificationAt(level)
			resp.Amplification = append(resp.Amplification, api.AmplificationPoint{
				Level: level, Median: median, Sigma: sigma,
			})
		}
	}

	s.logger.DebugContext(ctx, "Amplification model fitted",
		slog.String("measure", measure.Name),
		slog.Float64("slope", model.Slope),
		slog.Int("records", model.Records))
	return resp, nil
}

// GetRun returns a run by ID
func (s *ConvolutionService) GetRun(ctx context.Context, id string) (*operations.Run, error) {
	return s.runs.GetRun(ctx, id)
}

// ListRuns returns runs newest first
func (s *ConvolutionService) ListRuns(ctx context.Context, req api.RunListRequest) ([]*operations.Run, error) {
	status, err := operations.ParseRunStatus(req.Status)
	if err != nil {
		return nil, err
	}
	return s.runs.ListRuns(ctx, operations.RunFilter{Status: status, SiteID: req.SiteID, Limit: req.Limit})
}

// CancelRun cancels a pending or running run
func (s *ConvolutionService) CancelRun(ctx context.Context, id string) error {
	return s.runs.CancelRun(ctx, id)
}
