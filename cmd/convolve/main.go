// Command convolve runs one site-response convolution from files on disk:
// OpenQuake rock hazard curves plus rock and surface spectra tables. It
// writes the surface curves, the amplification table and the model summary
// to the output directory, and optionally uploads them and archives the run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sitehazard/internal/config"
	"sitehazard/internal/dataprocessing"
	apperrors "sitehazard/internal/errors"
	"sitehazard/internal/exporter"
	"sitehazard/internal/hazard"
	"sitehazard/internal/infrastructure"
	"sitehazard/internal/objectstore"
	"sitehazard/internal/operations"
	"sitehazard/internal/validation"
	"sitehazard/pkg/contracts"
)

// options are the command-line overrides applied on top of the loaded config
type options struct {
	HazardDir      string
	SiteID         int
	RockSpectra    string
	SurfaceSpectra string
	OutDir         string
	SiteCode       string
	ConstantRatio  float64
	Upload         bool
	Archive        bool
}

func main() {
	var opts options
	configFile := flag.String("config", "", "YAML config file (overrides SITEHAZARD_CONFIG_FILE)")
	flag.StringVar(&opts.HazardDir, "hazard-dir", "", "directory of OpenQuake hazard curve CSVs")
	flag.IntVar(&opts.SiteID, "site", -1, "site row index in the hazard curve files")
	flag.StringVar(&opts.RockSpectra, "rock", "", "rock spectra table (.csv or .xlsx)")
	flag.StringVar(&opts.SurfaceSpectra, "surface", "", "surface spectra table (.csv or .xlsx)")
	flag.StringVar(&opts.OutDir, "out", "", "output directory")
	flag.StringVar(&opts.SiteCode, "site-code", "", "amplification site code")
	flag.Float64Var(&opts.ConstantRatio, "ratio", 0, "use a constant surface/rock ratio instead of fitting spectra")
	flag.BoolVar(&opts.Upload, "upload", false, "upload artifacts to object storage")
	flag.BoolVar(&opts.Archive, "archive", false, "archive the run in PostgreSQL")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(contracts.GetFullVersionString())
		return
	}
	if err := opts.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "convolve: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	if *configFile != "" {
		os.Setenv(config.EnvPrefix+"_CONFIG_FILE", *configFile)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Warn("Failed to initialize logger, using default", slog.String("error", err.Error()))
		logger = slog.Default()
	}
	defer infrastructure.CloseLogFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error("Convolution failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// validate rejects flag values that would otherwise select the wrong mode
func (o options) validate() error {
	if o.ConstantRatio < 0 || math.IsNaN(o.ConstantRatio) || math.IsInf(o.ConstantRatio, 0) {
		return apperrors.NewAppValidationError(
			fmt.Sprintf("-ratio must be a positive number, or 0 to fit the spectra; got %g", o.ConstantRatio))
	}
	return nil
}

// apply overlays non-zero flags on cfg
func (o options) apply(cfg *config.Config) {
	if o.HazardDir != "" {
		cfg.Input.HazardDir = o.HazardDir
	}
	if o.SiteID >= 0 {
		cfg.Input.SiteID = o.SiteID
	}
	if o.RockSpectra != "" {
		cfg.Input.RockSpectra = o.RockSpectra
	}
	if o.SurfaceSpectra != "" {
		cfg.Input.SurfaceSpectra = o.SurfaceSpectra
	}
	if o.OutDir != "" {
		cfg.Output.Dir = o.OutDir
	}
	if o.SiteCode != "" {
		cfg.Output.SiteCode = o.SiteCode
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger) error {
	if err := opts.validate(); err != nil {
		return err
	}
	opts.apply(cfg)

	validator := validation.NewFileValidator(logger)
	if err := validator.ValidateInputs(cfg.Input, opts.ConstantRatio <= 0); err != nil {
		return err
	}
	if err := validator.ValidateOutputDirectory(cfg.Output.Dir); err != nil {
		return err
	}

	var (
		site  hazard.Site
		pairs []hazard.GroundMotionPair
	)
	if opts.ConstantRatio > 0 {
		s, err := dataprocessing.LoadSite(cfg.Input.HazardDir, cfg.Input.HazardPattern, cfg.Input.SiteID)
		if err != nil {
			return fmt.Errorf("load hazard curves: %w", err)
		}
		site = s
	} else {
		inputs, err := dataprocessing.LoadInputs(cfg.Input, logger)
		if err != nil {
			return err
		}
		site, pairs = inputs.Site, inputs.Pairs
	}

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer otelProviders.Shutdown(context.Background())
	metrics, err := infrastructure.CreateHazardMetrics(otelProviders.Meter)
	if err != nil {
		return err
	}

	rec := operations.NewRun(site.ID, site.Measures().Names())
	started := time.Now().UTC()
	rec.StartedAt = &started
	rec.Status = operations.RunStatusRunning

	engine := hazard.NewEngine(hazard.EngineConfig{
		MaxWorkers:     cfg.Engine.MaxWorkers,
		SlopeTolerance: cfg.Engine.SlopeTolerance,
		Timeout:        cfg.Engine.RunTimeout,
	}, logger,
		hazard.WithTracer(otelProviders.Tracer),
		hazard.WithObserver(metrics),
		hazard.WithProgress(func(ev hazard.ProgressEvent) {
			logger.InfoContext(ctx, "Measure convolved",
				slog.String("measure", ev.Measure.Name),
				slog.Int("completed", ev.Completed),
				slog.Int("total", ev.Total),
				slog.Duration("duration", ev.Duration))
		}))

	var result *hazard.Result
	if opts.ConstantRatio > 0 {
		models := make([]hazard.ExceedanceModel, len(site.Curves))
		for i := range models {
			models[i] = hazard.ConstantRatio{K: opts.ConstantRatio}
		}
		result, err = engine.RunWithModels(ctx, site, models)
	} else {
		result, err = engine.Run(ctx, site, pairs)
	}
	metrics.RecordRun(ctx, "cli", len(site.Curves), time.Since(started), err)
	if err != nil {
		return err
	}

	paths, err := exporter.NewHazardExporter(cfg.Output).ExportAll(result)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	for _, p := range paths {
		logger.InfoContext(ctx, "Artifact written", slog.String("path", p))
	}

	rec.Result = result
	rec.Models = operations.SummarizeModels(result)
	rec.Artifacts = paths

	if opts.Upload {
		uris, err := upload(ctx, cfg.Storage, rec.ID, paths, logger)
		if err != nil {
			return err
		}
		rec.Artifacts = append(rec.Artifacts, uris...)
	}

	completed := time.Now().UTC()
	rec.CompletedAt = &completed
	rec.Status = operations.RunStatusCompleted
	rec.Progress = 100

	if opts.Archive {
		if err := archive(ctx, cfg.Database, rec); err != nil {
			return err
		}
		logger.InfoContext(ctx, "Run archived", slog.String("run_id", rec.ID))
	}

	logger.InfoContext(ctx, "Convolution completed",
		slog.String("run_id", rec.ID),
		slog.Int("site_id", site.ID),
		slog.Int("measures", len(result.Records)),
		slog.Duration("duration", rec.Duration()))
	return nil
}

func upload(ctx context.Context, cfg config.StorageConfig, runID string, paths []string, logger *slog.Logger) ([]string, error) {
	store, err := objectstore.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store.UploadRun(ctx, runID, paths)
}

func archive(ctx context.Context, cfg config.DatabaseConfig, run *operations.Run) error {
	if cfg.URL == "" {
		return fmt.Errorf("archive requested but database url is not configured")
	}
	store, err := operations.NewPostgresRunStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	return store.CreateRun(ctx, run)
}
