package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"sitehazard/internal/config"
	apierrors "sitehazard/internal/errors"
	"sitehazard/internal/hazard"
	"sitehazard/internal/infrastructure"
	customMiddleware "sitehazard/internal/middleware"
	"sitehazard/internal/objectstore"
	"sitehazard/internal/operations"
	"sitehazard/internal/services"
	handlers "sitehazard/internal/transport/http"
	ws "sitehazard/internal/websocket"
	"sitehazard/pkg/contracts"
)

const AppName = "sitehazard"

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.HazardMetrics
	ErrorHandler  *apierrors.ErrorHandler

	WebSocketHub *ws.Hub
	RunStore     operations.RunStore
	RunQueue     *operations.RunQueue
	Artifacts    *objectstore.ArtifactStore

	ConvolutionService *services.ConvolutionService
	HealthService      *services.HealthService

	closers []func()
}

// NewApplication loads configuration and the logger, then builds the application
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", contracts.GetVersionString()))

	return New(context.Background(), cfg, logger)
}

// New wires every component from cfg. Nothing is started until Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	metrics, err := infrastructure.CreateHazardMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		Metrics:       metrics,
		ErrorHandler:  apierrors.NewErrorHandler(logger, false),
	}

	if err := app.initializeServices(ctx); err != nil {
		app.close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds storage, the run queue and the services on top
func (a *Application) initializeServices(ctx context.Context) error {
	checks := make(map[string]services.Pinger)

	a.WebSocketHub = ws.NewHub(a.Logger)

	if a.Config.Database.URL != "" {
		pg, err := operations.NewPostgresRunStore(ctx, a.Config.Database)
		if err != nil {
			return fmt.Errorf("failed to connect run store: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare run store schema: %w", err)
		}
		a.RunStore = pg
		checks["database"] = pg
		a.Logger.Info("Using PostgreSQL run store")
	} else {
		a.RunStore = operations.NewMemoryRunStore()
		a.Logger.Info("Using in-memory run store")
	}

	opts := []services.ServiceOption{
		services.WithMetrics(a.Metrics),
		services.WithTracer(a.OTelProviders.Tracer),
	}

	if a.Config.Storage.Enabled {
		artifacts, err := objectstore.New(a.Config.Storage, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create artifact store: %w", err)
		}
		if err := artifacts.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to prepare artifact bucket: %w", err)
		}
		a.Artifacts = artifacts
		checks["object_store"] = artifacts
		opts = append(opts, services.WithUploader(artifacts))
	}

	a.RunQueue = operations.NewRunQueue(operations.QueueConfig{
		Workers:    a.Config.Engine.QueueWorkers,
		Capacity:   a.Config.Engine.QueueCapacity,
		RunTimeout: a.Config.Engine.RunTimeout,
	}, a.RunStore, a.WebSocketHub, a.Logger)

	a.ConvolutionService = services.NewConvolutionService(a.RunQueue, hazard.EngineConfig{
		MaxWorkers:     a.Config.Engine.MaxWorkers,
		SlopeTolerance: a.Config.Engine.SlopeTolerance,
		Timeout:        a.Config.Engine.RunTimeout,
	}, a.Config.Output, a.Logger, opts...)

	a.HealthService = services.NewHealthService(checks, a.RunQueue, a.Logger)
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()
	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	// These do not wrap the ResponseWriter, so the websocket upgrade survives them.
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	r.With(customMiddleware.WebSocketTraceMiddleware(a.Logger)).
		Handle("/ws", ws.NewHandler(a.WebSocketHub, a.Config.Server.AllowedOrigins, a.Logger))

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.NewOTelMiddleware(a.OTelProviders, a.Metrics).Handler)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.CORS(a.getCORSConfig()))

		if rl := a.Config.Server.RateLimit; rl.Enabled {
			r.Use(customMiddleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger).Handler)
		}

		a.setupAPIRoutes(r)
	})

	// Outside the group so scrapes are not rate limited or traced
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(customMiddleware.Timeout(a.Config.Server.WriteTimeout))

		healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/health/live", healthHandler.LivenessCheck)
		r.Get("/version", healthHandler.Version)

		validation := customMiddleware.NewValidationMiddleware(a.Logger, a.ErrorHandler).
			WithMaxBodySize(a.Config.Server.MaxBodyBytes)

		r.Mount("/runs", handlers.NewRunsHandler(a.ConvolutionService, validation, a.ErrorHandler, a.Logger).Routes())
		r.Mount("/models", handlers.NewModelsHandler(a.ConvolutionService, validation, a.ErrorHandler, a.Logger).Routes())
	})
}

func (a *Application) getCORSConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"X-Request-ID",
			"X-Requested-With",
		},
		ExposedHeaders: []string{"X-Request-ID", "Location"},
		MaxAge:         300,
		Logger:         a.Logger,
	}
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// startBackground starts the hub, the run queue and the retention sweep
func (a *Application) startBackground(ctx context.Context) {
	a.WebSocketHub.Start()
	a.RunQueue.Start(ctx)

	if interval := cleanupInterval(a.Config.Engine.RunRetention); interval > 0 {
		go a.cleanupLoop(ctx, interval)
	}
}

// cleanupInterval sweeps four times per retention period, clamped to [1m, 1h]
func cleanupInterval(retention time.Duration) time.Duration {
	if retention <= 0 {
		return 0
	}
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > time.Hour {
		interval = time.Hour
	}
	return interval
}

func (a *Application) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.RunQueue.Cleanup(ctx, a.Config.Engine.RunRetention); err != nil {
				a.Logger.ErrorContext(ctx, "Run cleanup failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Start starts background workers and the HTTP server. A listener failure
// calls cancel so Run can shut down.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	a.startBackground(ctx)

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", a.Server.Addr),
		slog.Bool("object_storage", a.Artifacts != nil))
	return nil
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	a.Logger.InfoContext(ctx, "Stopping run queue")
	if err := a.RunQueue.Stop(a.Config.Server.ShutdownTimeout); err != nil {
		a.Logger.ErrorContext(ctx, "Failed to stop run queue gracefully", slog.String("error", err.Error()))
	}
	a.WebSocketHub.Stop()

	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
	}
	a.close()

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return nil
}

func (a *Application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	case <-ctx.Done():
		a.Logger.WarnContext(ctx, "Server stopped unexpectedly")
	}

	// The run context may already be cancelled; shutdown gets its own.
	return a.Stop(context.Background())
}
