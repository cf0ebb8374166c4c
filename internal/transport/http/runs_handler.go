package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apierrors "sitehazard/internal/errors"
	"sitehazard/internal/middleware"
	"sitehazard/internal/operations"
	"sitehazard/internal/services"
	api "sitehazard/pkg/contracts/api/v1"
)

// DefaultListLimit caps GET /runs when no limit is given
const DefaultListLimit = 50

var runStatuses = []string{
	string(operations.RunStatusPending),
	string(operations.RunStatusRunning),
	string(operations.RunStatusCompleted),
	string(operations.RunStatusFailed),
	string(operations.RunStatusCancelled),
}

// RunsHandler handles convolution run requests
type RunsHandler struct {
	service      ConvolutionServiceInterface
	validation   *middleware.ValidationMiddleware
	query        *middleware.QueryParamValidator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewRunsHandler creates a new runs handler
func NewRunsHandler(service ConvolutionServiceInterface, validation *middleware.ValidationMiddleware, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *RunsHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}
	if validation == nil {
		validation = middleware.NewValidationMiddleware(logger, errorHandler)
	}
	return &RunsHandler{
		service:      service,
		validation:   validation,
		query:        middleware.NewQueryParamValidator(logger, errorHandler),
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "runs")),
	}
}

// Routes returns a chi router for run endpoints
func (h *RunsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(h.validation.ValidateRequest).Post("/", h.SubmitRun)
	r.Get("/", h.ListRuns)
	r.Get("/{id}", h.GetRun)
	r.Delete("/{id}", h.CancelRun)
	r.Post("/{id}/cancel", h.CancelRun)

	return r
}

// SubmitRun handles POST /api/v1/runs
func (h *RunsHandler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("runs-handler").Start(r.Context(), "runs_handler.submit",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	var req api.ConvolutionRequest
	if err := h.validation.DecodeAndValidate(r, &req); err != nil {
		span.SetAttributes(attribute.String("error.type", "request_validation"))
		h.errorHandler.HandleError(w, r, err)
		return
	}

	run, err := h.service.Submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		if errors.Is(err, operations.ErrQueueFull) {
			w.Header().Set("Retry-After", "5")
			err = apierrors.ErrServiceUnavailable
		}
		h.errorHandler.HandleError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("run.site_id", run.SiteID),
		attribute.Int("run.measures", len(run.Measures)),
	)

	w.Header().Set("Location", r.URL.Path+"/"+run.ID)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, services.ToRunResponse(run, false))
}

// ListRuns handles GET /api/v1/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	status, ok := h.query.ValidateEnum(w, r, "status", runStatuses, "")
	if !ok {
		return
	}
	limit, ok := h.query.ValidateInt(w, r, "limit", 1, 500, DefaultListLimit)
	if !ok {
		return
	}
	req := api.RunListRequest{Status: status, Limit: limit}
	if r.URL.Query().Get("site_id") != "" {
		siteID, ok := h.query.ValidateInt(w, r, "site_id", 0, 1<<31-1, 0)
		if !ok {
			return
		}
		req.SiteID = &siteID
	}

	runs, err := h.service.ListRuns(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, services.ToRunListResponse(runs))
}

// GetRun handles GET /api/v1/runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	includeCurves := r.URL.Query().Get("curves") == "true"
	render.JSON(w, r, services.ToRunResponse(run, includeCurves))
}

// CancelRun handles DELETE /api/v1/runs/{id} and POST /api/v1/runs/{id}/cancel
func (h *RunsHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.CancelRun(r.Context(), id); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "run cancellation requested",
		slog.String("run_id", id),
		slog.String("request_id", middleware.GetReqID(r.Context())))

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{
		"id":      id,
		"message": "Cancellation requested",
	})
}
