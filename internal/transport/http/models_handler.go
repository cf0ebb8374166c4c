package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "sitehazard/internal/errors"
	"sitehazard/internal/middleware"
	api "sitehazard/pkg/contracts/api/v1"
)

// ModelsHandler exposes amplification model fitting without a full run
type ModelsHandler struct {
	service      ConvolutionServiceInterface
	validation   *middleware.ValidationMiddleware
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewModelsHandler creates a new models handler
func NewModelsHandler(service ConvolutionServiceInterface, validation *middleware.ValidationMiddleware, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *ModelsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}
	if validation == nil {
		validation = middleware.NewValidationMiddleware(logger, errorHandler)
	}
	return &ModelsHandler{
		service:      service,
		validation:   validation,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "models")),
	}
}

// Routes returns a chi router for model endpoints
func (h *ModelsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(h.validation.ValidateRequest).Post("/fit", h.Fit)
	return r
}

// Fit handles POST /api/v1/models/fit
func (h *ModelsHandler) Fit(w http.ResponseWriter, r *http.Request) {
	var req api.FitRequest
	if err := h.validation.DecodeAndValidate(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp, err := h.service.FitModel(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}
