package http

import (
	"context"

	"sitehazard/internal/operations"
	api "sitehazard/pkg/contracts/api/v1"
)

// ConvolutionServiceInterface is the service behind the run and model
// endpoints; *services.ConvolutionService implements it.
type ConvolutionServiceInterface interface {
	Submit(ctx context.Context, req api.ConvolutionRequest) (*operations.Run, error)
	GetRun(ctx context.Context, id string) (*operations.Run, error)
	ListRuns(ctx context.Context, req api.RunListRequest) ([]*operations.Run, error)
	CancelRun(ctx context.Context, id string) error
	FitModel(ctx context.Context, req api.FitRequest) (*api.FitResponse, error)
}

// HealthChecker reports service health; *services.HealthService implements it.
type HealthChecker interface {
	Check(ctx context.Context) api.HealthResponse
}
