package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitehazard/internal/config"
	apierrors "sitehazard/internal/errors"
	"sitehazard/internal/hazard"
	"sitehazard/internal/operations"
	"sitehazard/internal/services"
	api "sitehazard/pkg/contracts/api/v1"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRouter(t *testing.T) chi.Router {
	t.Helper()
	logger := quietLogger()
	queue := operations.NewRunQueue(operations.QueueConfig{Workers: 1, Capacity: 4},
		operations.NewMemoryRunStore(), nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	queue.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = queue.Stop(5 * time.Second)
	})

	svc := services.NewConvolutionService(queue, hazard.EngineConfig{MaxWorkers: 2},
		config.OutputConfig{Dir: t.TempDir(), SiteCode: "BGD", Vs30Ref: 800}, logger)
	errorHandler := apierrors.NewErrorHandler(logger, false)

	r := chi.NewRouter()
	r.Mount("/runs", NewRunsHandler(svc, nil, errorHandler, logger).Routes())
	r.Mount("/models", NewModelsHandler(svc, nil, errorHandler, logger).Routes())
	return r
}

func do(t *testing.T, h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func constantRatioRequest() api.ConvolutionRequest {
	k := 1.5
	return api.ConvolutionRequest{
		SiteID: 7,
		Lon:    44.4,
		Lat:    33.3,
		Levels: []float64{0.01, 0.05, 0.1, 0.5, 1},
		Curves: []api.CurveInput{
			{Measure: "PGA", Probabilities: []float64{0.5, 0.2, 0.1, 0.01, 0.001}},
		},
		ConstantRatio: &k,
	}
}

func waitForRun(t *testing.T, h http.Handler, id string) api.RunResponse {
	t.Helper()
	var run api.RunResponse
	require.Eventually(t, func() bool {
		rec := do(t, h, http.MethodGet, "/runs/"+id, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		run = decode[api.RunResponse](t, rec)
		return operations.RunStatus(run.Status).Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return run
}

func TestSubmitRunLifecycle(t *testing.T) {
	h := newRouter(t)

	rec := do(t, h, http.MethodPost, "/runs", constantRatioRequest())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	submitted := decode[api.RunResponse](t, rec)
	assert.NotEmpty(t, submitted.ID)
	assert.Equal(t, "pending", submitted.Status)
	assert.Equal(t, 7, submitted.SiteID)
	assert.Equal(t, "/runs/"+submitted.ID, rec.Header().Get("Location"))

	run := waitForRun(t, h, submitted.ID)
	require.Equal(t, "completed", run.Status, run.Error)
	require.Len(t, run.Models, 1)
	assert.Equal(t, "constant_ratio", run.Models[0].Kind)
	assert.Empty(t, run.Curves)
	assert.NotEmpty(t, run.Artifacts)

	rec = do(t, h, http.MethodGet, "/runs/"+submitted.ID+"?curves=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	withCurves := decode[api.RunResponse](t, rec)
	require.Len(t, withCurves.Curves, 1)
	assert.Equal(t, "PGA", withCurves.Curves[0].Measure)
	assert.Len(t, withCurves.Curves[0].Surface, 5)

	rec = do(t, h, http.MethodGet, "/runs?status=completed&site_id=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[api.RunListResponse](t, rec)
	assert.Equal(t, 1, list.Count)

	rec = do(t, h, http.MethodGet, "/runs?site_id=8", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[api.RunListResponse](t, rec).Count)

	// completed runs cannot be cancelled
	rec = do(t, h, http.MethodDelete, "/runs/"+submitted.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitRunRejectsBadInput(t *testing.T) {
	h := newRouter(t)

	tests := []struct {
		name string
		body interface{}
		code string
	}{
		{"invalid json", `{"site_id": `, "INVALID_JSON"},
		{"too few levels", func() api.ConvolutionRequest {
			req := constantRatioRequest()
			req.Levels = req.Levels[:2]
			return req
		}(), "VALIDATION_FAILED"},
		{"unknown measure", func() api.ConvolutionRequest {
			req := constantRatioRequest()
			req.Curves[0].Measure = "PGV"
			return req
		}(), "VALIDATION_FAILED"},
		{"neither pairs nor ratio", func() api.ConvolutionRequest {
			req := constantRatioRequest()
			req.ConstantRatio = nil
			return req
		}(), "VALIDATION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			problem := decode[map[string]interface{}](t, rec)
			assert.Equal(t, tt.code, problem["error_code"])
		})
	}
}

func TestGetRunNotFound(t *testing.T) {
	h := newRouter(t)
	rec := do(t, h, http.MethodGet, "/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRunsValidatesQuery(t *testing.T) {
	h := newRouter(t)

	for _, target := range []string{"/runs?status=done", "/runs?limit=0", "/runs?limit=x", "/runs?site_id=-1"} {
		rec := do(t, h, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestFitModel(t *testing.T) {
	h := newRouter(t)

	rock := []float64{0.05, 0.1, 0.2, 0.4, 0.8, 1.6}
	surface := make([]float64, len(rock))
	for i, x := range rock {
		noise := 1.05
		if i%2 == 1 {
			noise = 0.95
		}
		surface[i] = x * 1.8 * math.Pow(x, -0.3) * noise
	}

	rec := do(t, h, http.MethodPost, "/models/fit", api.FitRequest{
		Measure: "SA(0.2)",
		Rock:    rock,
		Surface: surface,
		Levels:  []float64{0.1, 1},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[api.FitResponse](t, rec)
	assert.Equal(t, "SA(0.2)", resp.Measure)
	assert.Equal(t, "power_law", resp.Kind)
	assert.Equal(t, len(rock), resp.Records)
	assert.Less(t, resp.Slope, 0.0)
	require.Len(t, resp.Amplification, 2)
	assert.Greater(t, resp.Amplification[0].Median, resp.Amplification[1].Median)
}

func TestFitModelDegenerate(t *testing.T) {
	h := newRouter(t)

	rec := do(t, h, http.MethodPost, "/models/fit", api.FitRequest{
		Measure: "PGA",
		Rock:    []float64{0.1, 0.2, 0.4},
		Surface: []float64{0.2, 0.4, 0.8},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	problem := decode[map[string]interface{}](t, rec)
	assert.Equal(t, string(apierrors.ErrTypeDegenerateModel), problem["error_code"])
}

type stubService struct {
	submitErr error
}

func (s *stubService) Submit(context.Context, api.ConvolutionRequest) (*operations.Run, error) {
	return nil, s.submitErr
}

func (s *stubService) GetRun(context.Context, string) (*operations.Run, error) {
	return nil, apierrors.NewNotFoundError("run")
}

func (s *stubService) ListRuns(context.Context, api.RunListRequest) ([]*operations.Run, error) {
	return nil, nil
}

func (s *stubService) CancelRun(context.Context, string) error { return nil }

func (s *stubService) FitModel(context.Context, api.FitRequest) (*api.FitResponse, error) {
	return nil, nil
}

func TestSubmitRunQueueFull(t *testing.T) {
	handler := NewRunsHandler(&stubService{submitErr: operations.ErrQueueFull}, nil, nil, quietLogger())

	rec := do(t, handler.Routes(), http.MethodPost, "/", constantRatioRequest())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	problem := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "SERVICE_UNAVAILABLE", problem["error_code"])
	assert.Equal(t, apierrors.ErrServiceUnavailable.Message, problem["detail"])
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
}

func TestCancelRunAccepted(t *testing.T) {
	handler := NewRunsHandler(&stubService{}, nil, nil, quietLogger())

	for _, tc := range []struct{ method, target string }{
		{http.MethodDelete, "/abc"},
		{http.MethodPost, "/abc/cancel"},
	} {
		rec := do(t, handler.Routes(), tc.method, tc.target, nil)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "abc", decode[map[string]string](t, rec)["id"])
	}
}

type stubHealth struct{ status string }

func (s stubHealth) Check(context.Context) api.HealthResponse {
	return api.HealthResponse{Status: s.status, Checks: map[string]string{"store": s.status}}
}

func TestHealthHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := NewHealthHandler(stubHealth{status: services.StatusHealthy}, quietLogger())
		rec := do(t, http.HandlerFunc(h.HealthCheck), http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, services.StatusHealthy, decode[api.HealthResponse](t, rec).Status)
	})

	t.Run("degraded", func(t *testing.T) {
		h := NewHealthHandler(stubHealth{status: services.StatusDegraded}, quietLogger())
		rec := do(t, http.HandlerFunc(h.HealthCheck), http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("version", func(t *testing.T) {
		h := NewHealthHandler(stubHealth{}, quietLogger())
		rec := do(t, http.HandlerFunc(h.Version), http.MethodGet, "/version", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"version"`)
	})
}
