package services

import (
	"sitehazard/internal/hazard"
	"sitehazard/internal/operations"
	api "sitehazard/pkg/contracts/api/v1"
)

// ToRunResponse maps a run to its API view. Curves are included only when
// asked for and the run has a result.
func ToRunResponse(run *operations.Run, includeCurves bool) api.RunResponse {
	resp := api.RunResponse{
		ID:            run.ID,
		Status:        string(run.Status),
		SiteID:        run.SiteID,
		Measures:      run.Measures,
		Progress:      run.Progress,
		Message:       run.Message,
		Error:         run.Error,
		ErrorCode:     run.ErrorCode,
		FailedMeasure: run.FailedMeasure,
		TraceID:       run.TraceID,
		CreatedAt:     run.CreatedAt,
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
		DurationMS:    run.Duration().Milliseconds(),
		Artifacts:     run.Artifacts,
	}

	for _, m := range run.Models {
		resp.Models = append(resp.Models, api.ModelResponse{
			Measure:    m.Measure,
			Frequency:  frequencyOf(m.Measure),
			Kind:       m.Kind,
			Slope:      m.Slope,
			Intercept:  m.Intercept,
			Dispersion: m.Dispersion,
			Records:    m.Records,
		})
	}

	if includeCurves && run.Result != nil {
		for _, rec := range run.Result.Records {
			resp.Curves = append(resp.Curves, api.CurveResult{
				Measure: rec.Measure.Name,
				Levels:  rec.Rock.Levels,
				Rock:    rec.Rock.Probabilities,
				Density: rec.Density,
				Surface: rec.Surface.Probabilities,
			})
		}
	}
	return resp
}

// ToRunListResponse maps a page of runs without curves
func ToRunListResponse(runs []*operations.Run) api.RunListResponse {
	out := api.RunListResponse{Runs: make([]api.RunResponse, 0, len(runs)), Count: len(runs)}
	for _, run := range runs {
		out.Runs = append(out.Runs, ToRunResponse(run, false))
	}
	return out
}

func frequencyOf(name string) float64 {
	m, err := hazard.ParseMeasure(name)
	if err != nil {
		return 0
	}
	return m.Frequency()
}
