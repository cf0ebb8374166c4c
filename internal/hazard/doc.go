// Package hazard implements the site-effects convolution of Bazzurro & Cornell (2004),
// "Convolution: AF(f) dependent on Sra(f)".
//
// A rock-outcrop hazard curve is turned into a ground-surface hazard curve by
// combining it with a probabilistic amplification model fitted from paired
// rock/surface spectral values produced by site-response simulations.
//
// # Pipeline
//
// For every intensity measure the computation runs four steps:
//
//  1. FitAmplificationModel: ordinary least squares on (ln x, ln y) of the
//     rock and surface spectral values gives ln AF = ln b + c·ln x and a
//     dispersion σ derived from the residual spread.
//  2. ExceedanceMatrix: the conditional probability G[m][j] that the surface
//     motion exceeds level m given rock level j.
//  3. DensityProxy: |dp/dL| of the rock curve on its non-uniform level grid.
//  4. Convolve: newProb[m] = Σ_j (1 − G[m][j])·d[j]·ΔIM[j].
//
// The density proxy is not normalized. It is the absolute derivative of the
// exceedance curve sampled on the level grid, so the convolved curve carries
// the truncation of the rock curve at both ends of the grid.
//
// # Architecture
//
//   - types.go: measures, curves, models and per-measure records
//   - fit.go: amplification model regression
//   - exceedance.go: ExceedanceModel and the conditional exceedance matrix
//   - differentiate.go: density proxy
//   - convolve.go: integration weights and the convolution sum
//   - interpolate.go: off-grid evaluation of a hazard curve
//   - validate.go: shared checks on level grids and curves
//   - engine.go: concurrent orchestration across intensity measures
//
// All functions are pure and return freshly allocated slices. Errors are
// *errors.AppError values from internal/errors carrying the offending
// measure index when one applies.
//
// # Usage Example
//
//	engine := hazard.NewEngine(hazard.EngineConfig{MaxWorkers: 4}, logger)
//	result, err := engine.Run(ctx, site, pairs)
//	if err != nil {
//	    return err
//	}
//	for _, rec := range result.Records {
//	    fmt.Println(rec.Measure, rec.Surface.Probabilities)
//	}
package hazard
