// Package services holds the business logic between the HTTP handlers and
// the convolution engine.
//
// ConvolutionService turns API requests into hazard inputs, schedules them
// on the run queue and, inside the queued work, runs the engine, exports
// the artifacts into a per-run directory and optionally uploads them.
// HealthService aggregates dependency checks for the health endpoint.
//
// Services take their collaborators through constructors:
//
//	queue := operations.NewRunQueue(operations.QueueConfig{Workers: 2}, store, hub, logger)
//	svc := services.NewConvolutionService(queue, engineCfg, cfg.Output, logger,
//	    services.WithMetrics(metrics),
//	    services.WithUploader(artifacts))
//	run, err := svc.Submit(ctx, req)
package services
