// Package operations tracks convolution runs submitted to the service.
//
// A Run moves through pending, running and one of completed, failed or
// cancelled. RunQueue executes runs on a fixed worker pool, records every
// transition in a RunStore and announces it on a WebSocketHub.
//
// Two stores are provided:
//
//   - MemoryRunStore keeps runs in process and is used when no database is configured
//   - PostgresRunStore archives runs as JSONB documents through pgxpool
//
// Example usage:
//
//	store := operations.NewMemoryRunStore()
//	queue := operations.NewRunQueue(operations.QueueConfig{Workers: 2, Capacity: 16}, store, hub, logger)
//	queue.Start(ctx)
//	defer queue.Stop(30 * time.Second)
//
//	run := operations.NewRun(site.ID, site.Measures().Names())
//	err := queue.Enqueue(ctx, run, func(ctx context.Context, run *operations.Run, progress hazard.ProgressFunc) error {
//		...
//	})
package operations
