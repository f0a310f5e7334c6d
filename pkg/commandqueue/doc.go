// Package commandqueue runs tasks in named lanes with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane start in enqueue order, at most Concurrency at a time.
// - Tasks in different lanes may execute concurrently.
// - Queue activity is observable through enqueued/completed events and metrics.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.Config{Logger: logger})
//	defer queue.Close()
//	result, err := queue.Enqueue(ctx, commandqueue.SessionLane(id), func(ctx context.Context) (interface{}, error) {
//		return controller.Run(ctx, id, text)
//	}, nil)
package commandqueue
