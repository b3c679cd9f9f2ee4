package job

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner processes enqueued runs one at a time on a background worker.
// Sequential processing keeps the per-project status transitions simple: a
// run never observes documents mutated by another run.
type Runner struct {
	queue chan string
	g     *errgroup.Group
}

// NewRunner starts the worker goroutine and attaches it to the service.
func NewRunner(svc *Service, buffer int) *Runner {
	if buffer <= 0 {
		buffer = 64
	}
	r := &Runner{
		queue: make(chan string, buffer),
		g:     &errgroup.Group{},
	}
	r.g.Go(func() error {
		for runID := range r.queue {
			svc.ProcessRun(context.Background(), runID)
		}
		return nil
	})
	svc.SetEnqueuer(r.Enqueue)
	return r
}

// Enqueue hands a run to the worker. Blocks when the queue is full.
func (r *Runner) Enqueue(runID string) {
	zap.L().Info("run enqueued", zap.String("run_id", runID))
	r.queue <- runID
}

// Close stops accepting runs and waits for the worker to drain the queue.
func (r *Runner) Close() {
	close(r.queue)
	_ = r.g.Wait()
}
