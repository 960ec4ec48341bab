package eventbus

import (
	"context"

	"github.com/chris-alexander-pop/eventbus/pkg/concurrency"
	"github.com/chris-alexander-pop/eventbus/pkg/logger"
)

// HandlerPool runs offloaded handlers on a bounded pool of goroutines
// instead of the transport's delivery goroutine, per spec.md §5: "Handlers
// run on transport threads by default; long-running handlers should hand
// off to their own worker pool." It wraps pkg/concurrency.WorkerPool,
// the teacher's general-purpose goroutine pool.
type HandlerPool struct {
	pool *concurrency.WorkerPool
}

// NewHandlerPool starts a pool of workers bounded goroutines deep with a
// task backlog of queueSize. Call Close when the pool is no longer needed;
// outstanding work finishes before Close returns.
func NewHandlerPool(ctx context.Context, workers, queueSize int) *HandlerPool {
	pool := concurrency.NewWorkerPool(workers, queueSize)
	pool.Start(ctx)
	return &HandlerPool{pool: pool}
}

// Close stops accepting new work and waits for in-flight tasks to finish.
func (p *HandlerPool) Close() {
	p.pool.Stop()
}

// Offload wraps handler so Subscribe/SubscribePattern dispatch it onto p
// instead of invoking it inline on the subscriber's delivery goroutine.
// The returned Handler still reports completion to the dispatcher only in
// the sense that submission itself cannot fail; errors from the offloaded
// call are logged the same way a handler failure is (spec.md §4.3
// "Handler failures... logged; the failure does not abort dispatch").
func Offload[T any](p *HandlerPool, handler Handler[T]) Handler[T] {
	return func(ctx context.Context, event T) error {
		p.pool.Submit(func(taskCtx context.Context) {
			if err := handler(taskCtx, event); err != nil {
				logger.L().ErrorContext(taskCtx, "eventbus: offloaded handler returned error", "error", err)
			}
		})
		return nil
	}
}
