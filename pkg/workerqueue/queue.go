// Package workerqueue implements the bounded asynchronous pipeline backing
// the interceptor's capture hot path: classification and persistence run on
// a dedicated worker pool fed by a bounded channel, so the interceptor's
// Submit call never blocks on I/O. No repo in the retrieval pack imports a
// third-party worker-pool library; this is the same bounded
// channel + sync.WaitGroup + context idiom every pack repo uses for its own
// goroutine fan-out. The queue itself does no buffer pooling.
package workerqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Queue runs Process on every submitted item using a fixed pool of worker
// goroutines draining a bounded channel.
type Queue[T any] struct {
	items   chan T
	process func(context.Context, T)
	log     *zap.Logger

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	closed  atomic.Bool

	dropped atomic.Int64
}

// Config configures a Queue.
type Config struct {
	Capacity int // bounded channel size
	Workers  int // number of worker goroutines
}

// New starts a Queue with cfg.Workers goroutines consuming from a channel of
// capacity cfg.Capacity, each invoking process on its own goroutine's items
// in submission order for that goroutine (no cross-worker ordering
// guarantee, matching the design note that derived memory rows may land
// out of order since classification is asynchronous).
func New[T any](ctx context.Context, cfg Config, process func(context.Context, T), log *zap.Logger) *Queue[T] {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	qctx, cancel := context.WithCancel(ctx)
	q := &Queue[T]{
		items:   make(chan T, cfg.Capacity),
		process: process,
		log:     log,
		cancel:  cancel,
	}

	q.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go q.worker(qctx)
	}

	return q
}

func (q *Queue[T]) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-q.items:
			if !ok {
				return
			}
			q.process(ctx, item)
		}
	}
}

// Submit enqueues item without blocking. If the queue is at capacity the
// item is dropped and the drop counter is incremented; Submit never blocks
// or delays the caller, matching the interceptor's back-pressure contract.
func (q *Queue[T]) Submit(item T) bool {
	if q.closed.Load() {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.items <- item:
		return true
	default:
		q.dropped.Add(1)
		if q.log != nil {
			q.log.Warn("workerqueue: queue full, dropping item")
		}
		return false
	}
}

// Dropped returns the total number of items dropped due to a full queue.
func (q *Queue[T]) Dropped() int64 { return q.dropped.Load() }

// Depth returns the current number of items awaiting processing.
func (q *Queue[T]) Depth() int { return len(q.items) }

// Close stops accepting new work and waits up to grace for workers to drain
// whatever is already queued. Cancellation is deferred until grace elapses
// (or all workers finish first, whichever is sooner): canceling eagerly
// would race the channel close and could make a worker exit via ctx.Done()
// before it ever drains a backlog it had time to finish, silently
// discarding work the grace period was meant to cover. Items still queued
// once grace elapses are discarded with a logged count.
func (q *Queue[T]) Close(grace time.Duration) {
	if q.closed.Swap(true) {
		return
	}
	close(q.items)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(grace):
		remaining := len(q.items)
		if q.log != nil && remaining > 0 {
			q.log.Warn("workerqueue: grace period elapsed, discarding pending items", zap.Int("remaining", remaining))
		}
	}
	q.cancel()
}
