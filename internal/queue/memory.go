package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/timmy/factcorpus/internal/logger"
)

// ErrQueueFull is returned when the in-memory buffer cannot take more tasks.
var ErrQueueFull = errors.New("task queue is full")

// ErrQueueClosed is returned when publishing to a closed queue.
var ErrQueueClosed = errors.New("task queue is closed")

const defaultMemoryBuffer = 1024

// MemoryQueue delivers tasks to a handler inside the current process using a
// bounded worker pool.
type MemoryQueue struct {
	handler Handler
	pool    *ants.Pool
	tasks   chan dispatch
	wg      sync.WaitGroup
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

type dispatch struct {
	ctx context.Context
	msg TaskMessage
}

// NewMemoryQueue creates a queue running handler on up to workers goroutines.
// Parameters:
//   - workers: pool size, at least one.
//   - buffer: pending task capacity; 0 selects a default.
//   - handler: task handler.
// Returns:
//   - *MemoryQueue: started queue.
//   - error: non-nil if the pool cannot be created.
func NewMemoryQueue(workers, buffer int, handler Handler) (*MemoryQueue, error) {
	pool, err := ants.NewPool(max(workers, 1))
	if err != nil {
		return nil, err
	}
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}
	q := &MemoryQueue{
		handler: handler,
		pool:    pool,
		tasks:   make(chan dispatch, buffer),
		done:    make(chan struct{}),
	}
	go q.dispatchLoop()
	return q, nil
}

// Publish buffers msg for delivery. The handler runs with ctx's values but
// not its cancellation, so request-scoped callers can return immediately.
func (q *MemoryQueue) Publish(ctx context.Context, msg TaskMessage) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.wg.Add(1)
	select {
	case q.tasks <- dispatch{ctx: context.WithoutCancel(ctx), msg: msg}:
		return nil
	default:
		q.wg.Done()
		return ErrQueueFull
	}
}

func (q *MemoryQueue) dispatchLoop() {
	defer close(q.done)
	for d := range q.tasks {
		err := q.pool.Submit(func() {
			defer q.wg.Done()
			q.handler.Handle(d.ctx, d.msg)
		})
		if err != nil {
			logger.CtxError(d.ctx, "Failed to submit task for endpoint %s: %v", d.msg.SourceEndpointID, err)
			q.wg.Done()
		}
	}
}

// Wait blocks until every published task has been handled.
func (q *MemoryQueue) Wait() {
	q.wg.Wait()
}

// Close stops accepting tasks, drains pending ones and releases the pool.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	<-q.done
	q.wg.Wait()
	q.pool.Release()
}
