package job

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned when the pending task queue has no free slot.
	ErrQueueFull = errors.New("job queue is full")
	// ErrPoolClosed is returned when submitting to a pool that was closed.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Task is a unit of background work. The context is cancelled when the pool
// shuts down.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of workers fed by a bounded queue.
// Submission never blocks.
type Pool struct {
	mu     sync.Mutex
	closed bool
	tasks  chan Task
	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewPool starts workers goroutines reading from a queue of queueSize tasks.
// Non-positive values are raised to 1.
func NewPool(workers, queueSize int) *Pool {
	workers = max(workers, 1)
	queueSize = max(queueSize, 1)

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:  make(chan Task, queueSize),
		group:  &errgroup.Group{},
		cancel: cancel,
	}

	for range workers {
		p.group.Go(func() error {
			for task := range p.tasks {
				task(ctx)
			}
			return nil
		})
	}

	return p
}

// TrySubmit queues task without blocking.
// Returns ErrQueueFull or ErrPoolClosed when the task was not queued.
func (p *Pool) TrySubmit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting tasks and waits for queued and running tasks.
// If ctx expires first, the task context is cancelled so running tasks stop
// early, and Close keeps waiting for them to return.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
