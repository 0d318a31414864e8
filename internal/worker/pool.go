package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrQueueFull is returned by Submit when the queue has no free slot
	ErrQueueFull = errors.New("worker queue is full")

	// ErrStopped is returned by Submit after Stop
	ErrStopped = errors.New("worker pool is stopped")
)

// Task represents a unit of work for the worker pool
type Task struct {
	ID   string
	Func func(ctx context.Context)
}

// PanicHandler receives panics recovered from tasks
type PanicHandler func(taskID string, recovered any)

// Pool runs submitted tasks on a fixed number of workers. Tasks start in
// submission order; completion order is unspecified.
type Pool struct {
	ctx     context.Context
	cancel  context.CancelFunc
	tasks   chan Task
	onPanic PanicHandler

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// Option configures a Pool
type Option func(*Pool)

// WithPanicHandler sets the function told about recovered task panics
func WithPanicHandler(handler PanicHandler) Option {
	return func(p *Pool) {
		p.onPanic = handler
	}
}

// NewPool starts workers goroutines consuming a queue of queueSize tasks
func NewPool(workers, queueSize int, opts ...Option) *Pool {
	if workers < 1 {
		workers = 1
	}

	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(chan Task, queueSize),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(workers)

	for range workers {
		go p.worker()
	}

	return p
}

// Submit queues task without blocking
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrStopped
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		return fmt.Errorf("%w: task %s", ErrQueueFull, task.ID)
	}
}

// Queued returns the number of tasks waiting for a worker
func (p *Pool) Queued() int {
	return len(p.tasks)
}

// Stop rejects new tasks, lets queued tasks drain and waits for the
// workers to exit. The context passed to tasks is cancelled first.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.wg.Wait()

		return
	}

	p.stopped = true
	p.cancel()
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker processes tasks from the task channel
func (p *Pool) worker() {
	defer p.wg.Done()

	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil && p.onPanic != nil {
			p.onPanic(task.ID, r)
		}
	}()

	task.Func(p.ctx)
}
