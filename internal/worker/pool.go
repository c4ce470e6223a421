package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueFull is returned by Submit when the task queue cannot accept
// more work. Submission never blocks; callers decide how to degrade.
var ErrQueueFull = errors.New("task queue is full")

// Task is one unit of asynchronous work. The context is the pool's run
// context; tasks must return promptly once it is cancelled.
type Task func(ctx context.Context)

// Config represents pool configuration.
type Config struct {
	MaxWorkers int // number of worker goroutines
	QueueSize  int // buffered task queue size
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxWorkers: 4,
		QueueSize:  64,
	}
}

// Validate validates configuration.
func (cfg *Config) Validate() error {
	if cfg.MaxWorkers < 1 {
		return errors.New("max workers must be greater than 0")
	}
	if cfg.QueueSize < 1 {
		return errors.New("queue size must be greater than 0")
	}
	return nil
}

// Metrics tracks pool operational counters.
type Metrics struct {
	ActiveWorkers  atomic.Int64
	PendingTasks   atomic.Int64
	CompletedTasks atomic.Int64
	PanickedTasks  atomic.Int64
}

// Pool runs submitted tasks on a fixed set of worker goroutines with a
// bounded queue, so concurrent exports are capped by configuration
// rather than by whatever load arrives.
type Pool struct {
	maxWorkers int
	queueSize  int

	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics *Metrics
}

// NewPool creates a worker pool. Call Start before submitting.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		maxWorkers: cfg.MaxWorkers,
		queueSize:  cfg.QueueSize,
		tasks:      make(chan Task, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		metrics:    &Metrics{},
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop cancels the run context and waits for workers to finish, up to
// the deadline of ctx. Queued tasks that never ran are dropped; the
// startup sweep reconciles any jobs they would have served.
func (p *Pool) Stop(ctx context.Context) {
	p.cancel()
	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Submit enqueues a task without blocking.
func (p *Pool) Submit(task Task) error {
	select {
	case p.tasks <- task:
		p.metrics.PendingTasks.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.runTask(task)
		}
	}
}

func (p *Pool) runTask(task Task) {
	p.metrics.ActiveWorkers.Add(1)
	p.metrics.PendingTasks.Add(-1)

	defer func() {
		p.metrics.ActiveWorkers.Add(-1)
		if r := recover(); r != nil {
			p.metrics.PanickedTasks.Add(1)
			return
		}
		p.metrics.CompletedTasks.Add(1)
	}()

	task(p.ctx)
}

// GetMetrics returns a snapshot of the pool counters.
func (p *Pool) GetMetrics() map[string]int64 {
	return map[string]int64{
		"active_workers":  p.metrics.ActiveWorkers.Load(),
		"pending_tasks":   p.metrics.PendingTasks.Load(),
		"completed_tasks": p.metrics.CompletedTasks.Load(),
		"panicked_tasks":  p.metrics.PanickedTasks.Load(),
	}
}

// IsBusy reports whether the pool is saturated.
func (p *Pool) IsBusy() bool {
	return p.metrics.ActiveWorkers.Load() >= int64(p.maxWorkers) ||
		p.metrics.PendingTasks.Load() >= int64(p.queueSize)
}

// IsIdle reports whether no task is running.
func (p *Pool) IsIdle() bool {
	return p.metrics.ActiveWorkers.Load() == 0
}
