// Package workers provides the executors that run blocking scan work for
// portscan. A bounded Pool runs tasks on a fixed set of goroutines with an
// optional rate limit and graceful shutdown. Inline runs tasks on the
// caller's goroutine. Both hand back a Future the caller waits on.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anstrom/portscan/internal/logging"
	"github.com/anstrom/portscan/internal/metrics"
)

var (
	// ErrPoolClosed is returned when submitting to a pool that is shutting down.
	ErrPoolClosed = errors.New("worker pool is shut down")
	// ErrQueueFull is returned by TrySubmit when the queue has no free slot.
	ErrQueueFull = errors.New("job queue is full")
)

// Task is a unit of blocking work.
type Task func(ctx context.Context) error

// Executor accepts tasks and reports their completion through a Future.
type Executor interface {
	Submit(ctx context.Context, task Task) (*Future, error)
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int `yaml:"size" validate:"min=1"`
	// QueueSize is the maximum number of tasks that can be queued.
	QueueSize int `yaml:"queue_size" validate:"min=0"`
	// ShutdownTimeout is the maximum time to wait for workers to finish.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RateLimit is the maximum number of tasks started per second (0 = no limit).
	RateLimit int `yaml:"rate_limit" validate:"min=0"`
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:            4,
		QueueSize:       64,
		ShutdownTimeout: 30 * time.Second,
	}
}

type job struct {
	ctx    context.Context
	task   Task
	future *Future
}

// Pool manages a pool of worker goroutines for concurrent task execution.
type Pool struct {
	config   Config
	jobs     chan job
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	quit     chan struct{}
	limiter  *time.Ticker
	recorder metrics.Recorder
	logger   *logging.Logger

	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	quitOnce  sync.Once
}

// Option configures a Pool.
type Option func(*Pool)

// WithRecorder reports queue depth and task outcomes to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(p *Pool) { p.recorder = r }
}

// WithLogger sets the pool logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New creates a new worker pool with the given configuration.
func New(config Config, opts ...Option) *Pool {
	if config.Size < 1 {
		config.Size = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		config:   config,
		jobs:     make(chan job, config.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		quit:     make(chan struct{}),
		recorder: metrics.Nop{},
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(pool)
	}
	pool.logger = pool.logger.WithComponent("workers")

	if config.RateLimit > 0 {
		pool.limiter = time.NewTicker(time.Second / time.Duration(config.RateLimit))
	}
	return pool
}

// Start begins the worker pool operations.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize,
			"rate_limit", p.config.RateLimit)

		for i := 0; i < p.config.Size; i++ {
			p.wg.Add(1)
			go p.run(i)
		}
	})
}

// Submit queues task, blocking until a slot is free, ctx is done or the pool shuts down.
func (p *Pool) Submit(ctx context.Context, task Task) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	j := job{ctx: ctx, task: task, future: newFuture()}
	select {
	case p.jobs <- j:
		p.recorder.SetQueueDepth(len(p.jobs))
		return j.future, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, ErrPoolClosed
	}
}

// TrySubmit queues task only if a slot is immediately free.
func (p *Pool) TrySubmit(ctx context.Context, task Task) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	j := job{ctx: ctx, task: task, future: newFuture()}
	select {
	case p.jobs <- j:
		p.recorder.SetQueueDepth(len(p.jobs))
		return j.future, nil
	default:
		return nil, ErrQueueFull
	}
}

// Shutdown stops accepting tasks, lets queued tasks finish and waits for the
// workers. Running tasks are canceled once ctx is done or the configured
// shutdown timeout elapses.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.quitOnce.Do(func() { close(p.quit) })

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.logger.Info("Shutting down worker pool")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if p.config.ShutdownTimeout > 0 {
		timer := time.NewTimer(p.config.ShutdownTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var err error
	select {
	case <-done:
		p.logger.Info("Worker pool shutdown completed")
	case <-ctx.Done():
		err = ctx.Err()
	case <-timeout:
		err = fmt.Errorf("worker pool shutdown timed out after %s", p.config.ShutdownTimeout)
	}
	if err != nil {
		p.logger.Warn("Worker pool shutdown timeout, canceling running tasks", "error", err)
		p.cancel()
		<-done
	}

	// Tasks still queued when the pool was never started.
	for j := range p.jobs {
		j.future.complete(ErrPoolClosed)
	}

	p.cancel()
	if p.limiter != nil {
		p.limiter.Stop()
	}
	return err
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", "worker_id", id)
	defer p.logger.Debug("Worker stopped", "worker_id", id)

	for j := range p.jobs {
		p.recorder.SetQueueDepth(len(p.jobs))
		p.execute(id, j)
	}
}

func (p *Pool) execute(id int, j job) {
	if p.limiter != nil {
		select {
		case <-p.limiter.C:
		case <-j.ctx.Done():
			j.future.complete(j.ctx.Err())
			p.recorder.IncJobs(metrics.StatusFailure)
			return
		case <-p.ctx.Done():
			j.future.complete(ErrPoolClosed)
			p.recorder.IncJobs(metrics.StatusFailure)
			return
		}
	}

	// A task whose context ended while queued is skipped, never started.
	if err := j.ctx.Err(); err != nil {
		j.future.complete(err)
		p.recorder.IncJobs(metrics.StatusFailure)
		return
	}

	taskCtx, cancel := context.WithCancel(j.ctx)
	stop := context.AfterFunc(p.ctx, cancel)
	j.future.markStarted()
	start := time.Now()
	err := runTask(taskCtx, j.task)
	stop()
	cancel()

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailure
	}
	p.recorder.IncJobs(status)
	p.logger.Debug("Task finished",
		"worker_id", id,
		"duration", time.Since(start),
		"status", status)
	j.future.complete(err)
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// Inline runs each task synchronously inside Submit.
type Inline struct{}

var (
	_ Executor = (*Pool)(nil)
	_ Executor = Inline{}
)

// Submit runs task immediately and returns its already completed Future.
func (Inline) Submit(ctx context.Context, task Task) (*Future, error) {
	f := newFuture()
	if err := ctx.Err(); err != nil {
		f.complete(err)
		return f, nil
	}
	f.markStarted()
	f.complete(runTask(ctx, task))
	return f, nil
}
