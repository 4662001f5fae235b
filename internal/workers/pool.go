// Package workers provides a bounded goroutine pool that runs CPU-bound
// analytics off the request-handling goroutines.
package workers

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tradelab/trading-backend/pkg/utils"
)

// Task represents a unit of work to be processed
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc is a function that can be used as a Task
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// Pool manages a pool of worker goroutines
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	metrics *PoolMetrics
}

// PoolConfig configures the worker pool
type PoolConfig struct {
	Name            string        // Pool name for logging
	NumWorkers      int           // Number of worker goroutines
	QueueSize       int           // Size of the task queue
	TaskTimeout     time.Duration // Timeout for individual tasks
	ShutdownTimeout time.Duration // Timeout for graceful shutdown
}

// DefaultPoolConfig returns sensible defaults
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       256,
		TaskTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

const latencyWindow = 1024

// PoolMetrics tracks pool performance
type PoolMetrics struct {
	TasksSubmitted atomic.Int64
	TasksCompleted atomic.Int64
	TasksFailed    atomic.Int64
	TasksTimeout   atomic.Int64
	TasksRejected  atomic.Int64
	PanicRecovered atomic.Int64

	mu         sync.Mutex
	latencies  []float64
	latencyIdx int
	startTime  time.Time
}

// NewPoolMetrics creates a new metrics tracker
func NewPoolMetrics() *PoolMetrics {
	return &PoolMetrics{
		latencies: make([]float64, 0, latencyWindow),
		startTime: time.Now(),
	}
}

// RecordLatency records task execution latency
func (m *PoolMetrics) RecordLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) < latencyWindow {
		m.latencies = append(m.latencies, float64(d))
		return
	}
	m.latencies[m.latencyIdx] = float64(d)
	m.latencyIdx = (m.latencyIdx + 1) % latencyWindow
}

// P99Latency returns the 99th percentile of recent task latencies
func (m *PoolMetrics) P99Latency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) == 0 {
		return 0
	}
	return time.Duration(utils.Percentile(m.latencies, 99))
}

// PoolStats contains pool statistics
type PoolStats struct {
	TasksSubmitted int64         `json:"tasks_submitted"`
	TasksCompleted int64         `json:"tasks_completed"`
	TasksFailed    int64         `json:"tasks_failed"`
	TasksTimeout   int64         `json:"tasks_timeout"`
	TasksRejected  int64         `json:"tasks_rejected"`
	PanicRecovered int64         `json:"panic_recovered"`
	QueueLength    int           `json:"queue_length"`
	P99Latency     time.Duration `json:"p99_latency"`
	Uptime         time.Duration `json:"uptime"`
}

// NewPool creates a new worker pool
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	if config.NumWorkers < 1 {
		config.NumWorkers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		metrics:   NewPoolMetrics(),
	}
}

// Start starts all workers
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
		zap.Int("queue_size", p.config.QueueSize),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.work(p.logger.With(zap.Int("worker_id", i)))
	}
}

func (p *Pool) work(logger *zap.Logger) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.taskQueue:
			p.execute(logger, task)
		}
	}
}

// execute runs a single task with timeout and panic recovery
func (p *Pool) execute(logger *zap.Logger, task Task) {
	start := time.Now()

	ctx := p.ctx
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(p.ctx, p.config.TaskTimeout)
		defer cancel()
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				p.metrics.PanicRecovered.Add(1)
				logger.Error("worker recovered from panic", zap.Any("panic", r))
				err = &PanicError{Recovered: r}
			}
		}()
		return task.Execute(ctx)
	}()

	p.metrics.RecordLatency(time.Since(start))

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		p.metrics.TasksTimeout.Add(1)
		logger.Warn("task timed out", zap.Duration("timeout", p.config.TaskTimeout))
	case err != nil:
		p.metrics.TasksFailed.Add(1)
		logger.Debug("task failed", zap.Error(err))
	default:
		p.metrics.TasksCompleted.Add(1)
	}
}

// Submit adds a task to the queue without blocking
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		p.metrics.TasksSubmitted.Add(1)
		return nil
	default:
		p.metrics.TasksRejected.Add(1)
		return ErrQueueFull
	}
}

// SubmitFunc submits a function as a task
func (p *Pool) SubmitFunc(fn func(ctx context.Context) error) error {
	return p.Submit(TaskFunc(fn))
}

// Do runs fn on the pool and waits for its result. It returns early with
// ctx's error when ctx is done first, and with ErrPoolStopped when the pool
// shuts down before the task completes.
func Do[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)

	task := TaskFunc(func(taskCtx context.Context) error {
		if err := ctx.Err(); err != nil {
			done <- outcome{err: err}
			return err
		}

		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &PanicError{Recovered: r}}
				panic(r)
			}
		}()

		v, err := fn(taskCtx)
		if err == nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			err = ErrTaskTimeout
		}
		done <- outcome{value: v, err: err}
		return err
	})

	if err := p.Submit(task); err != nil {
		return zero, err
	}

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-p.ctx.Done():
		return zero, ErrPoolStopped
	}
}

// Stop gracefully shuts down the pool. Queued tasks that have not started are dropped.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}

	p.logger.Info("stopping worker pool", zap.String("name", p.config.Name))
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully", zap.String("name", p.config.Name))
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out",
			zap.String("name", p.config.Name),
			zap.Duration("timeout", p.config.ShutdownTimeout),
		)
		return ErrShutdownTimeout
	}
}

// QueueLength returns the current number of queued tasks
func (p *Pool) QueueLength() int {
	return len(p.taskQueue)
}

// IsRunning returns whether the pool is running
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	m := p.metrics
	return PoolStats{
		TasksSubmitted: m.TasksSubmitted.Load(),
		TasksCompleted: m.TasksCompleted.Load(),
		TasksFailed:    m.TasksFailed.Load(),
		TasksTimeout:   m.TasksTimeout.Load(),
		TasksRejected:  m.TasksRejected.Load(),
		PanicRecovered: m.PanicRecovered.Load(),
		QueueLength:    p.QueueLength(),
		P99Latency:     m.P99Latency(),
		Uptime:         time.Since(m.startTime),
	}
}

// Errors
var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
	ErrTaskTimeout     = &PoolError{Message: "task timed out"}
)

// PoolError represents a pool error
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError represents a recovered panic
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Recovered)
}
