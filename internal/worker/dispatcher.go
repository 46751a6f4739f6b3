package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"dataspace.app/orchestrator/common/logger"
	"dataspace.app/orchestrator/core/config"
	"dataspace.app/orchestrator/internal/metrics"
)

var (
	ErrQueueFull = errors.New("dispatch queue is full")
	ErrStopped   = errors.New("dispatcher is stopped")
)

// Task is one unit of background work. TraceID links the task's span to the
// request that submitted it.
type Task struct {
	Name      string
	RequestID string
	TraceID   string
	Run       func(ctx context.Context) error
}

// Dispatcher runs tasks on a fixed pool of workers fed by a bounded queue.
type Dispatcher struct {
	workers int
	queue   chan Task
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool

	wg        sync.WaitGroup
	stoppedCh chan struct{}
}

func NewDispatcher(cfg config.DispatcherConfig, m *metrics.Metrics, l *slog.Logger) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 16
	}
	if l == nil {
		l = slog.Default()
	}
	return &Dispatcher{
		workers:   workers,
		queue:     make(chan Task, size),
		metrics:   m,
		logger:    l,
		stoppedCh: make(chan struct{}),
	}
}

// Start launches the workers. ctx is the parent of every task context.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true

	for i := range d.workers {
		d.wg.Add(1)
		go d.loop(ctx, i)
	}
	d.logger.InfoContext(ctx, "dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
}

// Submit enqueues task without blocking.
func (d *Dispatcher) Submit(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("task %q has no run function", task.Name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}

	select {
	case d.queue <- task:
		d.metrics.SetDispatchQueueDepth(len(d.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new tasks, lets the workers drain the queue and waits for them.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		<-d.stoppedCh
		return
	}
	d.stopped = true
	started := d.started
	close(d.queue)
	d.mu.Unlock()

	if started {
		d.wg.Wait()
	}
	close(d.stoppedCh)
}

func (d *Dispatcher) loop(ctx context.Context, worker int) {
	defer d.wg.Done()

	for task := range d.queue {
		d.metrics.SetDispatchQueueDepth(len(d.queue))
		if err := d.runSafe(ctx, task); err != nil {
			d.logger.ErrorContext(ctx, "task failed",
				"task", task.Name,
				"request_id", task.RequestID,
				"worker", worker,
				"error", err)
		}
	}
}

func (d *Dispatcher) runSafe(ctx context.Context, task Task) (err error) {
	var span *logger.SpanContext
	if task.TraceID != "" {
		span = logger.StartSpanFromTraceID(ctx, task.TraceID, "worker."+task.Name)
	} else {
		span = logger.StartSpan(ctx, "worker."+task.Name)
	}
	defer span.End()

	taskCtx := span.Context()
	if task.RequestID != "" {
		taskCtx = logger.WithLogFields(taskCtx, logger.LogFields{RequestID: logger.Ptr(task.RequestID)})
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(taskCtx, "panic recovered in task", "task", task.Name, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
		}
	}()

	return task.Run(taskCtx)
}
