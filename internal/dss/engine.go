package dss

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dataspace.app/orchestrator/common/logger"
	"dataspace.app/orchestrator/internal/model"
)

const (
	startProgress    = 10
	completeProgress = 100
)

var progressSteps = []int{25, 50, 75, 90}

func sampleResult() *model.OptimizationResult {
	return &model.OptimizationResult{
		EnergySavingsKWh:  245.8,
		CostReductionEUR:  48.72,
		CO2ReductionKg:    98.32,
		OptimizationScore: 0.85,
		RecommendedActions: []string{
			"Reduce HVAC temperature by 2°C during off-peak hours",
			"Implement smart lighting controls in zone B",
			"Schedule high-energy equipment during low-cost periods",
		},
	}
}

// ProgressHook observes every status/progress change made by a job's background task.
type ProgressHook func(jobID string, status model.JobStatus, progress int)

type Option func(*Engine)

func WithStepDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.step = d
		}
	}
}

func WithProgressHook(hook ProgressHook) Option {
	return func(e *Engine) { e.onProgress = hook }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine owns the job table and runs one background task per job.
type Engine struct {
	step       time.Duration
	onProgress ProgressHook
	notifier   Notifier
	logger     *slog.Logger

	mu   sync.Mutex
	jobs map[string]*model.JobRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		step:   2 * time.Second,
		logger: slog.Default(),
		jobs:   make(map[string]*model.JobRecord),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = NewWebhookSender(0, e.logger)
	}
	return e
}

func (e *Engine) Create(ctx context.Context, spec model.JobSpec, callbackURL *string) (model.JobRecord, error) {
	if err := e.ctx.Err(); err != nil {
		return model.JobRecord{}, fmt.Errorf("engine is shut down: %w", err)
	}

	spec = spec.WithDefaults()
	job := &model.JobRecord{
		ID:               uuid.NewString(),
		Status:           model.JobStatusPending,
		BuildingID:       spec.BuildingID,
		OptimizationType: spec.OptimizationType,
		Parameters:       spec.Parameters,
		CreatedAt:        time.Now().UTC(),
	}
	if callbackURL != nil && *callbackURL != "" {
		url := *callbackURL
		job.CallbackURL = &url
	}

	e.mu.Lock()
	e.jobs[job.ID] = job
	snapshot := job.Clone()
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(snapshot.ID)

	e.logger.InfoContext(ctx, "job created", "job_id", job.ID, "building_id", job.BuildingID, "optimization_type", job.OptimizationType)
	return snapshot, nil
}

func (e *Engine) Get(ctx context.Context, jobID string) (model.JobRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.jobs[jobID]
	if !ok {
		return model.JobRecord{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job.Clone(), nil
}

func (e *Engine) List(ctx context.Context) []model.JobRecord {
	e.mu.Lock()
	out := make([]model.JobRecord, 0, len(e.jobs))
	for _, job := range e.jobs {
		out = append(out, job.Clone())
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Cancel moves a pending or running job to cancelled. Completed and failed
// jobs, and jobs already cancelled, are rejected with ErrJobNotCancellable.
func (e *Engine) Cancel(ctx context.Context, jobID string) (model.JobRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.jobs[jobID]
	if !ok {
		return model.JobRecord{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Status.IsTerminal() {
		return model.JobRecord{}, fmt.Errorf("%w: job %s is %s", ErrJobNotCancellable, jobID, job.Status)
	}

	job.Status = model.JobStatusCancelled
	e.logger.InfoContext(ctx, "job cancelled", "job_id", jobID, "progress", job.Progress)
	return job.Clone(), nil
}

// Shutdown stops all background tasks and waits for them to return.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run(jobID string) {
	defer e.wg.Done()

	ctx := logger.WithLogFields(e.ctx, logger.LogFields{JobID: &jobID, Component: "dss.engine"})

	defer func() {
		if r := recover(); r != nil {
			e.fail(ctx, jobID, fmt.Sprintf("job processing panicked: %v", r))
		}
	}()

	if !e.advance(jobID, model.JobStatusRunning, startProgress) {
		return
	}
	for _, progress := range progressSteps {
		if !e.sleep() || !e.advance(jobID, model.JobStatusRunning, progress) {
			return
		}
	}
	if !e.sleep() {
		return
	}

	job, ok := e.complete(jobID)
	if !ok {
		return
	}
	e.logger.InfoContext(ctx, "job completed")

	if job.CallbackURL != nil {
		payload := model.CallbackPayload{
			JobID:  job.ID,
			Status: string(model.JobStatusCompleted),
			Result: job.Result,
		}
		if err := e.notifier.Send(ctx, *job.CallbackURL, payload); err != nil {
			e.logger.ErrorContext(ctx, "webhook failed", "callback_url", *job.CallbackURL, "error", err)
		}
	}
}

func (e *Engine) sleep() bool {
	timer := time.NewTimer(e.step)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// advance updates a live job; it reports false once the job has reached a terminal state.
func (e *Engine) advance(jobID string, status model.JobStatus, progress int) bool {
	e.mu.Lock()
	job, ok := e.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		e.mu.Unlock()
		return false
	}
	job.Status = status
	job.Progress = progress
	e.mu.Unlock()

	e.notifyProgress(jobID, status, progress)
	return true
}

func (e *Engine) complete(jobID string) (model.JobRecord, bool) {
	e.mu.Lock()
	job, ok := e.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		e.mu.Unlock()
		return model.JobRecord{}, false
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusCompleted
	job.Progress = completeProgress
	job.CompletedAt = &now
	job.Result = sampleResult()
	snapshot := job.Clone()
	e.mu.Unlock()

	e.notifyProgress(jobID, model.JobStatusCompleted, completeProgress)
	return snapshot, true
}

func (e *Engine) fail(ctx context.Context, jobID, reason string) {
	e.mu.Lock()
	job, ok := e.jobs[jobID]
	if ok && !job.Status.IsTerminal() {
		job.Status = model.JobStatusFailed
		job.Error = &reason
	}
	e.mu.Unlock()

	e.logger.ErrorContext(ctx, "job failed", "error", reason)
}

func (e *Engine) notifyProgress(jobID string, status model.JobStatus, progress int) {
	if e.onProgress != nil {
		e.onProgress(jobID, status, progress)
	}
}
