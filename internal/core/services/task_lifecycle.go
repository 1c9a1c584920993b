package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/manthysbr/cropyield/internal/core/domain"
	"github.com/manthysbr/cropyield/internal/core/ports"
)

// maxStepLen bounds current_step as stored.
const maxStepLen = 200

// TaskHandler runs the body of one job and returns the id of its stored
// result. It reports progress and polls for cancellation through exec.
type TaskHandler func(ctx context.Context, exec *Execution) (int64, error)

// LifecycleDeps are the collaborators the lifecycle drives.
type LifecycleDeps struct {
	Jobs     ports.JobRepository
	Catalog  ports.CatalogRepository
	History  ports.HistoryRepository
	Results  ports.ResultRepository
	Engine   ports.ForecastEngine
	Pools    *Pools
	Events   *EventBus
	Notifier ports.Notifier
}

type LifecycleConfig struct {
	// MaxForecastPeriods caps the horizon passed to the engine. Zero means no cap.
	MaxForecastPeriods int
}

// TaskLifecycle owns job execution: it creates jobs, hands them to pools,
// runs the execution routine and records every state change.
type TaskLifecycle struct {
	logger     *slog.Logger
	deps       LifecycleDeps
	maxPeriods int

	mu       sync.RWMutex
	handlers map[domain.TaskType]TaskHandler

	flags cancelFlags

	now   func() time.Time
	newID func() domain.JobID
}

func NewTaskLifecycle(logger *slog.Logger, deps LifecycleDeps, cfg LifecycleConfig) *TaskLifecycle {
	l := &TaskLifecycle{
		logger:     logger,
		deps:       deps,
		maxPeriods: cfg.MaxForecastPeriods,
		handlers:   make(map[domain.TaskType]TaskHandler),
		flags:      cancelFlags{flags: make(map[domain.JobID]*atomic.Bool)},
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() domain.JobID { return domain.JobID(uuid.New().String()) },
	}
	l.RegisterHandler(domain.TaskTypeForecast, l.runForecast)
	return l
}

// RegisterHandler installs the execution routine for a task type.
func (l *TaskLifecycle) RegisterHandler(t domain.TaskType, h TaskHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[t] = h
	l.logger.Info("task handler registered", "task_type", t)
}

func (l *TaskLifecycle) handler(t domain.TaskType) TaskHandler {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.handlers[t]
}

// Submit validates req and creates a PENDING forecast job. DIRECT jobs are
// handed to the forecast pool before Submit returns; SCHEDULED jobs wait
// for the dispatch sweep.
func (l *TaskLifecycle) Submit(ctx context.Context, req domain.ForecastRequest, mode domain.SubmissionMode) (domain.Job, error) {
	if err := req.Validate(); err != nil {
		return domain.Job{}, err
	}

	job := domain.NewJob(l.newID(), domain.TaskTypeForecast, mode, req, l.now())
	if err := l.deps.Jobs.CreateJob(ctx, job); err != nil {
		return domain.Job{}, errors.Wrap(err, "failed to create task")
	}

	l.logger.Info("task submitted",
		"task_id", job.ID,
		"mode", mode,
		"region_id", job.RegionID,
		"crop_id", job.CropID,
		"model_id", job.ModelID)
	l.deps.Events.PublishJob(EventTypeStatus, job)

	if mode == domain.SubmissionScheduled {
		return job, nil
	}

	if err := l.dispatch(job.ID, job.TaskType); err != nil {
		l.reject(context.WithoutCancel(ctx), job, err)
		return domain.Job{}, err
	}
	return job, nil
}

// Dispatch hands a queued message to the pool for its task type.
func (l *TaskLifecycle) Dispatch(msg domain.QueueMessage) error {
	return l.dispatch(msg.TaskID, msg.TaskType)
}

func (l *TaskLifecycle) dispatch(id domain.JobID, t domain.TaskType) error {
	pool := l.deps.Pools.ForTaskType(t)
	return pool.Submit(func(ctx context.Context) {
		l.Execute(ctx, id)
	})
}

// reject cancels a job its pool refused so the row does not linger in PENDING.
func (l *TaskLifecycle) reject(ctx context.Context, job domain.Job, cause error) {
	l.logger.Warn("task rejected by pool", "task_id", job.ID, "error", cause)
	step := domain.Truncate("rejected: "+domain.SafeMessage(cause), maxStepLen)
	if !job.Finish(domain.JobStatusCancelled, step, l.now()) {
		return
	}
	if err := l.deps.Jobs.FinishJob(ctx, job); err != nil {
		l.logger.Error("failed to cancel rejected task", "task_id", job.ID, "error", err)
		return
	}
	l.deps.Events.PublishJob(EventTypeStatus, job)
}

// Execute is the execution routine shared by both entry paths. It runs the
// job body at most once per task id and always leaves the row terminal
// once it has claimed it.
func (l *TaskLifecycle) Execute(ctx context.Context, id domain.JobID) {
	startedAt := l.now()
	claimed, err := l.deps.Jobs.ClaimJob(ctx, id, startedAt)
	if err != nil {
		l.logger.Error("failed to claim task", "task_id", id, "error", err)
		return
	}
	if !claimed {
		l.skipUnclaimed(ctx, id)
		return
	}

	flag := l.flags.get(id)
	defer l.flags.release(id)

	fctx := context.WithoutCancel(ctx)

	job, err := l.deps.Jobs.GetJob(ctx, id)
	if err != nil {
		l.logger.Error("failed to load claimed task", "task_id", id, "error", err)
		msg := domain.SafeMessage(err)
		l.finish(fctx, domain.Job{
			ID:           id,
			Status:       domain.JobStatusRunning,
			StartTime:    &startedAt,
			ErrorMessage: &msg,
		}, domain.JobStatusFailed, domain.StepFailed)
		return
	}

	l.logger.Info("task started", "task_id", id, "task_type", job.TaskType, "mode", job.Mode)
	l.deps.Events.PublishJob(EventTypeStatus, job)

	exec := &Execution{Job: job, l: l, cancelled: flag}
	resultID, runErr := l.runHandler(ctx, exec)

	final := exec.Job
	switch {
	case runErr == nil:
		step := domain.StepCompleted
		if len(exec.warnings) > 0 {
			step = domain.StepCompletedWithWarnings
		}
		final.Progress = 100
		final.ResultID = &resultID
		l.finish(fctx, final, domain.JobStatusCompleted, step)
	case errors.Is(runErr, domain.ErrCancelled):
		l.logger.Info("task observed cancellation", "task_id", id, "step", final.CurrentStep)
		l.finish(fctx, final, domain.JobStatusCancelled, domain.StepCancelled)
	default:
		l.logger.Error("task failed", "task_id", id, "step", final.CurrentStep, "error", runErr)
		msg := domain.SafeMessage(runErr)
		final.ErrorMessage = &msg
		l.finish(fctx, final, domain.JobStatusFailed, domain.StepFailed)
	}
}

func (l *TaskLifecycle) runHandler(ctx context.Context, exec *Execution) (resultID int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task handler panicked", "task_id", exec.Job.ID, "panic", r)
			err = errors.Newf("internal error during execution: %v", r)
		}
	}()

	if err := exec.Checkpoint(); err != nil {
		return 0, err
	}
	h := l.handler(exec.Job.TaskType)
	if h == nil {
		return 0, errors.Newf("no handler registered for task type %s", exec.Job.TaskType)
	}
	return h(ctx, exec)
}

func (l *TaskLifecycle) skipUnclaimed(ctx context.Context, id domain.JobID) {
	job, err := l.deps.Jobs.GetJob(ctx, id)
	if err != nil {
		l.logger.Warn("task not claimable", "task_id", id, "error", err)
		return
	}
	if job.Status == domain.JobStatusCancelled {
		l.logger.Info("task cancelled before start, skipping", "task_id", id)
		return
	}
	l.logger.Warn("task already claimed, skipping duplicate execution", "task_id", id, "status", job.Status)
}

func (l *TaskLifecycle) finish(ctx context.Context, job domain.Job, status domain.JobStatus, step string) {
	if !job.Finish(status, step, l.now()) {
		l.logger.Warn("ignoring invalid transition", "task_id", job.ID, "from", job.Status, "to", status)
		return
	}
	if err := l.deps.Jobs.FinishJob(ctx, job); err != nil {
		l.logger.Error("failed to record terminal status", "task_id", job.ID, "status", status, "error", err)
		return
	}

	attrs := []any{"task_id", job.ID, "status", status}
	if job.ExecutionTime != nil {
		attrs = append(attrs, "execution_ms", *job.ExecutionTime)
	}
	l.logger.Info("task finished", attrs...)
	l.deps.Events.PublishJob(EventTypeStatus, job)
	l.notify(job)
}

func (l *TaskLifecycle) notify(job domain.Job) {
	if l.deps.Notifier == nil || l.deps.Pools == nil {
		return
	}
	err := l.deps.Pools.Notification.Submit(func(ctx context.Context) {
		if err := l.deps.Notifier.NotifyTerminal(ctx, job); err != nil {
			l.logger.Warn("terminal notification failed", "task_id", job.ID, "error", err)
		}
	})
	if err != nil {
		l.logger.Warn("terminal notification dropped", "task_id", job.ID, "error", err)
	}
}

// Cancel stops a job. Terminal jobs are reported as they are. Jobs no worker
// has claimed are cancelled at once; running jobs get their cancellation
// flag set and stop at their next checkpoint.
func (l *TaskLifecycle) Cancel(ctx context.Context, id domain.JobID) (domain.CancelOutcome, error) {
	job, err := l.deps.Jobs.GetJob(ctx, id)
	if err != nil {
		return domain.CancelOutcome{}, err
	}
	if job.Status.IsTerminal() {
		return cancelOutcome(job, false, fmt.Sprintf("task already %s", job.Status)), nil
	}

	l.flags.get(id).Store(true)

	now := l.now()
	ok, err := l.deps.Jobs.CancelIfNotStarted(ctx, id, now)
	if err != nil {
		return domain.CancelOutcome{}, errors.Wrap(err, "failed to cancel task")
	}
	if ok {
		l.flags.release(id)
		job.Finish(domain.JobStatusCancelled, domain.StepCancelled, now)
		l.logger.Info("task cancelled before start", "task_id", id)
		l.deps.Events.PublishJob(EventTypeStatus, job)
		l.notify(job)
		return cancelOutcome(job, true, "task cancelled"), nil
	}

	job, err = l.deps.Jobs.GetJob(ctx, id)
	if err != nil {
		return domain.CancelOutcome{}, err
	}
	if job.Status.IsTerminal() {
		l.flags.release(id)
		return cancelOutcome(job, false, fmt.Sprintf("task already %s", job.Status)), nil
	}

	l.logger.Info("cancellation requested for running task", "task_id", id, "step", job.CurrentStep)
	return cancelOutcome(job, true, "cancellation requested"), nil
}

func cancelOutcome(job domain.Job, changed bool, msg string) domain.CancelOutcome {
	return domain.CancelOutcome{TaskID: job.ID, Status: job.Status, Changed: changed, Message: msg}
}

func (l *TaskLifecycle) clampPeriods(n int) int {
	if n < 1 {
		n = 1
	}
	if l.maxPeriods > 0 && n > l.maxPeriods {
		n = l.maxPeriods
	}
	return n
}

// Execution is the per-run handle a TaskHandler works through.
type Execution struct {
	Job       domain.Job
	l         *TaskLifecycle
	cancelled *atomic.Bool
	warnings  []string
}

// Checkpoint returns ErrCancelled once cancellation has been requested.
func (e *Execution) Checkpoint() error {
	if e.cancelled.Load() {
		return domain.ErrCancelled
	}
	return nil
}

// Progress checks for cancellation, then records a new phase. Progress
// never moves backwards.
func (e *Execution) Progress(ctx context.Context, pct int, step string) error {
	if err := e.Checkpoint(); err != nil {
		return err
	}
	if pct < e.Job.Progress {
		pct = e.Job.Progress
	}
	if pct > 100 {
		pct = 100
	}
	now := e.l.now()
	if err := e.l.deps.Jobs.UpdateProgress(ctx, e.Job.ID, pct, step, now); err != nil {
		return errors.Wrap(err, "failed to record progress")
	}
	e.Job.Progress = pct
	e.Job.CurrentStep = step
	e.Job.UpdatedAt = now

	e.l.logger.Debug("task progress", "task_id", e.Job.ID, "progress", pct, "step", step)
	e.l.deps.Events.PublishJob(EventTypeProgress, e.Job)
	return nil
}

// Warn records a non-fatal problem; the job still completes.
func (e *Execution) Warn(msg string) {
	e.warnings = append(e.warnings, msg)
}

func (e *Execution) Warnings() []string {
	return e.warnings
}

// cancelFlags holds one advisory flag per job that is running or being cancelled.
type cancelFlags struct {
	mu    sync.Mutex
	flags map[domain.JobID]*atomic.Bool
}

func (c *cancelFlags) get(id domain.JobID) *atomic.Bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flags[id]
	if !ok {
		f = new(atomic.Bool)
		c.flags[id] = f
	}
	return f
}

func (c *cancelFlags) release(id domain.JobID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.flags, id)
}
