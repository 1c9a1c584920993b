package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/manthysbr/cropyield/internal/core/domain"
	"github.com/manthysbr/cropyield/internal/core/ports"
	"github.com/robfig/cron/v3"
)

const (
	DefaultDispatchSchedule = "@every 30m"
	defaultDispatchBatch    = 100
)

// scheduleParser accepts standard five-field specs, six-field specs with
// seconds ("0 0/30 * * * ?") and descriptors such as "@every 30m".
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// DispatchScheduler periodically moves SCHEDULED backlog jobs onto the Task Queue.
type DispatchScheduler struct {
	logger   *slog.Logger
	jobs     ports.JobRepository
	queue    *TaskQueue
	spec     string
	schedule cron.Schedule
	batch    int
	now      func() time.Time
}

func NewDispatchScheduler(logger *slog.Logger, jobs ports.JobRepository, queue *TaskQueue, cfg domain.DispatchConfig) (*DispatchScheduler, error) {
	spec := cfg.Schedule
	if spec == "" {
		spec = DefaultDispatchSchedule
	}
	schedule, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid dispatch schedule %q", spec)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultDispatchBatch
	}
	return &DispatchScheduler{
		logger:   logger,
		jobs:     jobs,
		queue:    queue,
		spec:     spec,
		schedule: schedule,
		batch:    batch,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run starts the cron loop and blocks until ctx is cancelled. On return no
// sweep is in progress.
func (s *DispatchScheduler) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn)))),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("dispatch sweep skipped", "error", err)
		}
	}))

	s.logger.Info("dispatch scheduler started", "schedule", s.spec, "batch_size", s.batch)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("dispatch scheduler stopped")
	return nil
}

// Sweep publishes every PENDING scheduled job (up to the batch size) and
// marks it RUNNING pending pickup. Jobs already dispatched no longer match
// the status filter, so one sweep publishes each job at most once.
func (s *DispatchScheduler) Sweep(ctx context.Context) (int, error) {
	pending, err := s.jobs.ListJobs(ctx, domain.JobFilter{
		Status:      domain.JobStatusPending,
		Mode:        domain.SubmissionScheduled,
		Limit:       s.batch,
		OldestFirst: true,
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to list pending tasks")
	}
	if len(pending) == 0 {
		return 0, nil
	}

	dispatched := 0
	for _, job := range pending {
		if err := s.queue.Publish(ctx, domain.NewQueueMessage(job, s.now())); err != nil {
			s.logger.Warn("task queue refused message, leaving remaining tasks for next sweep",
				"task_id", job.ID, "error", err)
			break
		}

		// published is dispatched, whether or not the mark below sticks
		dispatched++
		ok, err := s.jobs.CompareAndSetStatus(ctx, job.ID, domain.JobStatusPending, domain.JobStatusRunning, domain.StepDispatched, s.now())
		if err != nil {
			s.logger.Error("failed to mark task dispatched", "task_id", job.ID, "error", err)
			continue
		}
		if !ok {
			// a worker already claimed it or it was cancelled
			s.logger.Debug("task changed during dispatch", "task_id", job.ID)
		}
	}

	s.logger.Info("dispatch sweep finished", "pending", len(pending), "dispatched", dispatched)
	return dispatched, nil
}

// Recover repairs rows left behind by a previous process: direct jobs still
// waiting for a pool and dispatched jobs nobody claimed are published
// again, and jobs that were mid-execution are failed. The stranded set is
// unbounded, so consumers must already be draining the queue; Recover
// returns early with ctx's error if ctx ends while it waits for space.
func (s *DispatchScheduler) Recover(ctx context.Context) (int, error) {
	waiting, err := s.jobs.ListJobs(ctx, domain.JobFilter{
		Status:      domain.JobStatusPending,
		Mode:        domain.SubmissionDirect,
		OldestFirst: true,
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to list waiting tasks")
	}
	running, err := s.jobs.ListJobs(ctx, domain.JobFilter{Status: domain.JobStatusRunning, OldestFirst: true})
	if err != nil {
		return 0, errors.Wrap(err, "failed to list running tasks")
	}

	repaired := 0
	for _, job := range append(waiting, running...) {
		if job.StartTime == nil {
			if err := s.queue.Publish(ctx, domain.NewQueueMessage(job, s.now())); err != nil {
				if ctx.Err() != nil || errors.Is(err, domain.ErrQueueClosed) {
					return repaired, errors.Wrap(err, "recovery interrupted")
				}
				s.logger.Warn("failed to requeue dispatched task", "task_id", job.ID, "error", err)
				continue
			}
			repaired++
			continue
		}

		msg := "interrupted: process stopped before the task finished"
		job.ErrorMessage = &msg
		if !job.Finish(domain.JobStatusFailed, domain.StepFailed, s.now()) {
			continue
		}
		if err := s.jobs.FinishJob(ctx, job); err != nil {
			s.logger.Error("failed to fail interrupted task", "task_id", job.ID, "error", err)
			continue
		}
		repaired++
	}

	if repaired > 0 {
		s.logger.Info("recovered tasks from previous run", "count", repaired)
	}
	return repaired, nil
}
