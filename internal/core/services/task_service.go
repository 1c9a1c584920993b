package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/manthysbr/cropyield/internal/core/domain"
	"github.com/manthysbr/cropyield/internal/core/ports"
)

const maxListLimit = 500

// TaskService is the public contract of the subsystem: submit, poll, cancel.
type TaskService struct {
	logger    *slog.Logger
	jobs      ports.JobRepository
	lifecycle *TaskLifecycle
}

func NewTaskService(logger *slog.Logger, jobs ports.JobRepository, lifecycle *TaskLifecycle) *TaskService {
	return &TaskService{logger: logger, jobs: jobs, lifecycle: lifecycle}
}

// Submit creates a job and starts it right away.
func (s *TaskService) Submit(ctx context.Context, req domain.ForecastRequest) (domain.Job, error) {
	return s.lifecycle.Submit(ctx, req, domain.SubmissionDirect)
}

// Schedule creates a job for the next dispatch sweep.
func (s *TaskService) Schedule(ctx context.Context, req domain.ForecastRequest) (domain.Job, error) {
	return s.lifecycle.Submit(ctx, req, domain.SubmissionScheduled)
}

// GetStatus returns the job projection. It only reads.
func (s *TaskService) GetStatus(ctx context.Context, id domain.JobID) (domain.Job, error) {
	if strings.TrimSpace(string(id)) == "" {
		return domain.Job{}, domain.NewNotFoundError("task", id)
	}
	return s.jobs.GetJob(ctx, id)
}

func (s *TaskService) Cancel(ctx context.Context, id domain.JobID) (domain.CancelOutcome, error) {
	if strings.TrimSpace(string(id)) == "" {
		return domain.CancelOutcome{}, domain.NewNotFoundError("task", id)
	}
	return s.lifecycle.Cancel(ctx, id)
}

func (s *TaskService) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.NewValidationError(domain.FieldProblem{Field: "status", Reason: "is not a known status"})
	}
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.jobs.ListJobs(ctx, filter)
}
