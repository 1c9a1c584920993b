package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/manthysbr/cropyield/internal/core/domain"
)

const jobColumns = `task_id, status, task_type, submission_mode, model_id, crop_id, region_id,
	forecast_periods, history_years, frequency, target_year, progress, current_step,
	result_id, error_message, start_time, end_time, execution_time, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var (
		job                                   domain.Job
		id, status, taskType, mode, frequency string
		targetYear, resultID, execTime        sql.NullInt64
		step, errMsg                          sql.NullString
		start, end                            sql.NullTime
	)
	err := row.Scan(&id, &status, &taskType, &mode, &job.ModelID, &job.CropID, &job.RegionID,
		&job.ForecastPeriods, &job.HistoryYears, &frequency, &targetYear, &job.Progress, &step,
		&resultID, &errMsg, &start, &end, &execTime, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return domain.Job{}, err
	}

	job.ID = domain.JobID(id)
	job.Status = domain.JobStatus(status)
	job.TaskType = domain.TaskType(taskType)
	job.Mode = domain.SubmissionMode(mode)
	job.Frequency = frequency
	if targetYear.Valid {
		job.TargetYear = int(targetYear.Int64)
	}
	job.CurrentStep = step.String
	job.ResultID = int64Ptr(resultID)
	job.ErrorMessage = stringPtr(errMsg)
	job.StartTime = timePtr(start)
	job.EndTime = timePtr(end)
	job.ExecutionTime = int64Ptr(execTime)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return job, nil
}

func (s *Store) CreateJob(ctx context.Context, job domain.Job) error {
	query := `INSERT INTO async_forecast_task (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err := s.db.ExecContext(ctx, query,
		string(job.ID), string(job.Status), string(job.TaskType), string(job.Mode),
		job.ModelID, job.CropID, job.RegionID,
		job.ForecastPeriods, job.HistoryYears, job.Frequency, job.TargetYear,
		job.Progress, job.CurrentStep,
		nullInt64(job.ResultID), nullString(job.ErrorMessage),
		nullTime(job.StartTime), nullTime(job.EndTime), nullInt64(job.ExecutionTime),
		job.CreatedAt.UTC(), job.UpdatedAt.UTC(),
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return errors.Wrapf(domain.ErrDuplicateTask, "task %s", job.ID)
		}
		return errors.Wrap(err, "failed to insert task")
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id domain.JobID) (domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM async_forecast_task WHERE task_id = $1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, errors.Wrapf(domain.ErrJobNotFound, "task %s", id)
	}
	if err != nil {
		return domain.Job{}, errors.Wrap(err, "failed to load task")
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Mode != "" {
		args = append(args, string(filter.Mode))
		where = append(where, fmt.Sprintf("submission_mode = $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + jobColumns + ` FROM async_forecast_task`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if filter.OldestFirst {
		b.WriteString(" ORDER BY created_at ASC, task_id ASC")
	} else {
		b.WriteString(" ORDER BY created_at DESC, task_id ASC")
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate tasks")
	}
	return jobs, nil
}

func (s *Store) exec(ctx context.Context, what, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to %s", what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to %s", what)
	}
	return n, nil
}

// ClaimJob marks a job started. The WHERE clause is the exactly-once guard:
// only one caller ever sees a row with start_time still unset.
func (s *Store) ClaimJob(ctx context.Context, id domain.JobID, at time.Time) (bool, error) {
	n, err := s.exec(ctx, "claim task", `UPDATE async_forecast_task
		SET status = $2, start_time = $3, progress = 0, current_step = $4, updated_at = $3
		WHERE task_id = $1 AND start_time IS NULL AND status IN ($5, $2)`,
		string(id), string(domain.JobStatusRunning), at.UTC(), domain.StepInitializing, string(domain.JobStatusPending))
	return n > 0, err
}

func (s *Store) CompareAndSetStatus(ctx context.Context, id domain.JobID, from, to domain.JobStatus, step string, at time.Time) (bool, error) {
	n, err := s.exec(ctx, "update task status", `UPDATE async_forecast_task
		SET status = $3, current_step = $4, updated_at = $5
		WHERE task_id = $1 AND status = $2`,
		string(id), string(from), string(to), step, at.UTC())
	return n > 0, err
}

func (s *Store) UpdateProgress(ctx context.Context, id domain.JobID, progress int, step string, at time.Time) error {
	_, err := s.exec(ctx, "update task progress", `UPDATE async_forecast_task
		SET progress = $2, current_step = $3, updated_at = $4
		WHERE task_id = $1 AND status = $5 AND progress <= $2`,
		string(id), progress, step, at.UTC(), string(domain.JobStatusRunning))
	return err
}

// FinishJob writes the terminal outcome. A row that is already terminal is
// left untouched and reported as ErrAlreadyTerminal.
func (s *Store) FinishJob(ctx context.Context, job domain.Job) error {
	n, err := s.exec(ctx, "finish task", `UPDATE async_forecast_task
		SET status = $2, progress = $3, current_step = $4, result_id = $5, error_message = $6,
			end_time = $7, execution_time = $8, updated_at = $9
		WHERE task_id = $1 AND status NOT IN ($10, $11, $12)`,
		string(job.ID), string(job.Status), job.Progress, job.CurrentStep,
		nullInt64(job.ResultID), nullString(job.ErrorMessage),
		nullTime(job.EndTime), nullInt64(job.ExecutionTime), job.UpdatedAt.UTC(),
		string(domain.JobStatusCompleted), string(domain.JobStatusFailed), string(domain.JobStatusCancelled))
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	stored, err := s.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	return errors.Wrapf(domain.ErrAlreadyTerminal, "task %s is %s", job.ID, stored.Status)
}

func (s *Store) CancelIfNotStarted(ctx context.Context, id domain.JobID, at time.Time) (bool, error) {
	n, err := s.exec(ctx, "cancel task", `UPDATE async_forecast_task
		SET status = $2, current_step = $3, end_time = $4, updated_at = $4
		WHERE task_id = $1 AND start_time IS NULL AND status IN ($5, $6)`,
		string(id), string(domain.JobStatusCancelled), domain.StepCancelled, at.UTC(),
		string(domain.JobStatusPending), string(domain.JobStatusRunning))
	return n > 0, err
}
