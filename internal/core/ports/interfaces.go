package ports

import (
	"context"
	"time"

	"github.com/manthysbr/cropyield/internal/core/domain"
)

// JobRepository persists one row per job. Conditional methods report
// whether the row matched so callers can detect lost races.
type JobRepository interface {
	CreateJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id domain.JobID) (domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)

	// ClaimJob binds the caller to the job: RUNNING, start time set,
	// progress 0, step "initializing". Only matches rows that have not
	// started and are PENDING or RUNNING (dispatched).
	ClaimJob(ctx context.Context, id domain.JobID, at time.Time) (bool, error)
	// CompareAndSetStatus moves a row from one status to another.
	CompareAndSetStatus(ctx context.Context, id domain.JobID, from, to domain.JobStatus, step string, at time.Time) (bool, error)
	// UpdateProgress never lowers progress and only touches RUNNING rows.
	UpdateProgress(ctx context.Context, id domain.JobID, progress int, step string, at time.Time) error
	// FinishJob writes the terminal fields of job. It fails with
	// ErrAlreadyTerminal if the stored row is already terminal.
	FinishJob(ctx context.Context, job domain.Job) error
	// CancelIfNotStarted cancels a row no worker has claimed yet.
	CancelIfNotStarted(ctx context.Context, id domain.JobID, at time.Time) (bool, error)
}

// CatalogRepository resolves the opaque ids carried by a job.
type CatalogRepository interface {
	GetRegion(ctx context.Context, id int64) (domain.Region, error)
	GetCrop(ctx context.Context, id int64) (domain.Crop, error)
	GetModel(ctx context.Context, id int64) (domain.ForecastModel, error)
}

type HistoryRepository interface {
	// YieldHistory returns at most years points, oldest first.
	YieldHistory(ctx context.Context, regionID, cropID int64, years int) ([]domain.HistoryPoint, error)
}

type ResultRepository interface {
	// SaveRun stores a forecast run and returns its id.
	SaveRun(ctx context.Context, run domain.ForecastRun) (int64, error)
}

// Store is everything a storage backend provides.
type Store interface {
	JobRepository
	CatalogRepository
	HistoryRepository
	ResultRepository
	Migrate(ctx context.Context) error
	SeedDemo(ctx context.Context) error
	Close() error
}

type ForecastEngine interface {
	RunForecast(ctx context.Context, req domain.EngineRequest) (domain.EngineResponse, error)
}

// Notifier is told about every job that reaches a terminal state.
type Notifier interface {
	NotifyTerminal(ctx context.Context, job domain.Job) error
}
