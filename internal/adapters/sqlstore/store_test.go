package sqlstore

import (
	"context"
	"database/sql/driver"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/manthysbr/cropyield/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnique = errors.New("duplicate key value violates unique constraint")

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := New(db, Dialect{
		Name:              "mock",
		IsUniqueViolation: func(err error) bool { return errors.Is(err, errUnique) },
	})
	return store, mock
}

func jobColumnNames() []string {
	cols := strings.Split(jobColumns, ",")
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	return cols
}

func jobRow(id string, status domain.JobStatus, created time.Time) []driver.Value {
	return []driver.Value{
		id, string(status), "FORECAST", "DIRECT", int64(1), int64(1), int64(1),
		int64(3), int64(5), "YEAR", int64(2027), int64(0), domain.StepWaiting,
		nil, nil, nil, nil, nil, created, created,
	}
}

func TestCreateJob(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := domain.NewJob("t-1", domain.TaskTypeForecast, domain.SubmissionDirect,
		domain.ForecastRequest{RegionID: 1, CropID: 2, ModelID: 3, ForecastPeriods: 3, HistoryYears: 5, Frequency: "YEAR"}, now)

	mock.ExpectExec("INSERT INTO async_forecast_task").
		WithArgs("t-1", "PENDING", "FORECAST", "DIRECT", 3, 2, 1, 3, 5, "YEAR", 2027, 0, domain.StepWaiting,
			nil, nil, nil, nil, nil, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJob_Duplicate(t *testing.T) {
	store, mock := newMockStore(t)
	job := domain.NewJob("t-1", domain.TaskTypeForecast, domain.SubmissionDirect,
		domain.ForecastRequest{RegionID: 1, CropID: 1, ModelID: 1, ForecastPeriods: 1, HistoryYears: 1}, time.Now())

	mock.ExpectExec("INSERT INTO async_forecast_task").WillReturnError(errUnique)

	err := store.CreateJob(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateTask))
}

func TestGetJob(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	row := jobRow("t-9", domain.JobStatusCompleted, created)
	row[11] = int64(100)
	row[13] = int64(42)
	row[15] = created.Add(time.Second)
	row[16] = created.Add(3 * time.Second)
	row[17] = int64(2000)

	mock.ExpectQuery("SELECT (.+) FROM async_forecast_task WHERE task_id").
		WithArgs("t-9").
		WillReturnRows(sqlmock.NewRows(jobColumnNames()).AddRow(row...))

	job, err := store.GetJob(context.Background(), "t-9")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, domain.SubmissionDirect, job.Mode)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.ResultID)
	assert.Equal(t, int64(42), *job.ResultID)
	assert.Nil(t, job.ErrorMessage)
	require.NotNil(t, job.ExecutionTime)
	assert.Equal(t, int64(2000), *job.ExecutionTime)
	require.NotNil(t, job.StartTime)
	assert.True(t, job.StartTime.Equal(created.Add(time.Second)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJob_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM async_forecast_task").
		WillReturnRows(sqlmock.NewRows(jobColumnNames()))

	_, err := store.GetJob(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestListJobs_Filters(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`WHERE status = \$1 AND submission_mode = \$2 ORDER BY created_at ASC, task_id ASC LIMIT \$3`).
		WithArgs("PENDING", "SCHEDULED", 10).
		WillReturnRows(sqlmock.NewRows(jobColumnNames()).
			AddRow(jobRow("a", domain.JobStatusPending, now)...).
			AddRow(jobRow("b", domain.JobStatusPending, now.Add(time.Second))...))

	jobs, err := store.ListJobs(context.Background(), domain.JobFilter{
		Status:      domain.JobStatusPending,
		Mode:        domain.SubmissionScheduled,
		Limit:       10,
		OldestFirst: true,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, domain.JobID("a"), jobs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobs_Unfiltered(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM async_forecast_task ORDER BY created_at DESC`).
		WillReturnRows(sqlmock.NewRows(jobColumnNames()))

	jobs, err := store.ListJobs(context.Background(), domain.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.NotNil(t, jobs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJob(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE async_forecast_task\s+SET status = \$2, start_time = \$3`).
		WithArgs("t-1", "RUNNING", at, domain.StepInitializing, "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE async_forecast_task\s+SET status = \$2, start_time = \$3`).
		WithArgs("t-1", "RUNNING", at, domain.StepInitializing, "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := store.ClaimJob(context.Background(), "t-1", at)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.ClaimJob(context.Background(), "t-1", at)
	require.NoError(t, err)
	assert.False(t, second, "a claimed row must not be claimed twice")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSetStatus(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectExec(`WHERE task_id = \$1 AND status = \$2`).
		WithArgs("t-1", "PENDING", "RUNNING", domain.StepDispatched, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.CompareAndSetStatus(context.Background(), "t-1",
		domain.JobStatusPending, domain.JobStatusRunning, domain.StepDispatched, at)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgress_Error(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE async_forecast_task").WillReturnError(errors.New("connection reset"))

	err := store.UpdateProgress(context.Background(), "t-1", 20, domain.StepFetchingHistory, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to update task progress")
}

func TestFinishJob_AlreadyTerminal(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`WHERE task_id = \$1 AND status NOT IN`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM async_forecast_task").
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows(jobColumnNames()).AddRow(jobRow("t-1", domain.JobStatusCancelled, now)...))

	job := domain.Job{ID: "t-1", Status: domain.JobStatusCompleted, UpdatedAt: now}
	err := store.FinishJob(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAlreadyTerminal))
	assert.Contains(t, err.Error(), "CANCELLED")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelIfNotStarted(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectExec(`SET status = \$2, current_step = \$3, end_time = \$4`).
		WithArgs("t-1", "CANCELLED", domain.StepCancelled, at, "PENDING", "RUNNING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.CancelIfNotStarted(context.Background(), "t-1", at)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetModel_Parameters(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, name, code, parameters FROM forecast_model").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "code", "parameters"}).
			AddRow(int64(2), "ARIMA", "ARIMA", `{"p":1,"d":1,"q":1}`))

	m, err := store.GetModel(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "ARIMA", m.Code)
	assert.Equal(t, float64(1), m.Parameters["p"])
}

func TestGetRegion_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, name FROM region").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	_, err := store.GetRegion(context.Background(), 77)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Equal(t, "region not found: 77", err.Error())
}

func TestYieldHistory(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`LIMIT \$3\s+\) recent ORDER BY yield_year ASC`).
		WithArgs(1, 1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"yield_year", "value"}).
			AddRow(int64(2020), 110.0).
			AddRow(int64(2021), 121.0))

	points, err := store.YieldHistory(context.Background(), 1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []domain.HistoryPoint{{Period: "2020", Value: 110}, {Period: "2021", Value: 121}}, points)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRun(t *testing.T) {
	store, mock := newMockStore(t)
	mae := 1.5

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO forecast_run \(`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("INSERT INTO forecast_run_series").
		WithArgs(int64(7), 0, "2021", 121.0, nil, nil, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO forecast_run_series").
		WithArgs(int64(7), 1, "2022", 133.1, 119.79, 146.41, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := store.SaveRun(context.Background(), domain.ForecastRun{
		TaskID:       "t-1",
		Frequency:    "YEAR",
		EngineSource: domain.EngineSourceLocal,
		History:      []domain.HistoryPoint{{Period: "2021", Value: 121}},
		Forecast:     []domain.ForecastPoint{{Period: "2022", Value: 133.1, LowerBound: 119.79, UpperBound: 146.41}},
		Metrics:      domain.EvaluationMetrics{MAE: &mae},
		CreatedAt:    time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRun_RollsBackOnSeriesError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO forecast_run \(`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))
	mock.ExpectExec("INSERT INTO forecast_run_series").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.SaveRun(context.Background(), domain.ForecastRun{
		TaskID:   "t-1",
		Forecast: []domain.ForecastPoint{{Period: "2022", Value: 1}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert forecast point")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db, Dialect{Name: "mock", ExtraSchema: []string{"CREATE INDEX IF NOT EXISTS idx ON t (c)"}})
	for range len(schema) + 1 {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
