package domain

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusPending, JobStatusRunning, true},
		{JobStatusPending, JobStatusCancelled, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusRunning, JobStatusCompleted, true},
		{JobStatusRunning, JobStatusFailed, true},
		{JobStatusRunning, JobStatusCancelled, true},
		{JobStatusRunning, JobStatusPending, false},
		{JobStatusCompleted, JobStatusRunning, false},
		{JobStatusFailed, JobStatusCancelled, false},
		{JobStatusCancelled, JobStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestJobFinish(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)

	job := Job{ID: "t-1", Status: JobStatusRunning, StartTime: &start}
	require.True(t, job.Finish(JobStatusCompleted, StepCompleted, end))

	assert.Equal(t, JobStatusCompleted, job.Status)
	require.NotNil(t, job.ExecutionTime)
	assert.Equal(t, int64(1500), *job.ExecutionTime)
	assert.Equal(t, end, *job.EndTime)

	// terminal rows stay put
	assert.False(t, job.Finish(JobStatusFailed, StepFailed, end.Add(time.Second)))
	assert.Equal(t, JobStatusCompleted, job.Status)
}

func TestJobFinish_NeverStarted(t *testing.T) {
	now := time.Now().UTC()
	job := Job{ID: "t-2", Status: JobStatusPending}

	require.True(t, job.Finish(JobStatusCancelled, StepCancelled, now))
	assert.Nil(t, job.ExecutionTime)
	assert.Equal(t, StepCancelled, job.CurrentStep)
}

func TestNewJob(t *testing.T) {
	now := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	req := ForecastRequest{RegionID: 1, CropID: 2, ModelID: 3, ForecastPeriods: 2, HistoryYears: 5, Frequency: "YEAR"}

	job := NewJob("abc", TaskTypeForecast, SubmissionDirect, req, now)

	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, 2027, job.TargetYear)
	assert.Equal(t, StepWaiting, job.CurrentStep)
	assert.Equal(t, req, job.Request())
}

func TestForecastRequestValidate(t *testing.T) {
	t.Run("valid request normalizes frequency", func(t *testing.T) {
		req := ForecastRequest{RegionID: 1, CropID: 1, ModelID: 1, ForecastPeriods: 1, HistoryYears: 1, Frequency: "yearly"}
		require.NoError(t, req.Validate())
		assert.Equal(t, "YEAR", req.Frequency)
	})

	t.Run("empty frequency defaults to YEAR", func(t *testing.T) {
		req := ForecastRequest{RegionID: 1, CropID: 1, ModelID: 1, ForecastPeriods: 3, HistoryYears: 3}
		require.NoError(t, req.Validate())
		assert.Equal(t, string(DefaultFrequency), req.Frequency)
	})

	t.Run("zero horizon is rejected", func(t *testing.T) {
		req := ForecastRequest{RegionID: 1, CropID: 1, ModelID: 1, ForecastPeriods: 0, HistoryYears: 3}
		err := req.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		require.Len(t, verr.Problems, 1)
		assert.Equal(t, "forecastPeriods", verr.Problems[0].Field)
	})

	t.Run("missing ids are all reported", func(t *testing.T) {
		req := ForecastRequest{ForecastPeriods: 1, HistoryYears: 1, Frequency: "WEEK"}
		err := req.Validate()
		require.Error(t, err)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Len(t, verr.Problems, 4)
		assert.Contains(t, err.Error(), "regionId is required")
	})
}

func TestSafeMessage(t *testing.T) {
	assert.Equal(t, "", SafeMessage(nil))
	assert.Equal(t, "boom", SafeMessage(errors.New("boom\nstack line")))

	long := make([]byte, 800)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, SafeMessage(errors.New(string(long))), maxErrorMessageLen)

	// 'ã' is two bytes, so the limit falls inside one after the leading 'x'
	wide := SafeMessage(errors.New("x" + strings.Repeat("ã", 400)))
	assert.True(t, utf8.ValidString(wide))
	assert.Len(t, wide, maxErrorMessageLen-1)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"colheita", 20, "colheita"},
		{"colheita", 4, "colh"},
		{"produção", 6, "produ"},
		{"produção", 7, "produç"},
		{"ããã", 1, ""},
		{"", 3, ""},
	}
	for _, tt := range tests {
		got := Truncate(tt.in, tt.n)
		assert.Equal(t, tt.want, got, "Truncate(%q, %d)", tt.in, tt.n)
		assert.True(t, utf8.ValidString(got))
	}
}

func TestNotFoundClassification(t *testing.T) {
	err := NewNotFoundError("crop", 7)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "crop not found: 7", err.Error())

	wrapped := errors.Wrapf(ErrJobNotFound, "task %s", "x")
	assert.True(t, errors.Is(wrapped, ErrNotFound))
}
