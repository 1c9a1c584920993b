package domain

import (
	"time"
)

type JobID string

type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is permitted.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

type TaskType string

const (
	TaskTypeForecast TaskType = "FORECAST"
	TaskTypeImport   TaskType = "IMPORT"
	TaskTypeExport   TaskType = "EXPORT"
)

// SubmissionMode records which entry path created the job.
type SubmissionMode string

const (
	// SubmissionDirect jobs are handed to the forecast pool at submit time.
	SubmissionDirect SubmissionMode = "DIRECT"
	// SubmissionScheduled jobs wait in the backlog for the dispatch sweep.
	SubmissionScheduled SubmissionMode = "SCHEDULED"
)

// Phase labels written to Job.CurrentStep.
const (
	StepWaiting               = "waiting"
	StepDispatched            = "dispatched"
	StepInitializing          = "initializing"
	StepFetchingHistory       = "fetching history"
	StepComputingForecast     = "computing forecast"
	StepPersistingResult      = "persisting result"
	StepCompleted             = "completed"
	StepCompletedWithWarnings = "completed with warnings"
	StepFailed                = "failed"
	StepCancelled             = "cancelled"
)

// Job is one forecast execution request plus its tracked lifecycle state.
type Job struct {
	ID              JobID          `json:"taskId"`
	Status          JobStatus      `json:"status"`
	TaskType        TaskType       `json:"taskType"`
	Mode            SubmissionMode `json:"submissionMode"`
	RegionID        int64          `json:"regionId"`
	CropID          int64          `json:"cropId"`
	ModelID         int64          `json:"modelId"`
	ForecastPeriods int            `json:"forecastPeriods"`
	HistoryYears    int            `json:"historyYears"`
	Frequency       string         `json:"frequency"`
	TargetYear      int            `json:"targetYear"`
	Progress        int            `json:"progress"`
	CurrentStep     string         `json:"currentStep"`
	ResultID        *int64         `json:"resultId"`
	ErrorMessage    *string        `json:"errorMessage"`
	StartTime       *time.Time     `json:"startTime"`
	EndTime         *time.Time     `json:"endTime"`
	ExecutionTime   *int64         `json:"executionTime"` // milliseconds
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// NewJob builds a PENDING job for a validated request.
func NewJob(id JobID, taskType TaskType, mode SubmissionMode, req ForecastRequest, now time.Time) Job {
	return Job{
		ID:              id,
		Status:          JobStatusPending,
		TaskType:        taskType,
		Mode:            mode,
		RegionID:        req.RegionID,
		CropID:          req.CropID,
		ModelID:         req.ModelID,
		ForecastPeriods: req.ForecastPeriods,
		HistoryYears:    req.HistoryYears,
		Frequency:       req.Frequency,
		TargetYear:      now.Year() + 1,
		Progress:        0,
		CurrentStep:     StepWaiting,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Request returns the execution inputs carried by the job.
func (j Job) Request() ForecastRequest {
	return ForecastRequest{
		RegionID:        j.RegionID,
		CropID:          j.CropID,
		ModelID:         j.ModelID,
		ForecastPeriods: j.ForecastPeriods,
		HistoryYears:    j.HistoryYears,
		Frequency:       j.Frequency,
	}
}

// Finish moves the job into a terminal status and fills the timing fields.
// It returns false and leaves the job untouched when the transition is not allowed.
func (j *Job) Finish(status JobStatus, step string, at time.Time) bool {
	if !status.IsTerminal() || !CanTransition(j.Status, status) {
		return false
	}
	j.Status = status
	j.CurrentStep = step
	j.EndTime = &at
	j.UpdatedAt = at
	if j.StartTime != nil {
		ms := at.Sub(*j.StartTime).Milliseconds()
		j.ExecutionTime = &ms
	}
	return true
}

// JobFilter narrows ListJobs. Zero values mean "any".
type JobFilter struct {
	Status      JobStatus
	Mode        SubmissionMode
	Limit       int
	OldestFirst bool
}

// QueueMessage is the command the dispatch sweep publishes for a job.
// It carries no mutable state; the job row stays authoritative.
type QueueMessage struct {
	TaskID          JobID     `json:"taskId"`
	TaskType        TaskType  `json:"taskType"`
	RegionID        int64     `json:"regionId"`
	CropID          int64     `json:"cropId"`
	ModelID         int64     `json:"modelId"`
	ForecastPeriods int       `json:"forecastPeriods"`
	HistoryYears    int       `json:"historyYears"`
	Frequency       string    `json:"frequency"`
	EnqueuedAt      time.Time `json:"enqueuedAt"`
}

func NewQueueMessage(j Job, now time.Time) QueueMessage {
	return QueueMessage{
		TaskID:          j.ID,
		TaskType:        j.TaskType,
		RegionID:        j.RegionID,
		CropID:          j.CropID,
		ModelID:         j.ModelID,
		ForecastPeriods: j.ForecastPeriods,
		HistoryYears:    j.HistoryYears,
		Frequency:       j.Frequency,
		EnqueuedAt:      now,
	}
}

// CancelOutcome is what a cancel request reports back to the caller.
type CancelOutcome struct {
	TaskID  JobID     `json:"taskId"`
	Status  JobStatus `json:"status"`
	Changed bool      `json:"changed"`
	Message string    `json:"message"`
}
