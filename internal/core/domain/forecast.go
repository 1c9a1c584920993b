package domain

import (
	"strings"
	"time"
)

type Frequency string

const (
	FrequencyYear    Frequency = "YEAR"
	FrequencyQuarter Frequency = "QUARTER"
	FrequencyMonth   Frequency = "MONTH"
)

// DefaultFrequency is applied when a request leaves frequency empty.
const DefaultFrequency = FrequencyYear

// ParseFrequency accepts the canonical names and the "-LY" spellings.
func ParseFrequency(s string) (Frequency, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "YEAR", "YEARLY", "ANNUAL":
		return FrequencyYear, true
	case "QUARTER", "QUARTERLY":
		return FrequencyQuarter, true
	case "MONTH", "MONTHLY":
		return FrequencyMonth, true
	}
	return "", false
}

// ForecastRequest is the caller-supplied input of a forecast job.
type ForecastRequest struct {
	RegionID        int64  `json:"regionId"`
	CropID          int64  `json:"cropId"`
	ModelID         int64  `json:"modelId"`
	ForecastPeriods int    `json:"forecastPeriods"`
	HistoryYears    int    `json:"historyYears"`
	Frequency       string `json:"frequency,omitempty"`
}

// Validate checks the request and normalizes Frequency in place.
func (r *ForecastRequest) Validate() error {
	var problems []FieldProblem
	if r.RegionID <= 0 {
		problems = append(problems, FieldProblem{Field: "regionId", Reason: "is required"})
	}
	if r.CropID <= 0 {
		problems = append(problems, FieldProblem{Field: "cropId", Reason: "is required"})
	}
	if r.ModelID <= 0 {
		problems = append(problems, FieldProblem{Field: "modelId", Reason: "is required"})
	}
	if r.ForecastPeriods < 1 {
		problems = append(problems, FieldProblem{Field: "forecastPeriods", Reason: "must be >= 1"})
	}
	if r.HistoryYears < 1 {
		problems = append(problems, FieldProblem{Field: "historyYears", Reason: "must be >= 1"})
	}
	freq, ok := ParseFrequency(r.Frequency)
	if !ok {
		problems = append(problems, FieldProblem{Field: "frequency", Reason: "must be one of YEAR, QUARTER, MONTH"})
	}
	if len(problems) > 0 {
		return NewValidationError(problems...)
	}
	r.Frequency = string(freq)
	return nil
}

type Region struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Crop struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ForecastModel is a catalog entry; Code is what the engine keys on.
type ForecastModel struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Code       string         `json:"code"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type HistoryPoint struct {
	Period   string             `json:"period"`
	Value    float64            `json:"value"`
	Features map[string]float64 `json:"features,omitempty"`
}

// EngineRequest is the outbound payload sent to a forecast engine.
type EngineRequest struct {
	ModelCode       string         `json:"modelCode"`
	Frequency       string         `json:"frequency"`
	ForecastPeriods int            `json:"forecastPeriods"`
	History         []HistoryPoint `json:"history"`
	Parameters      map[string]any `json:"parameters,omitempty"`
}

type ForecastPoint struct {
	Period     string  `json:"period"`
	Value      float64 `json:"value"`
	LowerBound float64 `json:"lowerBound"`
	UpperBound float64 `json:"upperBound"`
}

// EvaluationMetrics holds accuracy metrics. Nil means undefined.
type EvaluationMetrics struct {
	MAE  *float64 `json:"mae"`
	RMSE *float64 `json:"rmse"`
	MAPE *float64 `json:"mape"`
	R2   *float64 `json:"r2"`
}

// EngineSource tells which engine produced a response.
type EngineSource string

const (
	EngineSourceRemote EngineSource = "remote"
	EngineSourceLocal  EngineSource = "local"
)

// EngineResponse has the same shape whichever engine produced it.
type EngineResponse struct {
	RequestID string             `json:"requestId"`
	Forecast  []ForecastPoint    `json:"forecast"`
	Metrics   *EvaluationMetrics `json:"metrics"`
	Warnings  []string           `json:"warnings,omitempty"`
	Source    EngineSource       `json:"-"`
}

// ForecastRun is what the result store persists for a completed job.
type ForecastRun struct {
	TaskID          JobID
	RegionID        int64
	CropID          int64
	ModelID         int64
	Frequency       string
	ForecastPeriods int
	HistoryYears    int
	EngineRequestID string
	EngineSource    EngineSource
	History         []HistoryPoint
	Forecast        []ForecastPoint
	Metrics         EvaluationMetrics
	Warnings        []string
	CreatedAt       time.Time
}
