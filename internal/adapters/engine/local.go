package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/manthysbr/cropyield/internal/core/domain"
	"github.com/manthysbr/cropyield/internal/core/ports"
)

const (
	// maxAnchorDistance bounds how far back the first growth anchor may sit.
	maxAnchorDistance = 5
	bandLower         = 0.9
	bandUpper         = 1.1
)

// WarningInsufficientHistory is attached when fewer than two distinct
// periods are available.
const WarningInsufficientHistory = "insufficient data: at least 2 distinct history periods are required"

// LocalEngine extrapolates history with a compound growth rate. It has no
// I/O and never fails.
type LocalEngine struct {
	now func() time.Time
}

var _ ports.ForecastEngine = (*LocalEngine)(nil)

func NewLocalEngine() *LocalEngine {
	return &LocalEngine{now: time.Now}
}

func (e *LocalEngine) RunForecast(_ context.Context, req domain.EngineRequest) (domain.EngineResponse, error) {
	resp := domain.EngineResponse{
		RequestID: fmt.Sprintf("local-%d", e.now().UnixMilli()),
		Source:    domain.EngineSourceLocal,
	}
	points, _, ok := Extrapolate(req.History, req.ForecastPeriods)
	if !ok {
		resp.Forecast = []domain.ForecastPoint{}
		resp.Warnings = []string{WarningInsufficientHistory}
	} else {
		resp.Forecast = points
	}
	metrics := NaiveMetrics(req.History)
	resp.Metrics = &metrics
	return resp, nil
}

// Extrapolate projects periods future values from history. ok is false
// when history has fewer than two distinct periods.
func Extrapolate(history []domain.HistoryPoint, periods int) ([]domain.ForecastPoint, float64, bool) {
	series, kind := normalize(history)
	if len(series) < 2 {
		return nil, 0, false
	}

	last := series[len(series)-1]
	first := series[len(series)-2]
	for _, p := range series[:len(series)-1] {
		if p.t >= last.t-maxAnchorDistance {
			first = p
			break
		}
	}

	g := GrowthRate(first.t, first.value, last.t, last.value)

	out := make([]domain.ForecastPoint, 0, periods)
	value := last.value
	for i := 1; i <= periods; i++ {
		value *= 1 + g
		out = append(out, domain.ForecastPoint{
			Period:     nextLabel(last, kind, i),
			Value:      round2(value),
			LowerBound: round2(value * bandLower),
			UpperBound: round2(value * bandUpper),
		})
	}
	return out, g, true
}

// GrowthRate returns (v1/v0)^(1/(t1-t0)) - 1, or 0 when the anchors do not
// define a rate.
func GrowthRate(t0 int, v0 float64, t1 int, v1 float64) float64 {
	if t1 <= t0 || v0 <= 0 {
		return 0
	}
	ratio := v1 / v0
	if ratio < 0 {
		return 0
	}
	g := math.Pow(ratio, 1/float64(t1-t0)) - 1
	if math.IsNaN(g) || math.IsInf(g, 0) {
		return 0
	}
	return g
}

func nextLabel(last point, kind periodKind, step int) string {
	if kind == kindIndex {
		return fmt.Sprintf("%s+%d", last.label, step)
	}
	return formatPeriod(last.t+step, kind)
}

// NaiveMetrics scores a persistence forecast (each value predicted by its
// predecessor) over the history.
func NaiveMetrics(history []domain.HistoryPoint) domain.EvaluationMetrics {
	if len(history) < 2 {
		return domain.EvaluationMetrics{}
	}
	series, _ := normalize(history)
	if len(series) < 2 {
		return domain.EvaluationMetrics{}
	}

	var sumAbs, sumSq, sumPct, sumActual float64
	n := 0
	for i := 1; i < len(series); i++ {
		actual, prev := series[i].value, series[i-1].value
		e := actual - prev
		sumAbs += math.Abs(e)
		sumSq += e * e
		if actual != 0 {
			sumPct += math.Abs(e / actual)
		}
		sumActual += actual
		n++
	}

	mean := sumActual / float64(n)
	var sst float64
	for i := 1; i < len(series); i++ {
		d := series[i].value - mean
		sst += d * d
	}

	m := domain.EvaluationMetrics{
		MAE:  ptr(round2(sumAbs / float64(n))),
		RMSE: ptr(round2(math.Sqrt(sumSq / float64(n)))),
		MAPE: ptr(round2(sumPct / float64(n) * 100)),
	}
	if sst != 0 {
		m.R2 = ptr(round2(1 - sumSq/math.Max(sst, 1e-9)))
	}
	return m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func ptr(v float64) *float64 { return &v }
