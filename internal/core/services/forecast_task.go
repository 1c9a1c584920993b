package services

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/manthysbr/cropyield/internal/core/domain"
)

// runForecast is the FORECAST handler: resolve the catalog ids, load the
// yield history, run the engine and store the run.
func (l *TaskLifecycle) runForecast(ctx context.Context, exec *Execution) (int64, error) {
	job := exec.Job

	if err := exec.Progress(ctx, 20, domain.StepFetchingHistory); err != nil {
		return 0, err
	}
	region, err := l.deps.Catalog.GetRegion(ctx, job.RegionID)
	if err != nil {
		return 0, err
	}
	crop, err := l.deps.Catalog.GetCrop(ctx, job.CropID)
	if err != nil {
		return 0, err
	}
	model, err := l.deps.Catalog.GetModel(ctx, job.ModelID)
	if err != nil {
		return 0, err
	}
	history, err := l.deps.History.YieldHistory(ctx, job.RegionID, job.CropID, job.HistoryYears)
	if err != nil {
		return 0, errors.Wrap(err, "failed to load yield history")
	}

	if err := exec.Progress(ctx, 60, domain.StepComputingForecast); err != nil {
		return 0, err
	}
	req := domain.EngineRequest{
		ModelCode:       model.Code,
		Frequency:       job.Frequency,
		ForecastPeriods: l.clampPeriods(job.ForecastPeriods),
		History:         history,
		Parameters:      model.Parameters,
	}
	resp, err := l.deps.Engine.RunForecast(ctx, req)
	if err != nil {
		return 0, errors.Wrap(err, "forecast engine failed")
	}
	for _, w := range resp.Warnings {
		exec.Warn(w)
	}
	if len(resp.Warnings) > 0 {
		l.logger.Warn("forecast produced warnings",
			"task_id", job.ID,
			"region", region.Name,
			"crop", crop.Name,
			"history_points", len(history),
			"warnings", resp.Warnings)
	}

	if err := exec.Progress(ctx, 90, domain.StepPersistingResult); err != nil {
		return 0, err
	}
	var metrics domain.EvaluationMetrics
	if resp.Metrics != nil {
		metrics = *resp.Metrics
	}
	runID, err := l.deps.Results.SaveRun(ctx, domain.ForecastRun{
		TaskID:          job.ID,
		RegionID:        job.RegionID,
		CropID:          job.CropID,
		ModelID:         job.ModelID,
		Frequency:       job.Frequency,
		ForecastPeriods: req.ForecastPeriods,
		HistoryYears:    job.HistoryYears,
		EngineRequestID: resp.RequestID,
		EngineSource:    resp.Source,
		History:         history,
		Forecast:        resp.Forecast,
		Metrics:         metrics,
		Warnings:        resp.Warnings,
		CreatedAt:       l.now(),
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to persist forecast result")
	}

	l.logger.Debug("forecast stored",
		"task_id", job.ID,
		"run_id", runID,
		"engine", resp.Source,
		"points", len(resp.Forecast))
	return runID, nil
}
