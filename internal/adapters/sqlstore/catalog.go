package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/manthysbr/cropyield/internal/core/domain"
)

func (s *Store) GetRegion(ctx context.Context, id int64) (domain.Region, error) {
	var r domain.Region
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM region WHERE id = $1`, id).Scan(&r.ID, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Region{}, domain.NewNotFoundError("region", id)
	}
	if err != nil {
		return domain.Region{}, errors.Wrap(err, "failed to load region")
	}
	return r, nil
}

func (s *Store) GetCrop(ctx context.Context, id int64) (domain.Crop, error) {
	var c domain.Crop
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM crop WHERE id = $1`, id).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Crop{}, domain.NewNotFoundError("crop", id)
	}
	if err != nil {
		return domain.Crop{}, errors.Wrap(err, "failed to load crop")
	}
	return c, nil
}

func (s *Store) GetModel(ctx context.Context, id int64) (domain.ForecastModel, error) {
	var (
		m      domain.ForecastModel
		params sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, name, code, parameters FROM forecast_model WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.Code, &params)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ForecastModel{}, domain.NewNotFoundError("forecast model", id)
	}
	if err != nil {
		return domain.ForecastModel{}, errors.Wrap(err, "failed to load forecast model")
	}
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &m.Parameters); err != nil {
			return domain.ForecastModel{}, errors.Wrapf(err, "forecast model %d has malformed parameters", id)
		}
	}
	return m, nil
}

// YieldHistory returns the most recent years of observations, oldest first.
func (s *Store) YieldHistory(ctx context.Context, regionID, cropID int64, years int) ([]domain.HistoryPoint, error) {
	query := `SELECT yield_year, value FROM yield_record
		WHERE region_id = $1 AND crop_id = $2
		ORDER BY yield_year ASC`
	args := []any{regionID, cropID}
	if years > 0 {
		query = `SELECT yield_year, value FROM (
			SELECT yield_year, value FROM yield_record
			WHERE region_id = $1 AND crop_id = $2
			ORDER BY yield_year DESC
			LIMIT $3
		) recent ORDER BY yield_year ASC`
		args = append(args, years)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query yield history")
	}
	defer rows.Close()

	points := make([]domain.HistoryPoint, 0)
	for rows.Next() {
		var (
			year  int
			value float64
		)
		if err := rows.Scan(&year, &value); err != nil {
			return nil, errors.Wrap(err, "failed to scan yield record")
		}
		points = append(points, domain.HistoryPoint{Period: strconv.Itoa(year), Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate yield history")
	}
	return points, nil
}

// SaveRun stores a run header and its series in one transaction and
// returns the run id drawn from forecast_run_seq.
func (s *Store) SaveRun(ctx context.Context, run domain.ForecastRun) (int64, error) {
	warnings, err := json.Marshal(run.Warnings)
	if err != nil {
		return 0, errors.Wrap(err, "failed to encode warnings")
	}

	metrics := run.Metrics

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin result transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, `INSERT INTO forecast_run (
			id, task_id, region_id, crop_id, model_id, frequency, forecast_periods, history_years,
			engine_request_id, engine_source, mae, rmse, mape, r2, warnings, created_at)
		VALUES (nextval('forecast_run_seq'), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		string(run.TaskID), run.RegionID, run.CropID, run.ModelID, run.Frequency,
		run.ForecastPeriods, run.HistoryYears, run.EngineRequestID, string(run.EngineSource),
		nullFloat(metrics.MAE), nullFloat(metrics.RMSE), nullFloat(metrics.MAPE), nullFloat(metrics.R2),
		string(warnings), run.CreatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert forecast run")
	}

	const insertPoint = `INSERT INTO forecast_run_series (run_id, seq, period, value, lower_bound, upper_bound, historical)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	seq := 0
	for _, h := range run.History {
		if _, err := tx.ExecContext(ctx, insertPoint, id, seq, h.Period, h.Value,
			sql.NullFloat64{}, sql.NullFloat64{}, true); err != nil {
			return 0, errors.Wrap(err, "failed to insert history point")
		}
		seq++
	}
	for _, p := range run.Forecast {
		if _, err := tx.ExecContext(ctx, insertPoint, id, seq, p.Period, p.Value,
			p.LowerBound, p.UpperBound, false); err != nil {
			return 0, errors.Wrap(err, "failed to insert forecast point")
		}
		seq++
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit forecast run")
	}
	return id, nil
}
