package sqlstore

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/manthysbr/cropyield/internal/core/domain"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS async_forecast_task (
		task_id          VARCHAR(36) PRIMARY KEY,
		status           VARCHAR(16) NOT NULL,
		task_type        VARCHAR(16) NOT NULL,
		submission_mode  VARCHAR(16) NOT NULL,
		model_id         BIGINT NOT NULL,
		crop_id          BIGINT NOT NULL,
		region_id        BIGINT NOT NULL,
		forecast_periods INTEGER NOT NULL,
		history_years    INTEGER NOT NULL,
		frequency        VARCHAR(16) NOT NULL,
		target_year      INTEGER,
		progress         INTEGER NOT NULL DEFAULT 0,
		current_step     VARCHAR(200),
		result_id        BIGINT,
		error_message    TEXT,
		start_time       TIMESTAMP,
		end_time         TIMESTAMP,
		execution_time   BIGINT,
		created_at       TIMESTAMP NOT NULL,
		updated_at       TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS region (
		id   BIGINT PRIMARY KEY,
		name VARCHAR(128) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS crop (
		id   BIGINT PRIMARY KEY,
		name VARCHAR(128) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS forecast_model (
		id         BIGINT PRIMARY KEY,
		name       VARCHAR(128) NOT NULL,
		code       VARCHAR(64) NOT NULL,
		parameters TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS yield_record (
		region_id  BIGINT NOT NULL,
		crop_id    BIGINT NOT NULL,
		yield_year INTEGER NOT NULL,
		value      DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (region_id, crop_id, yield_year)
	)`,
	`CREATE SEQUENCE IF NOT EXISTS forecast_run_seq START 1`,
	`CREATE TABLE IF NOT EXISTS forecast_run (
		id                BIGINT PRIMARY KEY,
		task_id           VARCHAR(36) NOT NULL,
		region_id         BIGINT NOT NULL,
		crop_id           BIGINT NOT NULL,
		model_id          BIGINT NOT NULL,
		frequency         VARCHAR(16) NOT NULL,
		forecast_periods  INTEGER NOT NULL,
		history_years     INTEGER NOT NULL,
		engine_request_id VARCHAR(128),
		engine_source     VARCHAR(16),
		mae               DOUBLE PRECISION,
		rmse              DOUBLE PRECISION,
		mape              DOUBLE PRECISION,
		r2                DOUBLE PRECISION,
		warnings          TEXT,
		created_at        TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS forecast_run_series (
		run_id      BIGINT NOT NULL,
		seq         INTEGER NOT NULL,
		period      VARCHAR(32) NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		lower_bound DOUBLE PRECISION,
		upper_bound DOUBLE PRECISION,
		historical  BOOLEAN NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
}

// Migrate creates every table the service needs. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range append(schema, s.dialect.ExtraSchema...) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "%s: failed to apply schema", s.dialect.Name)
		}
	}
	return nil
}

// SeedDemo inserts the demo catalog and yield history, leaving existing rows alone.
func (s *Store) SeedDemo(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin seed transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range domain.DemoRegions() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO region (id, name) VALUES ($1, $2) ON CONFLICT DO NOTHING`, r.ID, r.Name); err != nil {
			return errors.Wrap(err, "failed to seed region")
		}
	}
	for _, c := range domain.DemoCrops() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO crop (id, name) VALUES ($1, $2) ON CONFLICT DO NOTHING`, c.ID, c.Name); err != nil {
			return errors.Wrap(err, "failed to seed crop")
		}
	}
	for _, m := range domain.DemoModels() {
		params, err := encodeParameters(m.Parameters)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO forecast_model (id, name, code, parameters) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
			m.ID, m.Name, m.Code, params); err != nil {
			return errors.Wrap(err, "failed to seed forecast model")
		}
	}
	for _, y := range domain.DemoYields() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO yield_record (region_id, crop_id, yield_year, value) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
			y.RegionID, y.CropID, y.Year, y.Value); err != nil {
			return errors.Wrap(err, "failed to seed yield record")
		}
	}

	return tx.Commit()
}

func encodeParameters(p map[string]any) (*string, error) {
	if len(p) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode model parameters")
	}
	s := string(b)
	return &s, nil
}
