// Package sqlstore implements the job, catalog, history and result
// repositories over database/sql. Statements use $n placeholders and
// ON CONFLICT / RETURNING clauses understood by both DuckDB and PostgreSQL.
package sqlstore

import (
	"database/sql"
	"time"

	"github.com/manthysbr/cropyield/internal/core/ports"
)

// Dialect carries the few behaviours that differ between drivers.
type Dialect struct {
	Name string
	// IsUniqueViolation recognises a primary key or unique constraint error.
	IsUniqueViolation func(error) bool
	// ExtraSchema runs after the portable schema, e.g. secondary indexes.
	ExtraSchema []string
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ ports.Store = (*Store)(nil)

func New(db *sql.DB, dialect Dialect) *Store {
	if dialect.IsUniqueViolation == nil {
		dialect.IsUniqueViolation = func(error) bool { return false }
	}
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() string { return s.dialect.Name }

func (s *Store) Close() error {
	return s.db.Close()
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.UTC(), Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time.UTC()
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
