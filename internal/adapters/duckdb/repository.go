package duckdb

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cockroachdb/errors"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/cropyield/internal/adapters/sqlstore"
)

// NewRepository opens (or creates) the DuckDB file at path and applies the
// schema. An empty path opens an in-memory database.
func NewRepository(ctx context.Context, path string) (*sqlstore.Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open duckdb at %q", path)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to reach duckdb")
	}

	store := sqlstore.New(db, Dialect())
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "duckdb",
		IsUniqueViolation: isUniqueViolation,
	}
}

// The driver exposes constraint failures only through the message text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate key") || strings.Contains(msg, "violates primary key constraint")
}
