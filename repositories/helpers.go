package repositories

import (
	"context"
	"database/sql"
)

// SQLExecutor is the subset of *sql.DB and *sql.Tx the repositories run
// statements through, so multi-statement operations can share a transaction.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
