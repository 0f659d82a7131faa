// Package dbx provides the small database abstractions shared by the
// repositories: the DBTX interface satisfied by both *sql.DB and *sql.Tx,
// a transaction runner, and PostgreSQL error classification.
package dbx

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of database/sql used by the repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx begins a transaction, runs fn with the transactional handle and
// commits when fn succeeds. Errors and panics roll the transaction back;
// panics are rethrown.
//
// Row-level read-modify-write on a feed looks like:
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    feed, err := rm.Feeds(tx).GetForUpdate(ctx, id)
//	    if err != nil {
//	        return err
//	    }
//	    feed.Polling = false
//	    return rm.Feeds(tx).Update(ctx, feed)
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}

const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
