// Package query runs caller SQL against the bridge's open database.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/tomyedwab/sqlbridge/sqlbridge/encode"
	"github.com/tomyedwab/sqlbridge/sqlbridge/errs"
)

// Handles supplies the currently open database. *conn.Manager implements
// it.
type Handles interface {
	DB() (*sqlx.DB, error)
}

// Executor runs the three read/write query modes.
type Executor struct {
	handles Handles
	limit   int
	logger  zerolog.Logger
}

// NewExecutor returns an Executor whose array results stop growing once
// they pass limit bytes (<= 0 for no limit).
func NewExecutor(handles Handles, limit int, logger zerolog.Logger) *Executor {
	return &Executor{
		handles: handles,
		limit:   limit,
		logger:  logger.With().Str("component", "query").Logger(),
	}
}

// Scalar returns the first column of the first row, or null when the query
// yields no rows. Later rows are never read.
func (e *Executor) Scalar(ctx context.Context, query string, params []string) (json.RawMessage, error) {
	rows, err := e.run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var v sql.NullString
	if rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return nil, e.fail(err, "Failed to read columns")
		}
		if len(cols) == 0 {
			return encode.Scalar(v), nil
		}
		dest := make([]any, len(cols))
		dest[0] = &v
		for i := 1; i < len(dest); i++ {
			dest[i] = new(sql.RawBytes)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, e.fail(err, "Failed to scan row")
		}
	} else if err := rows.Err(); err != nil {
		return nil, e.fail(err, "Query failed")
	}
	return encode.Scalar(v), nil
}

// Array returns the rows of the query in cursor order, cut short once the
// encoded result passes the executor's limit.
func (e *Executor) Array(ctx context.Context, query string, params []string) (encode.Result, error) {
	rows, err := e.run(ctx, query, params)
	if err != nil {
		return encode.Result{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return encode.Result{}, e.fail(err, "Failed to read columns")
	}
	row := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range row {
		dest[i] = &row[i]
	}

	w := encode.NewRowWriter(e.limit)
	more, truncated := true, false
	for rows.Next() {
		if !more {
			truncated = true
			break
		}
		if err := rows.Scan(dest...); err != nil {
			return encode.Result{}, e.fail(err, "Failed to scan row")
		}
		more = w.WriteRow(row)
	}
	if err := rows.Err(); err != nil {
		return encode.Result{}, e.fail(err, "Error iterating rows")
	}

	res := w.Finish()
	res.Truncated = truncated
	if truncated {
		e.logger.Debug().Int("rows", res.Rows).Int("bytes", len(res.Data)).Msg("Result truncated")
	}
	return res, nil
}

// Batch executes statements in order without parameters or a transaction.
// The first failure stops the batch; earlier statements stay applied.
func (e *Executor) Batch(ctx context.Context, statements []string) error {
	db, err := e.handles.DB()
	if err != nil {
		return err
	}
	for i, stmt := range statements {
		e.logger.Debug().Int("index", i).Str("sql", stmt).Msg("Executing statement")
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return e.fail(err, "Statement failed", func(ev *zerolog.Event) { ev.Int("index", i) })
		}
	}
	return nil
}

func (e *Executor) run(ctx context.Context, query string, params []string) (*sqlx.Rows, error) {
	db, err := e.handles.DB()
	if err != nil {
		return nil, err
	}
	e.logger.Debug().Str("sql", query).Int("params", len(params)).Msg("Running query")

	bind := make([]any, len(params))
	for i, p := range params {
		bind[i] = p
	}
	rows, err := db.QueryxContext(ctx, query, bind...)
	if err != nil {
		return nil, e.fail(err, "Query failed")
	}
	return rows, nil
}

func (e *Executor) fail(err error, msg string, fields ...func(*zerolog.Event)) error {
	ev := e.logger.Warn().Err(err)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		ev = ev.Int("code", int(sqliteErr.Code)).Int("extended_code", int(sqliteErr.ExtendedCode))
	}
	for _, f := range fields {
		f(ev)
	}
	ev.Msg(msg)
	return errs.Engine(err)
}
