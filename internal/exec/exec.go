// Package exec runs resolved SQL against a leased connection and shapes the
// database's answer into rows. It offers two modes: materialize everything,
// or stream row by row with a bounded buffer.
package exec

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/LeonAdeoye/query-service/internal/errcode"
	"github.com/LeonAdeoye/query-service/internal/params"
	"github.com/LeonAdeoye/query-service/internal/pool"
	"github.com/LeonAdeoye/query-service/internal/query"
	"github.com/LeonAdeoye/query-service/internal/registry"
)

// Executor binds requests to datasources and executes them.
type Executor struct {
	Registry *registry.Registry
	Pools    *pool.Manager
	Logger   *slog.Logger
}

func New(reg *registry.Registry, pools *pool.Manager, logger *slog.Logger) *Executor {
	return &Executor{Registry: reg, Pools: pools, Logger: logger}
}

// Execute resolves, runs, and fully materializes one query. The connection
// lease is released on every path before returning.
func (e *Executor) Execute(ctx context.Context, req query.Request) (*query.Result, error) {
	desc, err := e.Registry.Resolve(req.DatasourceID)
	if err != nil {
		return nil, err
	}
	sqlText, args, err := params.Resolve(req.SQL, req.Parameters, desc.Vendor)
	if err != nil {
		return nil, err
	}

	lease, err := e.Pools.Acquire(ctx, req.DatasourceID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	started := time.Now()
	rows, err := lease.Conn().QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, e.classify(ctx, req.DatasourceID, err)
	}
	defer rows.Close()

	out, err := scanAll(rows)
	if err != nil {
		return nil, e.classify(ctx, req.DatasourceID, err)
	}
	if err := rows.Err(); err != nil {
		return nil, e.classify(ctx, req.DatasourceID, err)
	}

	e.Logger.DebugContext(ctx, "query executed",
		slog.String("datasource", req.DatasourceID),
		slog.Int("rows", len(out)),
		slog.Duration("elapsed", time.Since(started)))
	return &query.Result{Rows: out, RowCount: len(out)}, nil
}

func (e *Executor) classify(ctx context.Context, datasourceID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errcode.Wrap(errcode.QueryExecutionTimeout, err, "query on %s exceeded its deadline", datasourceID)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if code := errcode.CodeOf(err); code != errcode.Unknown {
		return err
	}
	return errcode.Wrap(errcode.SQLExecutionError, err, "query on %s failed", datasourceID)
}

func scanAll(rows *sql.Rows) ([]query.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []query.Row{}
	for rows.Next() {
		row, err := scanRow(rows, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func scanRow(rows *sql.Rows, cols []string) (query.Row, error) {
	values := make([]any, len(cols))
	targets := make([]any, len(cols))
	for i := range values {
		targets[i] = &values[i]
	}
	if err := rows.Scan(targets...); err != nil {
		return nil, err
	}
	row := make(query.Row, len(cols))
	for i, col := range cols {
		row[col] = normalize(values[i])
	}
	return row, nil
}

// normalize converts driver-specific value shapes into JSON-friendly ones.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}
