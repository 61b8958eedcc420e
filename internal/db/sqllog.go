package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// DefaultSlowStatement is the duration above which a statement is logged at warn.
const DefaultSlowStatement = 250 * time.Millisecond

// tracingConnector opens sqlite3 connections whose statements are logged with
// their arguments and duration.
type tracingConnector struct {
	dsn    string
	slow   time.Duration
	logger *slog.Logger
}

type tracingConn struct {
	driver.Conn
	c *tracingConnector
}

type tracingStmt struct {
	driver.Stmt
	query string
	c     *tracingConnector
}

// NewTracingConnector returns a connector for sql.OpenDB. Every statement is
// logged at debug; statements that fail or take longer than slow are logged
// at warn. A zero slow uses DefaultSlowStatement.
func NewTracingConnector(dsn string, slow time.Duration, logger *slog.Logger) driver.Connector {
	if logger == nil {
		logger = slog.Default()
	}
	if slow <= 0 {
		slow = DefaultSlowStatement
	}
	return &tracingConnector{dsn: dsn, slow: slow, logger: logger.With("component", "sql")}
}

func (c *tracingConnector) Connect(context.Context) (driver.Conn, error) {
	conn, err := (&sqlite3.SQLiteDriver{}).Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &tracingConn{Conn: conn, c: c}, nil
}

func (c *tracingConnector) Driver() driver.Driver { return unsupportedDriver{} }

type unsupportedDriver struct{}

func (unsupportedDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("sqlite3 tracing: open through sql.OpenDB(NewTracingConnector(...))")
}

// The connection deliberately does not implement ExecerContext or
// QueryerContext, so database/sql prepares every statement through it.

func (t *tracingConn) Prepare(query string) (driver.Stmt, error) {
	return t.PrepareContext(context.Background(), query)
}

func (t *tracingConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var (
		stmt driver.Stmt
		err  error
	)
	if p, ok := t.Conn.(driver.ConnPrepareContext); ok {
		stmt, err = p.PrepareContext(ctx, query)
	} else {
		stmt, err = t.Conn.Prepare(query)
	}
	if err != nil {
		t.c.logger.Warn("sql prepare failed", "sql", query, "error", err)
		return nil, err
	}
	return &tracingStmt{Stmt: stmt, query: query, c: t.c}, nil
}

func (t *tracingConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if b, ok := t.Conn.(driver.ConnBeginTx); ok {
		return b.BeginTx(ctx, opts)
	}
	//nolint:staticcheck // SA1019: fallback for connections without BeginTx
	return t.Conn.Begin()
}

func (s *tracingStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	var (
		res driver.Result
		err error
	)
	if e, ok := s.Stmt.(driver.StmtExecContext); ok {
		res, err = e.ExecContext(ctx, args)
	} else {
		//nolint:staticcheck // SA1019: fallback for statements without ExecContext
		res, err = s.Stmt.Exec(values(args))
	}
	s.trace(ctx, "exec", args, time.Since(start), err)
	return res, err
}

func (s *tracingStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	var (
		rows driver.Rows
		err  error
	)
	if q, ok := s.Stmt.(driver.StmtQueryContext); ok {
		rows, err = q.QueryContext(ctx, args)
	} else {
		//nolint:staticcheck // SA1019: fallback for statements without QueryContext
		rows, err = s.Stmt.Query(values(args))
	}
	s.trace(ctx, "query", args, time.Since(start), err)
	return rows, err
}

func (s *tracingStmt) trace(ctx context.Context, op string, args []driver.NamedValue, took time.Duration, err error) {
	level := slog.LevelDebug
	attrs := []any{
		"op", op,
		"sql", s.query,
		"args", formatArgs(args),
		"duration_ms", took.Milliseconds(),
	}
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, "error", err)
	} else if took > s.c.slow {
		level = slog.LevelWarn
		attrs = append(attrs, "slow", true)
	}
	s.c.logger.Log(ctx, level, "sql", attrs...)
}

func values(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

func formatArgs(args []driver.NamedValue) []string {
	out := make([]string, len(args))
	for i, a := range args {
		v := "NULL"
		switch t := a.Value.(type) {
		case nil:
		case []byte:
			v = string(t)
		default:
			v = fmt.Sprint(t)
		}
		if a.Name != "" {
			v = a.Name + "=" + v
		}
		out[i] = v
	}
	return out
}
