package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"ngoportal.org/internal/obs"
)

const (
	defaultDriver          = "pgx"
	defaultPoolMin         = 2
	defaultPoolMax         = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnectTimeout  = 10 * time.Second
)

// State is the executor lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "uninitialized"
	}
}

// Config describes the pool. PoolMin maps to idle connections kept open.
type Config struct {
	Driver          string
	DSN             string
	PoolMin         int
	PoolMax         int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	// MockFallback makes a degraded executor answer with canned, Mocked=true
	// results instead of ErrUnavailable.
	MockFallback bool
}

// Row is one result row keyed by lower-cased column name.
type Row map[string]any

// Result is the uniform shape of every executor call. Rows also carries
// RETURNING values for inserts and updates.
type Result struct {
	Columns      []string
	Rows         []Row
	RowsAffected int64
	Mocked       bool
}

// First returns the first row if there is one.
func (r Result) First() (Row, bool) {
	if len(r.Rows) == 0 {
		return nil, false
	}
	return r.Rows[0], true
}

// Querier runs single statements.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (Result, error)
	Exec(ctx context.Context, query string, args ...any) (Result, error)
}

// Runner is a Querier that can also group statements into a transaction.
type Runner interface {
	Querier
	InTx(ctx context.Context, fn func(q Querier) error) error
}

// Opener creates the underlying pool. Tests substitute sqlmock here.
type Opener func(driver, dsn string) (*sql.DB, error)

// Executor owns the connection pool and the ready/degraded flag.
type Executor struct {
	cfg  Config
	log  zerolog.Logger
	open Opener

	mu      sync.RWMutex
	db      *sql.DB
	state   State
	lastErr error

	mockSeq atomic.Int64
}

var _ Runner = (*Executor)(nil)

// Option configures Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Executor) {
		e.log = log
	}
}

// WithOpener overrides how the pool is created.
func WithOpener(open Opener) Option {
	return func(e *Executor) {
		if open != nil {
			e.open = open
		}
	}
}

// New constructs an uninitialized executor. No I/O happens until Open or the
// first query.
func New(cfg Config, opts ...Option) *Executor {
	if cfg.Driver == "" {
		cfg.Driver = defaultDriver
	}
	if cfg.PoolMax <= 0 {
		cfg.PoolMax = defaultPoolMax
	}
	if cfg.PoolMin < 0 {
		cfg.PoolMin = 0
	}
	if cfg.PoolMin == 0 {
		cfg.PoolMin = defaultPoolMin
	}
	if cfg.PoolMin > cfg.PoolMax {
		cfg.PoolMin = cfg.PoolMax
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	e := &Executor{
		cfg:  cfg,
		log:  zerolog.Nop(),
		open: sql.Open,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.mockSeq.Store(1000)
	obs.SetDBState(StateUninitialized.String())
	return e
}

// Open creates the pool and verifies it with a ping. It is also the only way
// out of the degraded state: any existing pool is closed and rebuilt.
func (e *Executor) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openLocked(ctx)
}

func (e *Executor) openLocked(ctx context.Context) error {
	if e.db != nil {
		_ = e.db.Close()
		e.db = nil
	}
	if strings.TrimSpace(e.cfg.DSN) == "" {
		return e.degradeLocked(errors.New("database dsn is not configured"))
	}
	pool, err := e.open(e.cfg.Driver, e.cfg.DSN)
	if err != nil {
		return e.degradeLocked(fmt.Errorf("open pool: %w", err))
	}
	pool.SetMaxOpenConns(e.cfg.PoolMax)
	pool.SetMaxIdleConns(e.cfg.PoolMin)
	pool.SetConnMaxLifetime(e.cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, e.cfg.ConnectTimeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return e.degradeLocked(fmt.Errorf("ping: %w", err))
	}

	e.db = pool
	e.setStateLocked(StateReady, nil)
	e.log.Info().
		Int("pool_min", e.cfg.PoolMin).
		Int("pool_max", e.cfg.PoolMax).
		Msg("database pool ready")
	return nil
}

func (e *Executor) degradeLocked(cause error) error {
	e.setStateLocked(StateDegraded, cause)
	e.log.Warn().Err(cause).Bool("mock_fallback", e.cfg.MockFallback).Msg("database executor degraded")
	return fmt.Errorf("%w: %w", ErrUnavailable, cause)
}

func (e *Executor) setStateLocked(s State, cause error) {
	e.state = s
	e.lastErr = cause
	obs.SetDBState(s.String())
}

// Close releases the pool and returns the executor to the uninitialized state.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.db != nil {
		err = e.db.Close()
		e.db = nil
	}
	e.setStateLocked(StateUninitialized, nil)
	return err
}

// State reports the current lifecycle state.
func (e *Executor) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// LastError returns the failure that caused the degraded state, if any.
func (e *Executor) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// Stats returns pool statistics when a pool exists.
func (e *Executor) Stats() (sql.DBStats, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return sql.DBStats{}, false
	}
	return e.db.Stats(), true
}

// Query runs a statement that returns rows.
func (e *Executor) Query(ctx context.Context, query string, args ...any) (Result, error) {
	start := time.Now()
	pool, err := e.acquire(ctx)
	if err != nil {
		return e.fallback("query", query, start, err)
	}
	res, err := queryRows(ctx, pool, query, args...)
	if err != nil {
		return e.fail("query", query, start, err)
	}
	obs.ObserveQuery("query", "ok", time.Since(start))
	return res, nil
}

// Exec runs a statement that does not return rows.
func (e *Executor) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	start := time.Now()
	pool, err := e.acquire(ctx)
	if err != nil {
		return e.fallback("exec", query, start, err)
	}
	res, err := execStatement(ctx, pool, query, args...)
	if err != nil {
		return e.fail("exec", query, start, err)
	}
	obs.ObserveQuery("exec", "ok", time.Since(start))
	return res, nil
}

// InTx runs fn inside a transaction: commit when fn returns nil, roll back on
// error or panic. Transactions never run against mock data.
func (e *Executor) InTx(ctx context.Context, fn func(q Querier) error) (err error) {
	start := time.Now()
	pool, err := e.acquire(ctx)
	if err != nil {
		obs.ObserveQuery("tx", "unavailable", time.Since(start))
		return err
	}
	tx, err := pool.BeginTx(ctx, nil)
	if err != nil {
		return e.classify("tx", start, fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&txQuerier{tx: tx, e: e}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return e.classify("tx", start, fmt.Errorf("commit: %w", err))
	}
	obs.ObserveQuery("tx", "ok", time.Since(start))
	return nil
}

func (e *Executor) acquire(ctx context.Context) (*sql.DB, error) {
	e.mu.RLock()
	state, pool := e.state, e.db
	e.mu.RUnlock()
	switch state {
	case StateReady:
		return pool, nil
	case StateDegraded:
		return nil, ErrUnavailable
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateUninitialized {
		if err := e.openLocked(ctx); err != nil {
			return nil, err
		}
	}
	if e.state != StateReady {
		return nil, ErrUnavailable
	}
	return e.db, nil
}

// fallback answers a call that could not reach the database.
func (e *Executor) fallback(op, query string, start time.Time, cause error) (Result, error) {
	if e.cfg.MockFallback {
		obs.ObserveQuery(op, "mock", time.Since(start))
		e.log.Debug().Str("op", op).Str("sql", abbreviate(query)).Msg("serving mock result")
		return e.mockResult(query), nil
	}
	obs.ObserveQuery(op, "unavailable", time.Since(start))
	return Result{}, cause
}

func (e *Executor) fail(op, query string, start time.Time, err error) (Result, error) {
	if isPoolClosed(err) {
		return e.fallback(op, query, start, fmt.Errorf("%w: %w", ErrUnavailable, err))
	}
	if isConnectivityError(err) {
		e.markDegraded(err)
		return e.fallback(op, query, start, fmt.Errorf("%w: %w", ErrUnavailable, err))
	}
	obs.ObserveQuery(op, "error", time.Since(start))
	e.log.Debug().Err(err).Str("op", op).Str("sql", abbreviate(query)).Msg("statement failed")
	return Result{}, fmt.Errorf("db: %s: %w", op, err)
}

func (e *Executor) classify(op string, start time.Time, err error) error {
	if isPoolClosed(err) {
		obs.ObserveQuery(op, "unavailable", time.Since(start))
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if isConnectivityError(err) {
		e.markDegraded(err)
		obs.ObserveQuery(op, "unavailable", time.Since(start))
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	obs.ObserveQuery(op, "error", time.Since(start))
	return fmt.Errorf("db: %s: %w", op, err)
}

func (e *Executor) markDegraded(cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateDegraded {
		return
	}
	e.setStateLocked(StateDegraded, cause)
	e.log.Error().Err(cause).Msg("lost database connectivity; executor degraded until reconnect")
}

type txQuerier struct {
	tx *sql.Tx
	e  *Executor
}

func (q *txQuerier) Query(ctx context.Context, query string, args ...any) (Result, error) {
	start := time.Now()
	res, err := queryRows(ctx, q.tx, query, args...)
	if err != nil {
		return Result{}, q.e.classify("tx_query", start, err)
	}
	obs.ObserveQuery("tx_query", "ok", time.Since(start))
	return res, nil
}

func (q *txQuerier) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	start := time.Now()
	res, err := execStatement(ctx, q.tx, query, args...)
	if err != nil {
		return Result{}, q.e.classify("tx_exec", start, err)
	}
	obs.ObserveQuery("tx_exec", "ok", time.Since(start))
	return res, nil
}

type sqlRunner interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func queryRows(ctx context.Context, q sqlRunner, query string, args ...any) (Result, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}
	res := Result{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[strings.ToLower(col)] = v
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	return res, nil
}

func execStatement(ctx context.Context, q sqlRunner, query string, args ...any) (Result, error) {
	out, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	n, err := out.RowsAffected()
	if err != nil {
		return Result{}, err
	}
	return Result{RowsAffected: n}, nil
}

func abbreviate(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	if len(query) > 100 {
		return query[:100] + "..."
	}
	return query
}
