// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package sqlite implements storage.Repository on an embedded SQLite
// database using the pure-Go modernc.org/sqlite driver.
//
// # Connections
//
// The database runs in WAL mode so readers do not block the writer. Every
// operation checks a dedicated connection out of a bounded pool; when none
// frees up within the acquire timeout the operation fails with a conflict
// error instead of waiting indefinitely.
//
// # Queries
//
// FindTasks compiles a core.TaskFilter into a single indexed SELECT. Text
// matching uses a registered SQL function, fold, that applies exactly the
// case folding of core.FoldText.
//
// # Transactions
//
// Multi-statement writes (SaveTasks, ReplaceAll) run in one IMMEDIATE
// transaction. A busy database is retried with bounded exponential backoff
// before the operation reports a conflict.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/poiesic/taskvault/core"
	"github.com/poiesic/taskvault/retry"
	"github.com/poiesic/taskvault/storage"
)

// BackendName is the registry name of this backend.
const BackendName = "sqlite"

const (
	driverName = "sqlite"
	memoryPath = ":memory:"

	defaultMaxOpenConns   = 4
	defaultAcquireTimeout = 5 * time.Second
	defaultBusyTimeout    = 5 * time.Second
)

// errPoolExhausted is returned when no connection frees up in time.
var errPoolExhausted = errors.New("connection pool exhausted")

// Option configures a Repository.
type Option func(*Repository)

// WithMaxOpenConns bounds the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.maxOpenConns = n
		}
	}
}

// WithAcquireTimeout sets how long an operation waits for a pooled
// connection.
func WithAcquireTimeout(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.acquireTimeout = d
		}
	}
}

// WithBusyTimeout sets the engine-level wait on a locked database, applied
// to every connection through the busy_timeout pragma.
func WithBusyTimeout(d time.Duration) Option {
	return func(r *Repository) {
		if d >= 0 {
			r.busyTimeout = d
		}
	}
}

// WithRetryPolicy sets the backoff applied to busy errors. The policy's
// Retryable is replaced with a busy check.
func WithRetryPolicy(p retry.Policy) Option {
	return func(r *Repository) {
		if p.MaxAttempts > 0 {
			r.retry = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Repository implements storage.Repository for SQLite.
type Repository struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	closed atomic.Bool

	maxOpenConns   int
	acquireTimeout time.Duration
	busyTimeout    time.Duration
	retry          retry.Policy
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository prepares a repository for the database at path. No
// connection is made until the first operation; call Initialize to create
// the schema. The path ":memory:" selects a private in-memory database
// served by a single connection.
func NewRepository(path string, opts ...Option) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &storage.Error{Kind: storage.ErrConfiguration, Op: "open", Backend: BackendName, Detail: "path is required"}
	}
	if strings.Contains(path, "?") {
		// The driver reads everything after '?' as connection parameters.
		return nil, &storage.Error{Kind: storage.ErrConfiguration, Op: "open", Backend: BackendName, Path: path, Detail: "path must not contain '?'"}
	}
	if err := registerFunctions(); err != nil {
		return nil, &storage.Error{Kind: storage.ErrConfiguration, Op: "open", Backend: BackendName, Detail: err.Error()}
	}

	r := &Repository{
		path:           path,
		logger:         slog.Default().With("component", "sqlite"),
		maxOpenConns:   defaultMaxOpenConns,
		acquireTimeout: defaultAcquireTimeout,
		busyTimeout:    defaultBusyTimeout,
		retry:          retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("path", path)
	if path == memoryPath {
		r.maxOpenConns = 1
	}
	r.retry.Retryable = isBusy
	r.retry.Logger = r.logger

	db, err := sql.Open(driverName, r.dsn())
	if err != nil {
		return nil, &storage.Error{Kind: storage.ErrConfiguration, Op: "open", Backend: BackendName, Path: path, Detail: err.Error()}
	}
	db.SetMaxOpenConns(r.maxOpenConns)
	db.SetMaxIdleConns(r.maxOpenConns)
	if path == memoryPath {
		// The database lives only as long as its connection.
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}
	r.db = db
	return r, nil
}

// Register adds the backend to reg under BackendName.
func Register(reg *storage.Registry, opts ...Option) {
	reg.Register(BackendName, func(path string) (storage.Repository, error) {
		return NewRepository(path, opts...)
	})
}

func (r *Repository) dsn() string {
	params := []string{
		"_pragma=" + fmt.Sprintf("busy_timeout(%d)", r.busyTimeout.Milliseconds()),
		"_pragma=journal_mode(WAL)",
		"_pragma=foreign_keys(1)",
		"_txlock=immediate",
	}
	return r.path + "?" + strings.Join(params, "&")
}

// Path returns the database location.
func (r *Repository) Path() string {
	return r.path
}

// Initialize creates the parent directory and the schema if absent.
func (r *Repository) Initialize(ctx context.Context) error {
	const op = "initialize"
	if r.path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
			return &storage.Error{Kind: storage.ErrConfiguration, Op: op, Backend: BackendName, Path: r.path, Detail: err.Error()}
		}
	}
	return r.withConn(ctx, op, "", func(conn *sql.Conn) error {
		return migrate(ctx, conn)
	})
}

// SaveTask upserts a snapshot.
func (r *Repository) SaveTask(ctx context.Context, snapshot *core.TaskSnapshot) error {
	const op = "save_task"
	if err := storage.ValidateSnapshots(BackendName, op, snapshot); err != nil {
		return err
	}
	return r.withConn(ctx, op, snapshot.ID, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, upsertTaskSQL, rowArgs(snapshot)...)
		return err
	})
}

// SaveTasks upserts snapshots in one transaction.
func (r *Repository) SaveTasks(ctx context.Context, snapshots ...*core.TaskSnapshot) error {
	const op = "save_tasks"
	if err := storage.ValidateSnapshots(BackendName, op, snapshots...); err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return r.withConn(ctx, op, "", func(*sql.Conn) error { return nil })
	}
	return r.withConn(ctx, op, "", func(conn *sql.Conn) error {
		return withTx(ctx, conn, func(tx *sql.Tx) error {
			return insertAll(ctx, tx, snapshots)
		})
	})
}

// ReplaceAll deletes every row and inserts snapshots in one transaction.
func (r *Repository) ReplaceAll(ctx context.Context, snapshots []*core.TaskSnapshot) error {
	const op = "replace_all"
	if err := storage.ValidateSnapshots(BackendName, op, snapshots...); err != nil {
		return err
	}
	return r.withConn(ctx, op, "", func(conn *sql.Conn) error {
		return withTx(ctx, conn, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
				return err
			}
			return insertAll(ctx, tx, snapshots)
		})
	})
}

func insertAll(ctx context.Context, tx *sql.Tx, snapshots []*core.TaskSnapshot) error {
	stmt, err := tx.PrepareContext(ctx, upsertTaskSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range snapshots {
		if _, err := stmt.ExecContext(ctx, rowArgs(s)...); err != nil {
			return err
		}
	}
	return nil
}

// GetTask returns the snapshot stored under id, or nil if there is none.
// A row that does not convert to a valid snapshot is a data error.
func (r *Repository) GetTask(ctx context.Context, id string) (*core.TaskSnapshot, error) {
	const op = "get_task"
	var result *core.TaskSnapshot
	err := r.withConn(ctx, op, id, func(conn *sql.Conn) error {
		var row taskRow
		err := conn.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id).Scan(row.scanArgs()...)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		s, err := row.toDomain()
		if err != nil {
			return r.malformed(op, id, err)
		}
		result = s
		return nil
	})
	return result, err
}

// GetAllTasks returns every well-formed snapshot.
func (r *Repository) GetAllTasks(ctx context.Context) ([]*core.TaskSnapshot, error) {
	return r.query(ctx, "get_all_tasks", core.TaskFilter{})
}

// GetTasksByStatus returns snapshots with the given status.
func (r *Repository) GetTasksByStatus(ctx context.Context, status core.Status) ([]*core.TaskSnapshot, error) {
	return r.query(ctx, "get_tasks_by_status", core.ByStatus(status))
}

// FindTasks returns snapshots matching filter.
func (r *Repository) FindTasks(ctx context.Context, filter core.TaskFilter) ([]*core.TaskSnapshot, error) {
	return r.query(ctx, "find_tasks", filter)
}

func (r *Repository) query(ctx context.Context, op string, filter core.TaskFilter) ([]*core.TaskSnapshot, error) {
	where, args := compileFilter(filter)
	query := `SELECT ` + taskColumns + ` FROM tasks` + where + ` ORDER BY created_at, id`

	var results []*core.TaskSnapshot
	err := r.withConn(ctx, op, "", func(conn *sql.Conn) error {
		results = make([]*core.TaskSnapshot, 0)
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var row taskRow
			if err := rows.Scan(row.scanArgs()...); err != nil {
				return err
			}
			s, err := row.toDomain()
			if err != nil {
				r.skip(op, row.id.String, err)
				continue
			}
			results = append(results, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// DeleteTask removes the row under id and reports whether it existed.
func (r *Repository) DeleteTask(ctx context.Context, id string) (bool, error) {
	const op = "delete_task"
	var deleted bool
	err := r.withConn(ctx, op, id, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// TaskExists reports whether a row is stored under id.
func (r *Repository) TaskExists(ctx context.Context, id string) (bool, error) {
	const op = "task_exists"
	var exists bool
	err := r.withConn(ctx, op, id, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = ?)`, id).Scan(&exists)
	})
	return exists, err
}

// Close closes the connection pool. Closing twice is a no-op.
func (r *Repository) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := r.db.Close(); err != nil {
		return r.translate("close", "", err)
	}
	return nil
}

// withConn runs fn on a pooled connection, retrying busy errors. The
// connection is returned to the pool after every attempt.
func (r *Repository) withConn(ctx context.Context, op, id string, fn func(conn *sql.Conn) error) error {
	if r.closed.Load() {
		return storage.Closed(BackendName, op)
	}
	if err := storage.CheckContext(ctx, BackendName, op); err != nil {
		return err
	}

	err := retry.Do(ctx, r.retry, func() error {
		conn, err := r.acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()
		return fn(conn)
	})
	if err != nil {
		return r.translate(op, id, err)
	}
	return nil
}

// acquire checks a connection out of the pool, waiting at most
// acquireTimeout.
func (r *Repository) acquire(ctx context.Context) (*sql.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()

	conn, err := r.db.Conn(actx)
	if err == nil {
		return conn, nil
	}
	if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		r.logger.Warn("connection pool exhausted", "timeout", r.acquireTimeout, "maxOpenConns", r.maxOpenConns)
		return nil, errPoolExhausted
	}
	return nil, err
}

// withTx runs fn in a transaction on conn, rolling back on any error.
func withTx(ctx context.Context, conn *sql.Conn, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) malformed(op, id string, err error) error {
	return &storage.Error{
		Kind:    storage.ErrData,
		Op:      op,
		Backend: BackendName,
		Path:    r.path,
		ID:      id,
		Detail:  "malformed row: " + err.Error(),
	}
}

func (r *Repository) skip(op, id string, err error) {
	r.logger.Warn("skipping malformed row", "op", op, "id", id, "error", err)
}
