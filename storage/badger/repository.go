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


package badger

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/taskvault/core"
	"github.com/poiesic/taskvault/retry"
	"github.com/poiesic/taskvault/storage"
)

// BackendName is the registry name of this backend.
const BackendName = "badger"

// Option configures a Repository.
type Option func(*Repository)

// WithInMemory keeps all data in memory; the path is ignored.
func WithInMemory(inMemory bool) Option {
	return func(r *Repository) {
		r.inMemory = inMemory
	}
}

// WithBackendOptions passes options through to OpenBackend.
func WithBackendOptions(opts ...BackendOption) Option {
	return func(r *Repository) {
		r.backendOpts = append(r.backendOpts, opts...)
	}
}

// WithRetryPolicy sets the backoff applied to transaction conflicts.
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

// Repository implements storage.Repository for BadgerDB.
// The database is opened on first use.
type Repository struct {
	mu      sync.Mutex
	backend *Backend
	closed  bool

	path        string
	inMemory    bool
	backendOpts []BackendOption
	retry       retry.Policy
	logger      *slog.Logger
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository prepares a repository for the database directory at path.
func NewRepository(path string, opts ...Option) (*Repository, error) {
	r := &Repository{
		path:   path,
		retry:  retry.DefaultPolicy(),
		logger: slog.Default().With("component", "badger"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if !r.inMemory && strings.TrimSpace(path) == "" {
		return nil, &storage.Error{Kind: storage.ErrConfiguration, Op: "open", Backend: BackendName, Detail: "path is required"}
	}
	r.logger = r.logger.With("path", path)
	r.retry.Retryable = func(err error) bool { return errors.Is(err, badger.ErrConflict) }
	r.retry.Logger = r.logger
	return r, nil
}

// Register adds the backend to reg under BackendName.
func Register(reg *storage.Registry, opts ...Option) {
	reg.Register(BackendName, func(path string) (storage.Repository, error) {
		return NewRepository(path, opts...)
	})
}

// open returns the backend, opening the database on first use.
func (r *Repository) open(ctx context.Context, op string) (*Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, storage.Closed(BackendName, op)
	}
	if err := storage.CheckContext(ctx, BackendName, op); err != nil {
		return nil, err
	}
	if r.backend != nil {
		return r.backend, nil
	}

	backend, err := OpenBackend(r.path, r.inMemory, r.logger, r.backendOpts...)
	if err != nil {
		kind := storage.ErrConfiguration
		if strings.Contains(err.Error(), "Cannot acquire directory lock") {
			kind = storage.ErrConflict
		}
		return nil, &storage.Error{Kind: kind, Op: op, Backend: BackendName, Path: r.path, Detail: err.Error()}
	}
	r.backend = backend
	return backend, nil
}

// Initialize opens the database, creating the directory when absent.
func (r *Repository) Initialize(ctx context.Context) error {
	_, err := r.open(ctx, "initialize")
	return err
}

// SaveTask upserts a snapshot.
func (r *Repository) SaveTask(ctx context.Context, snapshot *core.TaskSnapshot) error {
	const op = "save_task"
	if err := storage.ValidateSnapshots(BackendName, op, snapshot); err != nil {
		return err
	}
	return r.update(ctx, op, snapshot.ID, func(tx *badger.Txn) error {
		return putTask(tx, snapshot)
	})
}

// SaveTasks upserts snapshots in one transaction.
func (r *Repository) SaveTasks(ctx context.Context, snapshots ...*core.TaskSnapshot) error {
	const op = "save_tasks"
	if err := storage.ValidateSnapshots(BackendName, op, snapshots...); err != nil {
		return err
	}
	return r.update(ctx, op, "", func(tx *badger.Txn) error {
		for _, s := range snapshots {
			if err := putTask(tx, s); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceAll deletes every key and writes snapshots in one transaction.
func (r *Repository) ReplaceAll(ctx context.Context, snapshots []*core.TaskSnapshot) error {
	const op = "replace_all"
	if err := storage.ValidateSnapshots(BackendName, op, snapshots...); err != nil {
		return err
	}
	return r.update(ctx, op, "", func(tx *badger.Txn) error {
		for _, prefix := range []string{taskPrefix, statusIndexPrefix} {
			var keys [][]byte
			err := scanKeys(tx, []byte(prefix), func(key []byte) error {
				keys = append(keys, key)
				return nil
			})
			if err != nil {
				return err
			}
			for _, key := range keys {
				if err := tx.Delete(key); err != nil {
					return err
				}
			}
		}
		for _, s := range snapshots {
			if err := putTask(tx, s); err != nil {
				return err
			}
		}
		return nil
	})
}

// putTask writes the snapshot and points the status index at it. Index
// entries under other statuses are removed without reading the old value,
// so a damaged old value cannot block the write.
func putTask(tx *badger.Txn, s *core.TaskSnapshot) error {
	if err := tx.Set(makeTaskKey(s.ID), storage.MarshalSnapshot(s)); err != nil {
		return err
	}
	for _, status := range core.Statuses() {
		if status == s.Status {
			continue
		}
		if err := tx.Delete(makeStatusKey(status, s.ID)); err != nil {
			return err
		}
	}
	return tx.Set(makeStatusKey(s.Status, s.ID), nil)
}

// GetTask returns the snapshot stored under id, or nil if there is none.
// A value that does not decode to a valid snapshot is a data error.
func (r *Repository) GetTask(ctx context.Context, id string) (*core.TaskSnapshot, error) {
	const op = "get_task"
	var result *core.TaskSnapshot
	err := r.view(ctx, op, id, func(tx *badger.Txn) error {
		s, err := readTask(tx, id)
		if err != nil || s == nil {
			return err
		}
		if err := core.ValidateSnapshot(s); err != nil {
			return errMalformed{err}
		}
		result = s
		return nil
	})
	var me errMalformed
	if errors.As(err, &me) {
		return nil, r.malformed(op, id, me.err)
	}
	return result, err
}

// errMalformed marks a stored value that cannot be returned.
type errMalformed struct {
	err error
}

func (e errMalformed) Error() string { return e.err.Error() }

// readTask loads and decodes the value under id. It returns nil, nil when
// the key is absent and errMalformed when the value does not decode.
func readTask(tx *badger.Txn, id string) (*core.TaskSnapshot, error) {
	item, err := tx.Get(makeTaskKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var s *core.TaskSnapshot
	err = item.Value(func(val []byte) error {
		var err error
		s, err = storage.UnmarshalSnapshot(val)
		return err
	})
	if errors.Is(err, storage.ErrCorruptEncoding) {
		return nil, errMalformed{err}
	}
	if err != nil {
		return nil, err
	}
	if s.ID != id {
		return nil, errMalformed{errors.New("stored id " + s.ID + " does not match key")}
	}
	return s, nil
}

// GetAllTasks returns every well-formed snapshot.
func (r *Repository) GetAllTasks(ctx context.Context) ([]*core.TaskSnapshot, error) {
	return r.find(ctx, "get_all_tasks", core.TaskFilter{})
}

// GetTasksByStatus returns snapshots with the given status.
func (r *Repository) GetTasksByStatus(ctx context.Context, status core.Status) ([]*core.TaskSnapshot, error) {
	return r.find(ctx, "get_tasks_by_status", core.ByStatus(status))
}

// FindTasks returns snapshots matching filter. Status constraints walk the
// status index; every candidate is checked against the full filter before
// it is validated.
func (r *Repository) FindTasks(ctx context.Context, filter core.TaskFilter) ([]*core.TaskSnapshot, error) {
	return r.find(ctx, "find_tasks", filter)
}

func (r *Repository) find(ctx context.Context, op string, filter core.TaskFilter) ([]*core.TaskSnapshot, error) {
	results := make([]*core.TaskSnapshot, 0)
	err := r.view(ctx, op, "", func(tx *badger.Txn) error {
		ids, err := candidateIDs(tx, filter)
		if err != nil {
			return err
		}
		for _, id := range ids {
			s, err := readTask(tx, id)
			var me errMalformed
			if errors.As(err, &me) {
				r.skip(op, id, me.err)
				continue
			}
			if err != nil {
				return err
			}
			if s == nil || !filter.Matches(s) {
				continue
			}
			if err := core.ValidateSnapshot(s); err != nil {
				r.skip(op, id, err)
				continue
			}
			results = append(results, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	core.SortSnapshots(results)
	return results, nil
}

// candidateIDs lists the ids worth decoding for filter.
func candidateIDs(tx *badger.Txn, filter core.TaskFilter) ([]string, error) {
	var ids []string
	if !filter.HasStatus() {
		prefix := []byte(taskPrefix)
		err := scanKeys(tx, prefix, func(key []byte) error {
			ids = append(ids, taskIDFromKey(key, prefix))
			return nil
		})
		return ids, err
	}

	statuses := slices.Clone(filter.Statuses)
	slices.Sort(statuses)
	for _, status := range slices.Compact(statuses) {
		prefix := makePartialStatusKey(status)
		err := scanKeys(tx, prefix, func(key []byte) error {
			ids = append(ids, taskIDFromKey(key, prefix))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// DeleteTask removes the snapshot under id and reports whether it existed.
func (r *Repository) DeleteTask(ctx context.Context, id string) (bool, error) {
	const op = "delete_task"
	var deleted bool
	err := r.update(ctx, op, id, func(tx *badger.Txn) error {
		deleted = false
		_, err := tx.Get(makeTaskKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(makeTaskKey(id)); err != nil {
			return err
		}
		for _, status := range core.Statuses() {
			if err := tx.Delete(makeStatusKey(status, id)); err != nil {
				return err
			}
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// TaskExists reports whether a value is stored under id.
func (r *Repository) TaskExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.view(ctx, "task_exists", id, func(tx *badger.Txn) error {
		_, err := tx.Get(makeTaskKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		exists = err == nil
		return err
	})
	return exists, err
}

// Close closes the database. Closing twice is a no-op.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.backend == nil {
		return nil
	}
	if err := r.backend.Close(); err != nil {
		return r.translate("close", "", err)
	}
	return nil
}

// update runs fn in a read-write transaction and commits it, retrying
// transaction conflicts.
func (r *Repository) update(ctx context.Context, op, id string, fn func(tx *badger.Txn) error) error {
	backend, err := r.open(ctx, op)
	if err != nil {
		return err
	}
	err = retry.Do(ctx, r.retry, func() error {
		return backend.WithTx(func(tx *badger.Txn) error {
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit()
		}, true)
	})
	if err != nil {
		return r.translate(op, id, err)
	}
	return nil
}

// view runs fn in a read-only transaction.
func (r *Repository) view(ctx context.Context, op, id string, fn func(tx *badger.Txn) error) error {
	backend, err := r.open(ctx, op)
	if err != nil {
		return err
	}
	if err := backend.WithTx(fn, false); err != nil {
		if errors.As(err, new(errMalformed)) {
			return err
		}
		return r.translate(op, id, err)
	}
	return nil
}

// translate converts a badger error into a *storage.Error.
func (r *Repository) translate(op, id string, err error) error {
	if _, ok := storage.AsError(err); ok {
		return err
	}
	e := &storage.Error{Op: op, Backend: BackendName, Path: r.path, ID: id}
	switch {
	case errors.Is(err, badger.ErrConflict):
		e.Kind = storage.ErrConflict
		e.Detail = err.Error()
	case errors.Is(err, context.Canceled):
		e.Kind = storage.ErrConflict
		e.Err = context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		e.Kind = storage.ErrConflict
		e.Err = context.DeadlineExceeded
	case errors.Is(err, badger.ErrTxnTooBig):
		e.Kind = storage.ErrData
		e.Err = badger.ErrTxnTooBig
		e.Detail = "write exceeds the engine's per-transaction size limit; split it into smaller SaveTasks calls or raise MemTableSize"
	default:
		e.Kind = storage.ErrData
		e.Detail = err.Error()
	}
	return e
}

func (r *Repository) malformed(op, id string, err error) error {
	return &storage.Error{
		Kind:    storage.ErrData,
		Op:      op,
		Backend: BackendName,
		Path:    r.path,
		ID:      id,
		Detail:  "malformed value: " + err.Error(),
	}
}

func (r *Repository) skip(op, id string, err error) {
	r.logger.Warn("skipping malformed value", "op", op, "id", id, "error", err)
}
