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


// Package jsonfile implements storage.Repository on a single JSON document.
//
// The whole document is rewritten atomically on every write through
// docstore. Reads reload the document, so writes committed by other
// processes are observed; concurrent writers across processes race at
// last-rename-wins granularity.
//
// Queries are filter-first: predicates are evaluated on the raw persisted
// records and only matching entries are converted into validated
// snapshots.
package jsonfile

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/poiesic/taskvault/core"
	"github.com/poiesic/taskvault/storage"
	"github.com/poiesic/taskvault/storage/docstore"
)

// BackendName is the registry name of this backend.
const BackendName = "json"

// Option configures a Repository.
type Option func(*config)

type config struct {
	logger  *slog.Logger
	docOpts []docstore.Option
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithIndent sets the document indentation. An empty string writes compact
// JSON.
func WithIndent(indent string) Option {
	return WithDocumentOptions(docstore.WithIndent(indent))
}

// WithFileMode sets the permission bits of the document file.
func WithFileMode(mode fs.FileMode) Option {
	return WithDocumentOptions(docstore.WithFileMode(mode))
}

// WithDocumentOptions passes options through to the underlying docstore.
func WithDocumentOptions(opts ...docstore.Option) Option {
	return func(c *config) {
		c.docOpts = append(c.docOpts, opts...)
	}
}

// Repository implements storage.Repository for a JSON document.
type Repository struct {
	mu     sync.RWMutex
	store  *docstore.Store[document]
	logger *slog.Logger
	closed bool
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a repository for the document at path. The file is
// not touched until the first operation.
func NewRepository(path string, opts ...Option) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &storage.Error{Kind: storage.ErrConfiguration, Op: "open", Backend: BackendName, Detail: "path is required"}
	}

	cfg := config{logger: slog.Default().With("component", "jsonfile")}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger.With("path", path)
	docOpts := append([]docstore.Option{docstore.WithLogger(logger)}, cfg.docOpts...)

	return &Repository{
		store:  docstore.New[document](path, docOpts...),
		logger: logger,
	}, nil
}

// Register adds the backend to reg under BackendName.
func Register(reg *storage.Registry, opts ...Option) {
	reg.Register(BackendName, func(path string) (storage.Repository, error) {
		return NewRepository(path, opts...)
	})
}

// Path returns the document location.
func (r *Repository) Path() string {
	return r.store.Path()
}

// Initialize creates the parent directory and an empty document when the
// file does not exist. An existing document is parsed but left unchanged.
func (r *Repository) Initialize(ctx context.Context) error {
	const op = "initialize"
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx, op); err != nil {
		return err
	}

	if err := r.store.Ensure(); err != nil {
		return r.wrap(err, op)
	}
	_, exists, err := r.load(op)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := r.store.Save(newDocument()); err != nil {
		return r.wrap(err, op)
	}
	r.logger.Debug("created document")
	return nil
}

// SaveTask upserts a snapshot.
func (r *Repository) SaveTask(ctx context.Context, snapshot *core.TaskSnapshot) error {
	return r.upsert(ctx, "save_task", snapshot)
}

// SaveTasks upserts snapshots in one document write.
func (r *Repository) SaveTasks(ctx context.Context, snapshots ...*core.TaskSnapshot) error {
	return r.upsert(ctx, "save_tasks", snapshots...)
}

func (r *Repository) upsert(ctx context.Context, op string, snapshots ...*core.TaskSnapshot) error {
	if err := storage.ValidateSnapshots(BackendName, op, snapshots...); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx, op); err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return nil
	}

	doc, _, err := r.load(op)
	if err != nil {
		return err
	}
	for _, s := range snapshots {
		raw, err := encodeRecord(s)
		if err != nil {
			return &storage.Error{Kind: storage.ErrData, Op: op, Backend: BackendName, ID: s.ID, Detail: err.Error()}
		}
		doc.Tasks[s.ID] = raw
	}
	return r.save(doc, op)
}

// ReplaceAll swaps the whole document for one holding exactly snapshots.
func (r *Repository) ReplaceAll(ctx context.Context, snapshots []*core.TaskSnapshot) error {
	const op = "replace_all"
	if err := storage.ValidateSnapshots(BackendName, op, snapshots...); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx, op); err != nil {
		return err
	}

	doc := newDocument()
	for _, s := range snapshots {
		raw, err := encodeRecord(s)
		if err != nil {
			return &storage.Error{Kind: storage.ErrData, Op: op, Backend: BackendName, ID: s.ID, Detail: err.Error()}
		}
		doc.Tasks[s.ID] = raw
	}
	if err := r.store.Ensure(); err != nil {
		return r.wrap(err, op)
	}
	return r.save(doc, op)
}

// GetTask returns the snapshot stored under id, or nil if there is none.
// A malformed entry is a data error.
func (r *Repository) GetTask(ctx context.Context, id string) (*core.TaskSnapshot, error) {
	const op = "get_task"
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(ctx, op); err != nil {
		return nil, err
	}

	doc, _, err := r.load(op)
	if err != nil {
		return nil, err
	}
	raw, ok := doc.Tasks[id]
	if !ok {
		return nil, nil
	}
	rec, err := decodeRecord(id, raw)
	if err != nil {
		return nil, r.malformed(op, id, err)
	}
	s, err := rec.snapshot()
	if err != nil {
		return nil, r.malformed(op, id, err)
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

// FindTasks returns snapshots matching filter.
func (r *Repository) FindTasks(ctx context.Context, filter core.TaskFilter) ([]*core.TaskSnapshot, error) {
	return r.find(ctx, "find_tasks", filter)
}

func (r *Repository) find(ctx context.Context, op string, filter core.TaskFilter) ([]*core.TaskSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(ctx, op); err != nil {
		return nil, err
	}

	doc, _, err := r.load(op)
	if err != nil {
		return nil, err
	}

	results := make([]*core.TaskSnapshot, 0)
	for id, raw := range doc.Tasks {
		rec, err := decodeRecord(id, raw)
		if err != nil {
			r.skip(op, id, err)
			continue
		}
		ok, err := rec.matches(filter)
		if err != nil {
			r.skip(op, id, err)
			continue
		}
		if !ok {
			continue
		}
		s, err := rec.snapshot()
		if err != nil {
			r.skip(op, id, err)
			continue
		}
		results = append(results, s)
	}
	core.SortSnapshots(results)
	return results, nil
}

// DeleteTask removes the entry under id and reports whether it existed.
func (r *Repository) DeleteTask(ctx context.Context, id string) (bool, error) {
	const op = "delete_task"
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx, op); err != nil {
		return false, err
	}

	doc, _, err := r.load(op)
	if err != nil {
		return false, err
	}
	if _, ok := doc.Tasks[id]; !ok {
		return false, nil
	}
	delete(doc.Tasks, id)
	if err := r.save(doc, op); err != nil {
		return false, err
	}
	return true, nil
}

// TaskExists reports whether an entry is stored under id.
func (r *Repository) TaskExists(ctx context.Context, id string) (bool, error) {
	const op = "task_exists"
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(ctx, op); err != nil {
		return false, err
	}

	doc, _, err := r.load(op)
	if err != nil {
		return false, err
	}
	_, ok := doc.Tasks[id]
	return ok, nil
}

// Close marks the repository closed. The document needs no teardown.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// check must be called with r.mu held.
func (r *Repository) check(ctx context.Context, op string) error {
	if r.closed {
		return storage.Closed(BackendName, op)
	}
	return storage.CheckContext(ctx, BackendName, op)
}

// load reads the document, returning an empty one if the file is absent.
func (r *Repository) load(op string) (document, bool, error) {
	doc, exists, err := r.store.Load()
	if err != nil {
		return doc, false, r.wrap(err, op)
	}
	if !exists {
		return newDocument(), false, nil
	}
	if doc.Version > documentVersion {
		return doc, true, &storage.Error{
			Kind:    storage.ErrData,
			Op:      op,
			Backend: BackendName,
			Path:    r.store.Path(),
			Detail:  "unsupported document version " + strconv.Itoa(doc.Version),
		}
	}
	if doc.Tasks == nil {
		doc.Tasks = make(map[string]json.RawMessage)
	}
	return doc, true, nil
}

func (r *Repository) save(doc document, op string) error {
	doc.Version = documentVersion
	if err := r.store.Save(doc); err != nil {
		return r.wrap(err, op)
	}
	return nil
}

// wrap stamps a docstore error with this backend's operation context.
func (r *Repository) wrap(err error, op string) error {
	se, ok := storage.AsError(err)
	if !ok {
		return &storage.Error{Kind: storage.ErrData, Op: op, Backend: BackendName, Path: r.store.Path(), Detail: err.Error()}
	}
	e := *se
	e.Op = op
	e.Backend = BackendName
	if e.Path == "" {
		e.Path = r.store.Path()
	}
	return &e
}

func (r *Repository) malformed(op, id string, err error) error {
	return &storage.Error{
		Kind:    storage.ErrData,
		Op:      op,
		Backend: BackendName,
		Path:    r.store.Path(),
		ID:      id,
		Detail:  "malformed entry: " + err.Error(),
	}
}

func (r *Repository) skip(op, id string, err error) {
	r.logger.Warn("skipping malformed entry", "op", op, "id", id, "error", err)
}
