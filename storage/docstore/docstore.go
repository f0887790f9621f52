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


// Package docstore persists a single JSON document at a path with atomic
// replace semantics.
//
// Every Save writes the document to a temporary file in the target's
// directory, flushes it to stable storage and renames it over the target.
// A reader therefore observes either the previous document or the new one,
// never a partial write, and an interrupted Save leaves the previous
// document untouched.
package docstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/poiesic/taskvault/storage"
)

const (
	defaultFileMode fs.FileMode = 0o644
	defaultDirMode  fs.FileMode = 0o755
)

// TempFile is the subset of *os.File used while writing a document.
type TempFile interface {
	io.Writer
	Name() string
	Sync() error
	Chmod(mode fs.FileMode) error
	Close() error
}

// TempFileFunc creates a temporary file in dir. The default is a wrapper
// around os.CreateTemp; tests substitute failing implementations.
type TempFileFunc func(dir, pattern string) (TempFile, error)

func createTemp(dir, pattern string) (TempFile, error) {
	return os.CreateTemp(dir, pattern)
}

// Option configures a Store.
type Option func(*options)

type options struct {
	fileMode   fs.FileMode
	indent     string
	createTemp TempFileFunc
	logger     *slog.Logger
}

// WithFileMode sets the permission bits of the written document.
func WithFileMode(mode fs.FileMode) Option {
	return func(o *options) {
		o.fileMode = mode
	}
}

// WithIndent pretty-prints documents with the given indent. An empty
// indent writes compact JSON.
func WithIndent(indent string) Option {
	return func(o *options) {
		o.indent = indent
	}
}

// WithTempFileFunc replaces the temporary file constructor.
func WithTempFileFunc(fn TempFileFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.createTemp = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Store reads and atomically rewrites one JSON document of type T.
// Store does no locking of its own; callers serialize Save calls that must
// not race.
type Store[T any] struct {
	path string
	opts options
}

// New creates a Store for the document at path. The file is not touched
// until Load, Save or Ensure is called.
func New[T any](path string, opts ...Option) *Store[T] {
	o := options{
		fileMode:   defaultFileMode,
		indent:     "  ",
		createTemp: createTemp,
		logger:     slog.Default().With("component", "docstore"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[T]{path: path, opts: o}
}

// Path returns the document location.
func (s *Store[T]) Path() string {
	return s.path
}

// Ensure creates the parent directory of the document if needed.
func (s *Store[T]) Ensure() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, defaultDirMode); err != nil {
		return s.fail("ensure", err)
	}
	info, err := os.Stat(s.path)
	switch {
	case err == nil && info.IsDir():
		return &storage.Error{Kind: storage.ErrConfiguration, Op: "ensure", Path: s.path, Detail: "path is a directory"}
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return s.fail("ensure", err)
	}
	return nil
}

// Exists reports whether the document file is present.
func (s *Store[T]) Exists() (bool, error) {
	_, err := os.Stat(s.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, s.fail("stat", err)
}

// Load reads the document. A missing or blank file yields the zero value
// and false. Content that is not valid JSON for T is a data error.
func (s *Store[T]) Load() (T, bool, error) {
	var doc T
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return doc, false, nil
		}
		return doc, false, s.fail("load", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		s.opts.logger.Debug("document is blank, treating as absent", "path", s.path)
		return doc, false, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, false, &storage.Error{Kind: storage.ErrData, Op: "load", Path: s.path, Detail: "parse document: " + err.Error()}
	}
	return doc, true, nil
}

// Save atomically replaces the document with doc.
func (s *Store[T]) Save(doc T) error {
	data, err := s.marshal(doc)
	if err != nil {
		return &storage.Error{Kind: storage.ErrData, Op: "save", Path: s.path, Detail: "encode document: " + err.Error()}
	}
	return s.write(data)
}

func (s *Store[T]) marshal(doc T) ([]byte, error) {
	if s.opts.indent == "" {
		return json.Marshal(doc)
	}
	data, err := json.MarshalIndent(doc, "", s.opts.indent)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// write commits data through a same-directory temp file. The rename is the
// only step that changes what readers of s.path observe.
func (s *Store[T]) write(data []byte) (err error) {
	dir, base := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}

	tmp, err := s.opts.createTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return s.fail("save", err)
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if err == nil {
			return
		}
		if !closed {
			_ = tmp.Close()
		}
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.opts.logger.Warn("failed to remove temp file", "path", tmpName, "error", rmErr)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return s.fail("save", err)
	}
	if err = tmp.Sync(); err != nil {
		return s.fail("save", err)
	}
	if err = tmp.Chmod(s.opts.fileMode); err != nil {
		return s.fail("save", err)
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return s.fail("save", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return s.fail("save", err)
	}

	s.syncDir(dir)
	return nil
}

// syncDir flushes the directory entry for the rename. Not every platform
// supports fsync on directories, so failures are only logged.
func (s *Store[T]) syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		s.opts.logger.Debug("open directory for sync", "path", dir, "error", err)
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		s.opts.logger.Debug("sync directory", "path", dir, "error", err)
	}
}

func (s *Store[T]) fail(op string, err error) error {
	return &storage.Error{Kind: Classify(err), Op: op, Path: s.path, Detail: err.Error()}
}
