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


package sqlite

import (
	"context"
	"errors"

	"github.com/poiesic/taskvault/storage"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// primaryCode returns the primary SQLite result code of err, or 0 if err
// did not come from the engine.
func primaryCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() & 0xff
	}
	return 0
}

// isBusy reports whether err is lock contention worth retrying.
func isBusy(err error) bool {
	switch primaryCode(err) {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// classify maps an engine error to a storage error kind.
func classify(err error) error {
	switch primaryCode(err) {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return storage.ErrConflict
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_MISMATCH,
		sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_FULL, sqlite3.SQLITE_IOERR:
		return storage.ErrData
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_PERM, sqlite3.SQLITE_READONLY, sqlite3.SQLITE_AUTH:
		return storage.ErrConfiguration
	}
	return storage.ErrData
}

// translate converts an error from the driver or database/sql into a
// *storage.Error. Engine errors are reduced to their text.
func (r *Repository) translate(op, id string, err error) error {
	if _, ok := storage.AsError(err); ok {
		return err
	}

	e := &storage.Error{Op: op, Backend: BackendName, Path: r.path, ID: id}
	switch {
	case errors.Is(err, errPoolExhausted):
		e.Kind = storage.ErrConflict
		e.Detail = err.Error()
	case errors.Is(err, context.Canceled):
		e.Kind = storage.ErrConflict
		e.Err = context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		e.Kind = storage.ErrConflict
		e.Err = context.DeadlineExceeded
	default:
		e.Kind = classify(err)
		e.Detail = err.Error()
	}
	return e
}
