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


package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by a Repository matches exactly one of
// these with errors.Is.
var (
	// ErrConfiguration indicates an invalid path, missing permissions or an
	// unreachable storage location.
	ErrConfiguration = errors.New("storage configuration error")

	// ErrData indicates a corrupted document, an unparsable snapshot or a
	// constraint violation on write.
	ErrData = errors.New("storage data error")

	// ErrConflict indicates lock contention or a concurrent-write conflict
	// that could not be resolved by retrying.
	ErrConflict = errors.New("storage conflict")

	// ErrNotRegistered indicates a registry lookup for an unknown backend.
	ErrNotRegistered = errors.New("backend not registered")
)

// ErrClosed indicates the repository has been closed. It is reported with
// the ErrConfiguration kind.
var ErrClosed = errors.New("storage is closed")

// Error describes a failed storage operation.
type Error struct {
	// Kind is one of ErrConfiguration, ErrData, ErrConflict, ErrNotRegistered.
	Kind error

	// Op names the operation, e.g. "save_task".
	Op string

	// Backend is the registered backend name.
	Backend string

	// Path is the storage location, when relevant.
	Path string

	// ID is the task id, when relevant.
	ID string

	// Detail is the text of the underlying engine error.
	Detail string

	// Err is an optional cause from this module or the standard library
	// (validation sentinels, ErrClosed, context errors).
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Backend != "" {
		b.WriteString(e.Backend)
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("storage error")
	}
	if e.ID != "" {
		fmt.Fprintf(&b, " (id %q)", e.ID)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (path %s)", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// Unwrap exposes Kind and Err to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsData reports whether err is a data error.
func IsData(err error) bool { return errors.Is(err, ErrData) }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotRegistered reports whether err is a not-registered error.
func IsNotRegistered(err error) bool { return errors.Is(err, ErrNotRegistered) }

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
