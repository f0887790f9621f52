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


// Package storage provides the storage abstraction layer for taskvault.
//
// The Repository interface decouples task persistence from the domain layer.
// Backends live in subpackages and are interchangeable:
//
//   - jsonfile: one JSON document, rewritten atomically on every write
//   - sqlite: a relational database with a bounded connection pool
//   - badger: an embedded key-value store
//
// # Selecting a Backend
//
// Backends are looked up by name through a Registry. Each backend package
// exports a Register function; nothing is registered as a side effect of
// importing a package. The backends package wires every built-in backend:
//
//	reg := backends.NewRegistry(cfg)
//	repo, err := reg.Open("sqlite", "/var/lib/tasks.db")
//
// # Errors
//
// Every error returned by a Repository is an *Error whose Kind is one of
// ErrConfiguration, ErrData or ErrConflict. Engine-specific errors never
// escape a backend; their text is kept in Error.Detail. Registry lookups
// for unknown names return ErrNotRegistered.
//
// # Thread Safety
//
// All Repository implementations are safe for concurrent use. Snapshots are
// copied on the way in and out, so callers may mutate what they pass and
// what they receive.
package storage
