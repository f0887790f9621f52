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
	"context"

	"github.com/poiesic/taskvault/core"
)

// Repository is the persistence capability consumed by the domain layer.
// Implementations must be thread-safe and must copy snapshots across the
// boundary: callers never share mutable state with the backend.
type Repository interface {
	// Initialize prepares storage, creating the file or schema when absent.
	// It is idempotent.
	Initialize(ctx context.Context) error

	// SaveTask upserts a snapshot by ID with full-replace semantics.
	// The write is visible to subsequent reads on the same instance.
	// Returns a data error if the snapshot fails core.ValidateSnapshot.
	SaveTask(ctx context.Context, snapshot *core.TaskSnapshot) error

	// SaveTasks upserts several snapshots atomically: either all are
	// written or none are.
	SaveTasks(ctx context.Context, snapshots ...*core.TaskSnapshot) error

	// ReplaceAll atomically replaces the entire contents of the repository.
	ReplaceAll(ctx context.Context, snapshots []*core.TaskSnapshot) error

	// GetTask retrieves a snapshot by ID.
	// Returns nil, nil if the ID doesn't exist.
	GetTask(ctx context.Context, id string) (*core.TaskSnapshot, error)

	// GetAllTasks returns every stored snapshot ordered by CreatedAt, then ID.
	GetAllTasks(ctx context.Context) ([]*core.TaskSnapshot, error)

	// GetTasksByStatus returns snapshots with the given status.
	GetTasksByStatus(ctx context.Context, status core.Status) ([]*core.TaskSnapshot, error)

	// FindTasks returns the snapshots matching every predicate of filter.
	// An empty filter returns all snapshots.
	FindTasks(ctx context.Context, filter core.TaskFilter) ([]*core.TaskSnapshot, error)

	// DeleteTask removes a snapshot and reports whether it existed.
	// A missing ID is not an error.
	DeleteTask(ctx context.Context, id string) (bool, error)

	// TaskExists reports whether a snapshot with the ID is stored.
	TaskExists(ctx context.Context, id string) (bool, error)

	// Close releases pooled connections and file handles.
	Close() error
}

// Factory creates a repository for a storage location.
type Factory func(path string) (Repository, error)
