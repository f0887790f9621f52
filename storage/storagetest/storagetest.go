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


// Package storagetest provides the behavioral test suite every
// storage.Repository implementation must pass, and a parity check that
// runs one operation script against several backends and compares the
// results.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/taskvault/core"
	"github.com/poiesic/taskvault/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Backend describes a backend under test.
type Backend struct {
	// Name labels subtests.
	Name string

	// Factory opens a repository at a path.
	Factory storage.Factory

	// NewPath returns a fresh storage location for one test. Opening the
	// same path twice must reach the same data.
	NewPath func(t *testing.T) string
}

// Epoch is the creation time of the first fixture task.
var Epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// Task builds a fixture snapshot created minute minutes after Epoch.
func Task(id, name string, minute int, opts ...core.SnapshotOption) *core.TaskSnapshot {
	base := []core.SnapshotOption{
		core.WithID(id),
		core.WithCreatedAt(Epoch.Add(time.Duration(minute) * time.Minute)),
	}
	return core.NewSnapshot(name, append(base, opts...)...)
}

// Open opens and initializes a repository at path, closing it when the
// test ends.
func Open(t *testing.T, b Backend, path string) storage.Repository {
	t.Helper()
	repo, err := b.Factory(path)
	require.NoError(t, err)
	require.NoError(t, repo.Initialize(context.Background()))
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// OpenFresh opens a repository at a new location.
func OpenFresh(t *testing.T, b Backend) storage.Repository {
	t.Helper()
	return Open(t, b, b.NewPath(t))
}

// IDs returns the ids of snapshots in order.
func IDs(snaps []*core.TaskSnapshot) []string {
	ids := make([]string, len(snaps))
	for i, s := range snaps {
		ids[i] = s.ID
	}
	return ids
}

// RunConformance runs the full behavioral suite against b.
func RunConformance(t *testing.T, b Backend) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b Backend)
	}{
		{"InitializeIsIdempotent", testInitializeIsIdempotent},
		{"RoundTrip", testRoundTrip},
		{"GetMissingReturnsNil", testGetMissingReturnsNil},
		{"UpsertReplacesEveryField", testUpsertReplacesEveryField},
		{"SaveRejectsInvalidSnapshot", testSaveRejectsInvalidSnapshot},
		{"SaveTasksIsAtomic", testSaveTasksIsAtomic},
		{"ReplaceAll", testReplaceAll},
		{"ResultsOrderedByCreation", testResultsOrderedByCreation},
		{"StatusFilter", testStatusFilter},
		{"TextFilterIgnoresCase", testTextFilterIgnoresCase},
		{"CreatedBoundsAreExclusive", testCreatedBoundsAreExclusive},
		{"FilterIsConjunctive", testFilterIsConjunctive},
		{"EmptyFilterReturnsAll", testEmptyFilterReturnsAll},
		{"DeleteIsIdempotent", testDeleteIsIdempotent},
		{"CopiesAcrossBoundary", testCopiesAcrossBoundary},
		{"PersistsAcrossReopen", testPersistsAcrossReopen},
		{"ClosedRepositoryFails", testClosedRepositoryFails},
		{"ConcurrentWriters", testConcurrentWriters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, b)
		})
	}
}

func testInitializeIsIdempotent(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := OpenFresh(t, b)

	require.NoError(t, repo.SaveTask(ctx, Task("t1", "first", 0)))
	require.NoError(t, repo.Initialize(ctx))
	require.NoError(t, repo.Initialize(ctx))

	exists, err := repo.TaskExists(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func testRoundTrip(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := OpenFresh(t, b)

	due := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	snapshots := []*core.TaskSnapshot{
		Task("plain", "Plain task", 0),
		Task("full", "Ship release", 1,
			core.WithDetails("tag, build and publish\nsecond line"),
			core.WithStatus(core.StatusInProgress),
			core.WithPriority(core.PriorityHighest),
			core.WithDueDate(due)),
		Task("unicode", "Überprüfung 検証 ✓", 2, core.WithDetails(`quotes " and \ backslash`)),
	}
	snapshots[1].UpdatedAt = snapshots[1].CreatedAt.Add(36*time.Hour + 123456789)

	for _, s := range snapshots {
		require.NoError(t, repo.SaveTask(ctx, s))
	}
	for _, want := range snapshots {
		got, err := repo.GetTask(ctx, want.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, want.Equal(got), "round trip mismatch:\nwant %+v\ngot  %+v", want, got)
	}
}

func testGetMissingReturnsNil(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := OpenFresh(t, b)

	got, err := repo.GetTask(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	exists, err := repo.TaskExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func testUpsertReplacesEveryField(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := OpenFresh(t, b)

	original := Task("t1", "Original", 0,
		core.WithDetails("old details"),
		core.WithDueDate(Epoch.AddDate(0, 0, 7)))
	require.NoError(t, repo.SaveTask(ctx, original))

	replacement := Task("t1", "Replacement", 30,
		core.WithStatus(core.StatusCompleted),
		core.WithPriority(core.PriorityLow))
	replacement.UpdatedAt = replacement.CreatedAt.Add(time.Hour)
	require.NoError(t, repo.SaveTask(ctx, replacement))

	got, err := repo.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, replacement.Equal(got), "want %+v, got %+v", replacement, got)

	all, err := repo.GetAllTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testSaveRejectsInvalidSnapshot(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := OpenFresh(t, b)

	invalid := []*core.TaskSnapshot{
		Task("bad-status", "x", 0, core.WithStatus("archived")),
		Task("bad-priority", "x", 0, core.WithPriority(0)),
		Task("", "x", 0),
		Task("bad-name", "bad\xffname", 0),
		Task("bad-details", "x", 0, core.WithDetails("\xc3\x28")),
		Task("far-future", "x", 0, core.WithCreatedAt(time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC))),
		Task("far-due", "x", 0, core.WithDueDate(time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC))),
		nil,
	}
	for _, s := range invalid {
		err := repo.SaveTask(ctx, s)
		require.Error(t, err)
		assert.True(t, storage.IsData(err), "want data error, got %v", err)
		assert.ErrorIs(t, err, core.ErrInvalidSnapshot)
	}

	all, err := repo.GetAllTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testSaveTasksIsAtomic(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := OpenFresh(t, b)

	require.NoError(t, repo.SaveTasks(ctx, Task("a", "a", 0), Task("b", "b", 1)))

	err := repo.SaveTasks(ctx,
		Task("a", "a changed", 0),
		Task("c", "c", 2),
		Task("d", "d", 3, core.WithPriority(42)))
	require.Error(t, err)
	assert.True(t, storage.IsData(err))

	all, err := repo.GetAllTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, IDs(all))
	assert.Equal(t, "a", all[0].Name)

	require.NoError(t, repo.SaveTasks(ctx))
}

func testReplaceAll(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := OpenFresh(t, b)

	require.NoError(t, repo.SaveTasks(ctx, Task("a", "a", 0), Task("b", "b", 1)))
	require.NoError(t, repo.ReplaceAll(ctx, []*core.TaskSnapshot{Task("b", "b2", 1), Task("c", "c", 2)}))

	all, err := repo.GetAllTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, IDs(all))
	assert.Equal(t, "b2", all[0].Name)

	err = repo.ReplaceAll(ctx, []*core.TaskSnapshot{Task("z", "z", 0, core.WithStatus("bogus"))})
	assert.True(t, storage.IsData(err))
	all, err = repo.GetAllTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, IDs(all))

	require.NoError(t, repo.ReplaceAll(ctx, nil))
	all, err = repo.GetAllTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testResultsOrderedByCreation(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := OpenFresh(t, b)

	require.NoError(t, repo.SaveTasks(ctx,
		Task("late", "late", 10),
		Task("b-tie", "tie", 5),
		Task("early", "early", 0),
		Task("a-tie", "tie", 5)))

	all, err := repo.GetAllTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "a-tie", "b-tie", "late"}, IDs(all))
}

// Scenario A: filtering by status returns exactly the tasks with that
// status.
func testStatusFilter(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := OpenFresh(t, b)

	require.NoError(t, repo.SaveTasks(ctx,
		Task("p", "pending task", 0),
		Task("i", "started task", 1, core.WithStatus(core.StatusInProgress)),
		Task("c", "done task", 2, core.WithStatus(core.StatusCompleted))))

	pending, err := repo.GetTasksByStatus(ctx, core.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, []string{"p"}, IDs(pending))

	found, err := repo.FindTasks(ctx, core.ByStatus(core.StatusPending))
	require.NoError(t, err)
	assert.Equal(t, []string{"p"}, IDs(found))

	found, err = repo.FindTasks(ctx, core.ByStatus(core.StatusPending, core.StatusCompleted))
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "c"}, IDs(found))

	cancelled, err := repo.GetTasksByStatus(ctx, core.StatusCancelled)
	require.NoError(t, err)
	assert.Empty(t, cancelled)
}

// Scenario B: text search ignores case and looks at name and details.
func testTextFilterIgnoresCase(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := OpenFresh(t, b)

	require.NoError(t, repo.SaveTasks(ctx,
		Task("name", "Fix LOGIN bug", 0),
		Task("details", "Investigate outage", 1, core.WithDetails("users cannot Login after reset")),
		Task("other", "Write docs", 2),
		Task("accent", "ÉCOLE enrollment", 3)))

	found, err := repo.FindTasks(ctx, core.Containing("login"))
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "details"}, IDs(found))

	found, err = repo.FindTasks(ctx, core.Containing("LoGiN"))
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "details"}, IDs(found))

	found, err = repo.FindTasks(ctx, core.Containing("école"))
	require.NoError(t, err)
	assert.Equal(t, []string{"accent"}, IDs(found))

	found, err = repo.FindTasks(ctx, core.Containing("100%_"))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func testCreatedBoundsAreExclusive(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := OpenFresh(t, b)

	require.NoError(t, repo.SaveTasks(ctx,
		Task("m0", "a", 0),
		Task("m1", "b", 1),
		Task("m2", "c", 2),
		Task("m3", "d", 3)))

	at := func(minute int) time.Time { return Epoch.Add(time.Duration(minute) * time.Minute) }

	found, err := repo.FindTasks(ctx, core.CreatedBetween(at(0), at(3)))
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, IDs(found))

	found, err = repo.FindTasks(ctx, core.CreatedBetween(at(1), time.Time{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3"}, IDs(found))

	found, err = repo.FindTasks(ctx, core.CreatedBetween(time.Time{}, at(1).Add(time.Nanosecond)))
	require.NoError(t, err)
	assert.Equal(t, []string{"m0", "m1"}, IDs(found))
}

func testFilterIsConjunctive(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := OpenFresh(t, b)

	require.NoError(t, repo.SaveTasks(ctx,
		Task("a", "deploy api", 0, core.WithStatus(core.StatusInProgress)),
		Task("b", "deploy web", 5, core.WithStatus(core.StatusInProgress)),
		Task("c", "deploy db", 6, core.WithStatus(core.StatusPending)),
		Task("d", "review api", 7, core.WithStatus(core.StatusInProgress))))

	after := Epoch.Add(time.Minute)
	filter := core.TaskFilter{
		Statuses:     []core.Status{core.StatusInProgress},
		CreatedAfter: &after,
		Text:         "DEPLOY",
	}
	found, err := repo.FindTasks(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, IDs(found))
}

func testEmptyFilterReturnsAll(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := OpenFresh(t, b)

	require.NoError(t, repo.SaveTasks(ctx, Task("a", "a", 0), Task("b", "b", 1)))

	found, err := repo.FindTasks(ctx, core.TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, IDs(found))

	found, err = repo.FindTasks(ctx, core.TaskFilter{Statuses: []core.Status{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, IDs(found))
}

func testDeleteIsIdempotent(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := OpenFresh(t, b)

	require.NoError(t, repo.SaveTask(ctx, Task("t1", "doomed", 0)))

	deleted, err := repo.DeleteTask(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.DeleteTask(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, deleted)

	exists, err := repo.TaskExists(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, exists)

	pending, err := repo.GetTasksByStatus(ctx, core.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func testCopiesAcrossBoundary(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := OpenFresh(t, b)

	in := Task("t1", "original", 0, core.WithDueDate(Epoch))
	require.NoError(t, repo.SaveTask(ctx, in))

	in.Name = "mutated after save"
	*in.DueDate = in.DueDate.AddDate(1, 0, 0)

	out, err := repo.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "original", out.Name)
	assert.True(t, out.DueDate.Equal(core.DateOf(Epoch)))

	out.Name = "mutated after read"
	*out.DueDate = out.DueDate.AddDate(0, 1, 0)

	again, err := repo.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Name)
	assert.True(t, again.DueDate.Equal(core.DateOf(Epoch)))
}

func testPersistsAcrossReopen(t *testing.T, b Backend) {
	ctx := context.Background()
	path := b.NewPath(t)

	first, err := b.Factory(path)
	require.NoError(t, err)
	require.NoError(t, first.Initialize(ctx))
	want := Task("t1", "durable", 0, core.WithStatus(core.StatusCompleted))
	require.NoError(t, first.SaveTask(ctx, want))
	require.NoError(t, first.Close())

	second := Open(t, b, path)
	got, err := second.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}

func testClosedRepositoryFails(t *testing.T, b Backend) {
	ctx := context.Background()
	repo, err := b.Factory(b.NewPath(t))
	require.NoError(t, err)
	require.NoError(t, repo.Initialize(ctx))
	require.NoError(t, repo.Close())

	_, err = repo.GetTask(ctx, "t1")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.True(t, storage.IsConfiguration(err))

	err = repo.SaveTask(ctx, Task("t1", "late", 0))
	assert.ErrorIs(t, err, storage.ErrClosed)

	_, err = repo.FindTasks(ctx, core.TaskFilter{})
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func testConcurrentWriters(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := OpenFresh(t, b)

	const writers, perWriter = 4, 10
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				id := fmt.Sprintf("w%d-%02d", w, i)
				if err := repo.SaveTask(ctx, Task(id, id, w*perWriter+i)); err != nil {
					errs <- err
				}
				if _, err := repo.GetAllTasks(ctx); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}

	all, err := repo.GetAllTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, writers*perWriter)
}
