package transfer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/taskvault/core"
	"github.com/poiesic/taskvault/retry"
	"github.com/poiesic/taskvault/storage"
	"github.com/poiesic/taskvault/storage/badger"
	"github.com/poiesic/taskvault/storage/jsonfile"
	"github.com/poiesic/taskvault/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSONRepo(t *testing.T) storage.Repository {
	t.Helper()
	repo, err := jsonfile.NewRepository(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)
	require.NoError(t, repo.Initialize(context.Background()))
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newBadgerRepo(t *testing.T) storage.Repository {
	t.Helper()
	repo, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seed(t *testing.T, repo storage.Repository, n int) []*core.TaskSnapshot {
	t.Helper()
	tasks := make([]*core.TaskSnapshot, n)
	for i := range tasks {
		tasks[i] = storagetest.Task(fmt.Sprintf("task-%03d", i), fmt.Sprintf("Task %d", i), i,
			core.WithPriority(core.Priority(i%5+1)))
	}
	require.NoError(t, repo.SaveTasks(context.Background(), tasks...))
	return tasks
}

// flakyRepository fails the first failures writes with a conflict.
type flakyRepository struct {
	storage.Repository
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyRepository) SaveTasks(ctx context.Context, snapshots ...*core.TaskSnapshot) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return &storage.Error{Kind: storage.ErrConflict, Op: "SaveTasks", Backend: "flaky", Detail: "busy"}
	}
	return f.Repository.SaveTasks(ctx, snapshots...)
}

// brokenRepository rejects every write with a data error.
type brokenRepository struct {
	storage.Repository
}

func (b *brokenRepository) SaveTasks(context.Context, ...*core.TaskSnapshot) error {
	return &storage.Error{Kind: storage.ErrData, Op: "SaveTasks", Backend: "broken"}
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	src := newJSONRepo(t)
	dst := newBadgerRepo(t)
	seed(t, src, 25)

	report, err := Copy(ctx, src, dst, WithBatchSize(10), WithPoolSize(3))
	require.NoError(t, err)

	assert.Equal(t, 25, report.Read)
	assert.Equal(t, 25, report.Written)
	assert.Equal(t, 3, report.Batches)
	assert.False(t, report.Replaced)

	diff, err := Diff(ctx, src, dst)
	require.NoError(t, err)
	assert.True(t, diff.Equal(), "%+v", diff)
	assert.Equal(t, 25, diff.Same)
}

func TestCopyKeepsOtherDestinationTasks(t *testing.T) {
	ctx := context.Background()
	src := newJSONRepo(t)
	dst := newBadgerRepo(t)
	seed(t, src, 3)
	require.NoError(t, dst.SaveTask(ctx, storagetest.Task("only-in-dst", "Keep me", 99)))

	_, err := Copy(ctx, src, dst)
	require.NoError(t, err)

	all, err := dst.GetAllTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestCopyReplace(t *testing.T) {
	ctx := context.Background()
	src := newBadgerRepo(t)
	dst := newJSONRepo(t)
	seed(t, src, 5)
	require.NoError(t, dst.SaveTask(ctx, storagetest.Task("stale", "Stale", 99)))

	report, err := Copy(ctx, src, dst, WithReplace())
	require.NoError(t, err)
	assert.True(t, report.Replaced)
	assert.Equal(t, 1, report.Batches)

	diff, err := Diff(ctx, src, dst)
	require.NoError(t, err)
	assert.True(t, diff.Equal(), "%+v", diff)
}

func TestCopyRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	src := newJSONRepo(t)
	seed(t, src, 4)

	dst := &flakyRepository{Repository: newBadgerRepo(t)}
	dst.failures.Store(2)

	report, err := Copy(ctx, src, dst, WithPoolSize(1), WithRetryPolicy(fastRetry()))
	require.NoError(t, err)
	assert.Equal(t, 4, report.Written)
	assert.Equal(t, int32(3), dst.calls.Load())
}

func TestCopyStopsOnDataError(t *testing.T) {
	ctx := context.Background()
	src := newJSONRepo(t)
	seed(t, src, 10)

	dst := &brokenRepository{Repository: newBadgerRepo(t)}
	report, err := Copy(ctx, src, dst, WithBatchSize(2), WithPoolSize(1), WithRetryPolicy(fastRetry()))
	require.Error(t, err)
	assert.True(t, storage.IsData(err))
	assert.Equal(t, 0, report.Written)
}

func TestCopyEmptySource(t *testing.T) {
	report, err := Copy(context.Background(), newJSONRepo(t), newBadgerRepo(t))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Read)
	assert.Equal(t, 0, report.Batches)
}

func TestCopyRejectsBadOptions(t *testing.T) {
	src, dst := newJSONRepo(t), newBadgerRepo(t)

	_, err := Copy(context.Background(), src, dst, WithPoolSize(0))
	assert.ErrorIs(t, err, ErrInvalidPoolSize)

	_, err = Copy(context.Background(), src, dst, WithBatchSize(-1))
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
}

func TestCopyReportsProgress(t *testing.T) {
	var buf bytes.Buffer
	src := newJSONRepo(t)
	seed(t, src, 6)

	_, err := Copy(context.Background(), src, newBadgerRepo(t), WithBatchSize(2), WithProgress(&buf))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "6/6")
	assert.Contains(t, buf.String(), "100.0%")
}

func TestCopyCancelled(t *testing.T) {
	src := newJSONRepo(t)
	seed(t, src, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Copy(ctx, src, newBadgerRepo(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiff(t *testing.T) {
	ctx := context.Background()
	a := newJSONRepo(t)
	b := newBadgerRepo(t)

	tasks := seed(t, a, 4)
	require.NoError(t, b.SaveTasks(ctx, tasks[0], tasks[1], tasks[2]))

	changed := tasks[1].Clone()
	changed.Status = core.StatusCompleted
	require.NoError(t, b.SaveTask(ctx, changed))
	require.NoError(t, b.SaveTask(ctx, storagetest.Task("zz-extra", "Extra", 50)))

	diff, err := Diff(ctx, a, b)
	require.NoError(t, err)
	assert.False(t, diff.Equal())
	assert.Equal(t, []string{"task-003"}, diff.Missing)
	assert.Equal(t, []string{"zz-extra"}, diff.Extra)
	assert.Equal(t, []string{"task-001"}, diff.Changed)
	assert.Equal(t, 2, diff.Same)
}
