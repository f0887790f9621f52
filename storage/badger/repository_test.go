package badger

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/taskvault/core"
	"github.com/poiesic/taskvault/storage"
	"github.com/poiesic/taskvault/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backend() storagetest.Backend {
	return storagetest.Backend{
		Name: BackendName,
		Factory: func(path string) (storage.Repository, error) {
			return NewRepository(path)
		},
		NewPath: func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "tasks.badger")
		},
	}
}

func TestConformance(t *testing.T) {
	storagetest.RunConformance(t, backend())
}

func TestStatusIndexFollowsUpdates(t *testing.T) {
	ctx := context.Background()
	repo, err := NewMemoryRepository()
	require.NoError(t, err)
	defer repo.Close()

	s := storagetest.Task("t1", "moving", 0)
	require.NoError(t, repo.SaveTask(ctx, s))

	s.Status = core.StatusCompleted
	require.NoError(t, repo.SaveTask(ctx, s))

	var indexKeys []string
	err = repo.backend.WithTx(func(tx *badger.Txn) error {
		return scanKeys(tx, []byte(statusIndexPrefix), func(key []byte) error {
			indexKeys = append(indexKeys, string(key))
			return nil
		})
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"tstat:completed:t1"}, indexKeys)

	_, err = repo.DeleteTask(ctx, "t1")
	require.NoError(t, err)
	indexKeys = nil
	err = repo.backend.WithTx(func(tx *badger.Txn) error {
		return scanKeys(tx, []byte(statusIndexPrefix), func(key []byte) error {
			indexKeys = append(indexKeys, string(key))
			return nil
		})
	}, false)
	require.NoError(t, err)
	assert.Empty(t, indexKeys)
}

func TestMalformedValuesAreSkipped(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	repo, err := NewMemoryRepository(WithLogger(logger))
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.SaveTask(ctx, storagetest.Task("good", "fine", 0)))

	mismatched := storage.MarshalSnapshot(storagetest.Task("elsewhere", "x", 1))
	err = repo.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeTaskKey("garbage"), []byte{0xff, 0x00}); err != nil {
			return err
		}
		if err := tx.Set(makeStatusKey(core.StatusPending, "garbage"), nil); err != nil {
			return err
		}
		if err := tx.Set(makeTaskKey("mismatch"), mismatched); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	require.NoError(t, err)

	all, err := repo.GetAllTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, storagetest.IDs(all))

	pending, err := repo.GetTasksByStatus(ctx, core.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, storagetest.IDs(pending))

	assert.Contains(t, logs.String(), `"id":"garbage"`)
	assert.Contains(t, logs.String(), `"id":"mismatch"`)

	_, err = repo.GetTask(ctx, "garbage")
	assert.True(t, storage.IsData(err))
}

func TestDirectoryLockIsConflict(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")

	first, err := NewRepository(path)
	require.NoError(t, err)
	require.NoError(t, first.Initialize(ctx))
	defer first.Close()

	second, err := NewRepository(path)
	require.NoError(t, err)
	err = second.Initialize(ctx)
	require.Error(t, err)
	assert.True(t, storage.IsConflict(err), "got %v", err)
}

func TestNewRepository_RequiresPath(t *testing.T) {
	_, err := NewRepository("")
	assert.True(t, storage.IsConfiguration(err))

	repo, err := NewRepository("", WithInMemory(true))
	require.NoError(t, err)
	require.NoError(t, repo.Close())
}

func TestOversizedTransactionIsDataError(t *testing.T) {
	ctx := context.Background()
	repo, err := NewMemoryRepository(WithBackendOptions(func(o *badger.Options) {
		o.MemTableSize = 4 << 20
		o.ValueThreshold = 1 << 10
	}))
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.SaveTask(ctx, storagetest.Task("keep", "Keep me", 0)))

	details := strings.Repeat("x", 512)
	snapshots := make([]*core.TaskSnapshot, 4000)
	for i := range snapshots {
		snapshots[i] = storagetest.Task(fmt.Sprintf("bulk-%05d", i), "Bulk", i, core.WithDetails(details))
	}

	err = repo.ReplaceAll(ctx, snapshots)
	require.Error(t, err)
	assert.True(t, storage.IsData(err), "got %v", err)
	assert.ErrorIs(t, err, badger.ErrTxnTooBig)
	assert.Contains(t, err.Error(), "size limit")

	all, err := repo.GetAllTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, storagetest.IDs(all))
}

func TestTranslateTxnTooBig(t *testing.T) {
	repo, err := NewRepository("/unused", WithInMemory(true))
	require.NoError(t, err)

	err = repo.translate("save_tasks", "", badger.ErrTxnTooBig)
	assert.True(t, storage.IsData(err))
	assert.False(t, storage.IsConflict(err))
	assert.ErrorIs(t, err, badger.ErrTxnTooBig)
}
