package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

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
			return filepath.Join(t.TempDir(), "tasks.db")
		},
	}
}

func TestConformance(t *testing.T) {
	storagetest.RunConformance(t, backend())
}

func openTest(t *testing.T, opts ...Option) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "tasks.db"), opts...)
	require.NoError(t, err)
	require.NoError(t, repo.Initialize(context.Background()))
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func insertSQL(ctx context.Context, tx *sql.Tx, s *core.TaskSnapshot) error {
	_, err := tx.ExecContext(ctx, upsertTaskSQL, rowArgs(s)...)
	return err
}

// A three-statement transaction whose third write violates a constraint
// leaves no trace of the first two and the prior state intact.
func TestTransactionRollsBackOnFailedWrite(t *testing.T) {
	ctx := context.Background()
	repo := openTest(t)

	prior := storagetest.Task("prior", "already here", 0)
	require.NoError(t, repo.SaveTask(ctx, prior))

	changedPrior := prior.Clone()
	changedPrior.Name = "changed inside the failed transaction"
	invalid := storagetest.Task("third", "bad", 2)
	invalid.Priority = 9

	err := repo.withConn(ctx, "test_tx", "", func(conn *sql.Conn) error {
		return withTx(ctx, conn, func(tx *sql.Tx) error {
			if err := insertSQL(ctx, tx, storagetest.Task("first", "first", 1)); err != nil {
				return err
			}
			if err := insertSQL(ctx, tx, changedPrior); err != nil {
				return err
			}
			return insertSQL(ctx, tx, invalid)
		})
	})
	require.Error(t, err)
	assert.True(t, storage.IsData(err), "constraint violation should be a data error, got %v", err)

	all, err := repo.GetAllTasks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, prior.Equal(all[0]))
}

func TestPoolExhaustionIsConflict(t *testing.T) {
	ctx := context.Background()
	repo := openTest(t, WithMaxOpenConns(1), WithAcquireTimeout(50*time.Millisecond))

	held, err := repo.db.Conn(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = repo.GetTask(ctx, "t1")
	require.Error(t, err)
	assert.True(t, storage.IsConflict(err))
	assert.Contains(t, err.Error(), "connection pool exhausted")
	assert.Less(t, time.Since(start), 5*time.Second)

	require.NoError(t, held.Close())
	got, err := repo.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestConnectionsAreReleased(t *testing.T) {
	ctx := context.Background()
	repo := openTest(t, WithMaxOpenConns(1), WithAcquireTimeout(time.Second))

	for i := range 20 {
		s := storagetest.Task("t", "loop", i)
		require.NoError(t, repo.SaveTask(ctx, s))
		_, err := repo.FindTasks(ctx, core.Containing("loop"))
		require.NoError(t, err)
		_, err = repo.GetTask(ctx, "missing")
		require.NoError(t, err)
	}
	assert.Equal(t, 0, repo.db.Stats().InUse)
}

func TestMemoryDatabase(t *testing.T) {
	ctx := context.Background()
	repo, err := NewRepository(":memory:")
	require.NoError(t, err)
	defer repo.Close()
	require.NoError(t, repo.Initialize(ctx))

	require.NoError(t, repo.SaveTask(ctx, storagetest.Task("t1", "in memory", 0)))
	got, err := repo.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, repo.db.Stats().MaxOpenConnections)
}

func TestMalformedRowsAreSkipped(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	repo := openTest(t, WithLogger(logger))

	require.NoError(t, repo.SaveTask(ctx, storagetest.Task("good", "fine", 0)))
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO tasks (id, name, details, status, priority, created_at, updated_at)
		 VALUES ('broken', 'x', '', 'pending', 3, 'not a time', 'not a time')`)
	require.NoError(t, err)

	all, err := repo.GetAllTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, storagetest.IDs(all))
	assert.Contains(t, logs.String(), `"id":"broken"`)

	_, err = repo.GetTask(ctx, "broken")
	assert.True(t, storage.IsData(err))

	exists, err := repo.TaskExists(ctx, "broken")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSchemaConstraints(t *testing.T) {
	ctx := context.Background()
	repo := openTest(t)

	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO tasks (id, name, details, status, priority, created_at, updated_at)
		 VALUES ('x', 'x', '', 'archived', 3, '', '')`)
	require.Error(t, err)
	assert.True(t, storage.IsData(repo.translate("insert", "x", err)))

	var indexes []string
	rows, err := repo.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'tasks' AND name LIKE 'idx_%' ORDER BY name`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		indexes = append(indexes, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"idx_tasks_created_at", "idx_tasks_status"}, indexes)
}

func TestJournalModeIsWAL(t *testing.T) {
	repo := openTest(t)
	var mode string
	require.NoError(t, repo.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestFoldFunction(t *testing.T) {
	repo := openTest(t)
	var folded string
	require.NoError(t, repo.db.QueryRow(`SELECT fold(?)`, "ÉCOLE Straße").Scan(&folded))
	assert.Equal(t, core.FoldText("ÉCOLE Straße"), folded)
}

func TestQueriesUseIndexes(t *testing.T) {
	ctx := context.Background()
	repo := openTest(t)

	plan := func(filter core.TaskFilter) string {
		where, args := compileFilter(filter)
		rows, err := repo.db.QueryContext(ctx, `EXPLAIN QUERY PLAN SELECT `+taskColumns+` FROM tasks`+where, args...)
		require.NoError(t, err)
		defer rows.Close()
		var out bytes.Buffer
		for rows.Next() {
			var id, parent, notused int
			var detail string
			require.NoError(t, rows.Scan(&id, &parent, &notused, &detail))
			out.WriteString(detail)
			out.WriteString("\n")
		}
		require.NoError(t, rows.Err())
		return out.String()
	}

	assert.Contains(t, plan(core.ByStatus(core.StatusPending)), "idx_tasks_status")
	assert.Contains(t, plan(core.CreatedBetween(storagetest.Epoch, time.Time{})), "idx_tasks_created_at")
}

func TestUnusableLocationIsConfiguration(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	repo, err := NewRepository(filepath.Join(file, "tasks.db"))
	require.NoError(t, err)
	defer repo.Close()

	err = repo.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, storage.IsConfiguration(err), "got %v", err)
}

func TestNewRepository_RequiresPath(t *testing.T) {
	_, err := NewRepository("")
	assert.True(t, storage.IsConfiguration(err))
}

func TestNewRepository_RejectsQueryInPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.db?mode=ro")

	repo, err := NewRepository(path)
	assert.Nil(t, repo)
	require.Error(t, err)
	assert.True(t, storage.IsConfiguration(err), "got %v", err)

	_, statErr := os.Stat(filepath.Join(dir, "tasks.db"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCloseIsIdempotent(t *testing.T) {
	repo, err := NewRepository(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	require.NoError(t, repo.Close())
	require.NoError(t, repo.Close())
}
