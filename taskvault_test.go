package taskvault

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/taskvault/config"
	"github.com/poiesic/taskvault/storage"
	"github.com/poiesic/taskvault/storage/jsonfile"
	"github.com/poiesic/taskvault/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		backend string
		path    string
	}{
		{"json", "tasks.json"},
		{"sqlite", "tasks.db"},
		{"badger", "tasks"},
	} {
		t.Run(tc.backend, func(t *testing.T) {
			cfg := config.NewConfig(
				config.WithBackend(tc.backend),
				config.WithPath(filepath.Join(t.TempDir(), tc.path)),
			)

			repo, err := Open(ctx, cfg)
			require.NoError(t, err)
			defer repo.Close()

			task := storagetest.Task("t1", "Write report", 0)
			require.NoError(t, repo.SaveTask(ctx, task))

			got, err := repo.GetTask(ctx, "t1")
			require.NoError(t, err)
			assert.True(t, task.Equal(got))
		})
	}
}

func TestOpenInMemoryBadger(t *testing.T) {
	cfg := config.NewConfig(config.WithBackend("badger"), config.WithPath(""), config.WithBadgerInMemory(true))

	repo, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, repo.Close())
}

func TestOpenInvalidConfig(t *testing.T) {
	cfg := config.NewConfig(config.WithPath(""))

	repo, err := Open(context.Background(), cfg)
	assert.Nil(t, repo)
	assert.True(t, storage.IsConfiguration(err))
}

func TestOpenUnknownBackend(t *testing.T) {
	cfg := config.NewConfig(config.WithBackend("postgres"), config.WithPath("x"))

	_, err := Open(context.Background(), cfg)
	assert.True(t, storage.IsNotRegistered(err))
	assert.Contains(t, err.Error(), "[badger, json, sqlite]")
}

func TestOpenInitializeFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	cfg := config.NewConfig(config.WithPath(filepath.Join(blocker, "tasks.json")))
	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, storage.IsConfiguration(err))
}

func TestOpenWithRegistry(t *testing.T) {
	reg := storage.NewRegistry()
	jsonfile.Register(reg)

	cfg := config.NewConfig(config.WithBackend("json"), config.WithPath(filepath.Join(t.TempDir(), "t.json")))
	repo, err := Open(context.Background(), cfg, WithRegistry(reg))
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	cfg.Backend = "sqlite"
	_, err = Open(context.Background(), cfg, WithRegistry(reg))
	assert.True(t, storage.IsNotRegistered(err))
}
