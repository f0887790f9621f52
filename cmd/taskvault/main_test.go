package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/taskvault/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

type harness struct {
	t       *testing.T
	backend string
	path    string
}

func newHarness(t *testing.T, backend, name string) *harness {
	t.Helper()
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	return &harness{t: t, backend: backend, path: filepath.Join(t.TempDir(), name)}
}

// run executes the app and returns stdout and the error.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp(&stdout, &stderr)
	app.ExitErrHandler = func(*cli.Context, error) {}

	full := append([]string{"taskvault", "--backend", h.backend, "--path", h.path}, args...)
	err := app.Run(full)
	return stdout.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err)
	return out
}

func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var rows []map[string]any
	sc := bufio.NewScanner(bytes.NewBufferString(out))
	for sc.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row), sc.Text())
		rows = append(rows, row)
	}
	return rows
}

func TestBackendsCommand(t *testing.T) {
	h := newHarness(t, "json", "tasks.json")
	rows := decodeLines(t, h.mustRun("backends"))

	require.Len(t, rows, 3)
	assert.Equal(t, "badger", rows[0]["backend"])
	assert.Equal(t, "json", rows[1]["backend"])
	assert.Equal(t, "sqlite", rows[2]["backend"])
}

func TestInitCreatesStorage(t *testing.T) {
	h := newHarness(t, "json", "data/tasks.json")
	h.mustRun("init")

	_, err := os.Stat(h.path)
	assert.NoError(t, err)
}

func TestAddGetUpdateDelete(t *testing.T) {
	for _, tc := range []struct{ backend, name string }{
		{"json", "tasks.json"},
		{"sqlite", "tasks.db"},
		{"badger", "tasks"},
	} {
		t.Run(tc.backend, func(t *testing.T) {
			h := newHarness(t, tc.backend, tc.name)

			rows := decodeLines(t, h.mustRun("add", "--id", "t1", "--details", "quarterly numbers",
				"--priority", "4", "--due", "2025-06-30", "Write report"))
			require.Len(t, rows, 1)
			assert.Equal(t, "t1", rows[0]["id"])
			assert.Equal(t, "pending", rows[0]["status"])
			assert.Equal(t, "2025-06-30", rows[0]["due_date"])

			rows = decodeLines(t, h.mustRun("get", "t1"))
			require.Len(t, rows, 1)
			assert.Equal(t, "Write report", rows[0]["name"])
			assert.EqualValues(t, 4, rows[0]["priority"])

			rows = decodeLines(t, h.mustRun("update", "--status", "completed", "--due", "", "t1"))
			require.Len(t, rows, 1)
			assert.Equal(t, "completed", rows[0]["status"])
			assert.NotContains(t, rows[0], "due_date")

			rows = decodeLines(t, h.mustRun("delete", "t1"))
			assert.Equal(t, true, rows[0]["deleted"])

			rows = decodeLines(t, h.mustRun("delete", "t1"))
			assert.Equal(t, false, rows[0]["deleted"])

			_, err := h.run("get", "t1")
			assert.Error(t, err)
		})
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	h := newHarness(t, "json", "tasks.json")

	_, err := h.run("add")
	assert.Error(t, err)

	_, err = h.run("add", "--status", "someday", "x")
	assert.Error(t, err)

	_, err = h.run("add", "--priority", "9", "x")
	assert.Error(t, err)

	_, err = h.run("add", "--due", "tomorrow", "x")
	assert.Error(t, err)
}

func TestListFilters(t *testing.T) {
	h := newHarness(t, "sqlite", "tasks.db")
	h.mustRun("add", "--id", "a", "--status", "pending", "Write report")
	h.mustRun("add", "--id", "b", "--status", "completed", "Review PR")
	h.mustRun("add", "--id", "c", "--status", "in_progress", "--details", "ship the REPORT", "Deploy")

	rows := decodeLines(t, h.mustRun("list"))
	assert.Len(t, rows, 3)

	rows = decodeLines(t, h.mustRun("list", "--status", "pending", "--status", "completed"))
	assert.Len(t, rows, 2)

	rows = decodeLines(t, h.mustRun("list", "--text", "report"))
	require.Len(t, rows, 2)

	rows = decodeLines(t, h.mustRun("list", "--text", "report", "--status", "in_progress"))
	require.Len(t, rows, 1)
	assert.Equal(t, "c", rows[0]["id"])

	rows = decodeLines(t, h.mustRun("list", "--before", "2000-01-01"))
	assert.Empty(t, rows)

	_, err := h.run("list", "--after", "last week")
	assert.Error(t, err)
}

func TestMigrateAndDiff(t *testing.T) {
	h := newHarness(t, "json", "tasks.json")
	h.mustRun("add", "--id", "a", "One")
	h.mustRun("add", "--id", "b", "Two")

	target := filepath.Join(t.TempDir(), "tasks.db")

	_, err := h.run("diff", "--other-backend", "sqlite", "--other-path", target)
	assert.Error(t, err)

	rows := decodeLines(t, h.mustRun("migrate", "--to-backend", "sqlite", "--to-path", target, "--batch-size", "1"))
	require.Len(t, rows, 1)
	assert.EqualValues(t, 2, rows[0]["written"])
	assert.EqualValues(t, 2, rows[0]["batches"])

	rows = decodeLines(t, h.mustRun("diff", "--other-backend", "sqlite", "--other-path", target))
	require.Len(t, rows, 1)
	assert.EqualValues(t, 2, rows[0]["same"])
}

func TestConfigFile(t *testing.T) {
	h := newHarness(t, "", "")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "taskvault.jsonc")
	dbPath := filepath.Join(dir, "tasks.db")
	doc := `{
	// stored next to the config
	"backend": "sqlite",
	"path": "` + dbPath + `",
}`
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))

	var stdout bytes.Buffer
	app := newApp(&stdout, &bytes.Buffer{})
	require.NoError(t, app.Run([]string{"taskvault", "--config", cfgPath, "init"}))

	rows := decodeLines(h.t, stdout.String())
	require.Len(t, rows, 1)
	assert.Equal(t, "sqlite", rows[0]["backend"])
	assert.Equal(t, dbPath, rows[0]["path"])
}

func TestInvalidLogLevel(t *testing.T) {
	h := newHarness(t, "json", "tasks.json")
	_, err := h.run("--log-level", "loud", "backends")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
