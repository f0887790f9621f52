package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "json", cfg.Backend)
	assert.Equal(t, "tasks.json", cfg.Path)
	assert.Equal(t, "  ", cfg.JSON.Indent)
	assert.Equal(t, os.FileMode(0o644), cfg.JSON.FileMode.Perm())
	assert.Equal(t, 4, cfg.SQLite.MaxOpenConns)
	assert.Equal(t, 5*time.Second, cfg.SQLite.AcquireTimeout.Duration())
	assert.Equal(t, 10*time.Millisecond, cfg.SQLite.RetryBaseDelay.Duration())
	require.NoError(t, cfg.Validate())
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig(
		WithBackend(" SQLite "),
		WithPath("/tmp/tasks.db"),
		WithLogLevel("DEBUG"),
		WithSQLitePool(8, time.Second),
	)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sqlite", cfg.Backend)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.SQLite.MaxOpenConns)
	assert.Equal(t, time.Second, cfg.SQLite.AcquireTimeout.Duration())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty backend", func(c *Config) { c.Backend = " " }},
		{"empty path", func(c *Config) { c.Path = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"zero pool", func(c *Config) { c.SQLite.MaxOpenConns = 0 }},
		{"zero acquire timeout", func(c *Config) { c.SQLite.AcquireTimeout = 0 }},
		{"negative busy timeout", func(c *Config) { c.SQLite.BusyTimeout = Duration(-time.Second) }},
		{"zero retries", func(c *Config) { c.SQLite.MaxRetries = 0 }},
		{"max delay below base", func(c *Config) { c.SQLite.RetryMaxDelay = Duration(time.Millisecond) }},
		{"file mode out of range", func(c *Config) { c.JSON.FileMode = 0o4755 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateInMemoryBadgerNeedsNoPath(t *testing.T) {
	cfg := NewConfig(WithBackend("badger"), WithPath(""), WithBadgerInMemory(true))
	assert.NoError(t, cfg.Validate())
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"Info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLogLevel("trace")
	assert.Error(t, err)
}

func TestParseYAML(t *testing.T) {
	doc := `
backend: sqlite
path: data/tasks.db
sqlite:
  max_open_conns: 2
  busy_timeout: 250ms
json:
  file_mode: "0600"
`
	cfg, err := Parse([]byte(doc), ".yaml")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Backend)
	assert.Equal(t, "data/tasks.db", cfg.Path)
	assert.Equal(t, 2, cfg.SQLite.MaxOpenConns)
	assert.Equal(t, 250*time.Millisecond, cfg.SQLite.BusyTimeout.Duration())
	assert.Equal(t, os.FileMode(0o600), cfg.JSON.FileMode.Perm())

	// Keys left out keep their defaults.
	assert.Equal(t, "  ", cfg.JSON.Indent)
	assert.Equal(t, 5*time.Second, cfg.SQLite.AcquireTimeout.Duration())
	assert.Equal(t, "info", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestParseJSONWithComments(t *testing.T) {
	doc := `{
	// relational backend
	"backend": "sqlite",
	"path": "tasks.db",
	"sqlite": {"acquire_timeout": "2s", "max_retries": 3,},
	"json": {"indent": "", "file_mode": 384},
}`
	cfg, err := Parse([]byte(doc), ".jsonc")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Backend)
	assert.Equal(t, 2*time.Second, cfg.SQLite.AcquireTimeout.Duration())
	assert.Equal(t, 3, cfg.SQLite.MaxRetries)
	assert.Equal(t, "", cfg.JSON.Indent)
	assert.Equal(t, os.FileMode(0o600), cfg.JSON.FileMode.Perm())
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("backend: json\nbakend: sqlite\n"), ".yaml")
	assert.Error(t, err)

	_, err = Parse([]byte(`{"bakend": "sqlite"}`), ".json")
	assert.Error(t, err)
}

func TestParseRejectsBadValues(t *testing.T) {
	_, err := Parse([]byte("sqlite:\n  busy_timeout: soon\n"), ".yaml")
	assert.Error(t, err)

	_, err = Parse([]byte("json:\n  file_mode: \"0999\"\n"), ".yaml")
	assert.Error(t, err)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse([]byte("  \n"), ".yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: badger\npath: "+dir+"\n"), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Backend)
	assert.Equal(t, dir, cfg.Path)

	_, err = LoadFromPath(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadHonoursEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: sqlite\npath: a.db\n"), 0o644))

	t.Setenv(EnvConfigPath, path)
	t.Setenv(EnvPath, "b.db")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Backend)
	assert.Equal(t, "b.db", cfg.Path)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestFindConfigPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	assert.Equal(t, "", FindConfigPath())

	p := filepath.Join(xdg, "taskvault", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("backend: json\n"), 0o644))
	assert.Equal(t, p, FindConfigPath())

	require.NoError(t, os.WriteFile(ConfigFileName, []byte("backend: json\n"), 0o644))
	assert.Equal(t, ConfigFileName, FindConfigPath())

	t.Setenv(EnvConfigPath, "/explicit.yaml")
	assert.Equal(t, "/explicit.yaml", FindConfigPath())
}

func TestFileModeText(t *testing.T) {
	var m FileMode
	require.NoError(t, m.UnmarshalJSON([]byte(`"0640"`)))
	assert.Equal(t, FileMode(0o640), m)
	assert.Equal(t, "0640", m.String())

	out, err := m.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `"0640"`, string(out))
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.NoError(t, d.UnmarshalJSON([]byte(`1000`)))
	assert.Equal(t, time.Microsecond, d.Duration())

	out, err := Duration(1500 * time.Millisecond).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(out))
}

func TestParseCommentOnlyYAML(t *testing.T) {
	cfg, err := Parse([]byte("# nothing configured yet\n"), ".yml")
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Backend)
}
