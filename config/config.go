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


// Package config holds taskvault settings: which backend to open, where,
// and how each backend is tuned.
//
// Config file locations (priority order):
//  1. $TASKVAULT_CONFIG
//  2. ./taskvault.yaml
//  3. $XDG_CONFIG_HOME/taskvault/config.yaml
//  4. ~/.config/taskvault/config.yaml
//
// Files ending in .json, .jsonc or .hujson are read as JSON with comments
// and trailing commas; anything else is read as YAML. Environment
// variables override file values.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config holds storage configuration.
type Config struct {
	// Backend is the registry name of the backend to open.
	// Default: "json"
	Backend string `yaml:"backend" json:"backend"`

	// Path is the storage location: a file for json and sqlite, a directory
	// for badger.
	// Default: "tasks.json"
	Path string `yaml:"path" json:"path"`

	// LogLevel is one of debug, info, warn, error.
	// Default: "info"
	LogLevel string `yaml:"log_level" json:"log_level"`

	JSON   JSONConfig   `yaml:"json" json:"json"`
	SQLite SQLiteConfig `yaml:"sqlite" json:"sqlite"`
	Badger BadgerConfig `yaml:"badger" json:"badger"`
}

// JSONConfig tunes the flat-file backend.
type JSONConfig struct {
	// Indent is used to pretty-print the document; empty writes compact
	// JSON.
	Indent string `yaml:"indent" json:"indent"`

	// FileMode is the permission of the document file.
	FileMode FileMode `yaml:"file_mode" json:"file_mode"`
}

// SQLiteConfig tunes the relational backend.
type SQLiteConfig struct {
	MaxOpenConns   int      `yaml:"max_open_conns" json:"max_open_conns"`
	AcquireTimeout Duration `yaml:"acquire_timeout" json:"acquire_timeout"`
	BusyTimeout    Duration `yaml:"busy_timeout" json:"busy_timeout"`
	MaxRetries     int      `yaml:"max_retries" json:"max_retries"`
	RetryBaseDelay Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	RetryMaxDelay  Duration `yaml:"retry_max_delay" json:"retry_max_delay"`
}

// BadgerConfig tunes the key-value backend.
type BadgerConfig struct {
	InMemory   bool `yaml:"in_memory" json:"in_memory"`
	SyncWrites bool `yaml:"sync_writes" json:"sync_writes"`
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithBackend sets the backend name.
func WithBackend(name string) ConfigOption {
	return func(c *Config) {
		c.Backend = name
	}
}

// WithPath sets the storage location.
func WithPath(path string) ConfigOption {
	return func(c *Config) {
		c.Path = path
	}
}

// WithLogLevel sets the log level.
func WithLogLevel(level string) ConfigOption {
	return func(c *Config) {
		c.LogLevel = level
	}
}

// WithSQLitePool sets the connection pool bound and acquire timeout.
func WithSQLitePool(maxOpenConns int, acquireTimeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.SQLite.MaxOpenConns = maxOpenConns
		c.SQLite.AcquireTimeout = Duration(acquireTimeout)
	}
}

// WithBadgerInMemory keeps badger data in memory.
func WithBadgerInMemory(inMemory bool) ConfigOption {
	return func(c *Config) {
		c.Badger.InMemory = inMemory
	}
}

// DefaultConfig returns a Config with sensible defaults: a JSON document
// named tasks.json in the working directory.
func DefaultConfig() *Config {
	return &Config{
		Backend:  "json",
		Path:     "tasks.json",
		LogLevel: "info",
		JSON: JSONConfig{
			Indent:   "  ",
			FileMode: 0o644,
		},
		SQLite: SQLiteConfig{
			MaxOpenConns:   4,
			AcquireTimeout: Duration(5 * time.Second),
			BusyTimeout:    Duration(5 * time.Second),
			MaxRetries:     5,
			RetryBaseDelay: Duration(10 * time.Millisecond),
			RetryMaxDelay:  Duration(time.Second),
		},
	}
}

// NewConfig creates a Config with the default values and applies the
// provided options.
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// applyDefaults fills in values a partial file left unset.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.Path == "" && !c.Badger.InMemory {
		c.Path = d.Path
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.JSON.FileMode == 0 {
		c.JSON.FileMode = d.JSON.FileMode
	}
	if c.SQLite.MaxOpenConns == 0 {
		c.SQLite.MaxOpenConns = d.SQLite.MaxOpenConns
	}
	if c.SQLite.AcquireTimeout == 0 {
		c.SQLite.AcquireTimeout = d.SQLite.AcquireTimeout
	}
	if c.SQLite.BusyTimeout == 0 {
		c.SQLite.BusyTimeout = d.SQLite.BusyTimeout
	}
	if c.SQLite.MaxRetries == 0 {
		c.SQLite.MaxRetries = d.SQLite.MaxRetries
	}
	if c.SQLite.RetryBaseDelay == 0 {
		c.SQLite.RetryBaseDelay = d.SQLite.RetryBaseDelay
	}
	if c.SQLite.RetryMaxDelay == 0 {
		c.SQLite.RetryMaxDelay = d.SQLite.RetryMaxDelay
	}
}

// Normalize puts names in canonical form.
func (c *Config) Normalize() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.Path = strings.TrimSpace(c.Path)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

// Validate checks that the configuration is valid and complete.
// It normalizes the configuration first.
func (c *Config) Validate() error {
	c.Normalize()

	if c.Backend == "" {
		return errors.New("config: backend is required")
	}
	if c.Path == "" && !(c.Backend == "badger" && c.Badger.InMemory) {
		return errors.New("config: path is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.SQLite.MaxOpenConns < 1 {
		return errors.New("config: sqlite.max_open_conns must be positive")
	}
	if c.SQLite.AcquireTimeout <= 0 {
		return errors.New("config: sqlite.acquire_timeout must be positive")
	}
	if c.SQLite.BusyTimeout < 0 {
		return errors.New("config: sqlite.busy_timeout must not be negative")
	}
	if c.SQLite.MaxRetries < 1 {
		return errors.New("config: sqlite.max_retries must be positive")
	}
	if c.SQLite.RetryBaseDelay <= 0 {
		return errors.New("config: sqlite.retry_base_delay must be positive")
	}
	if c.SQLite.RetryMaxDelay < c.SQLite.RetryBaseDelay {
		return errors.New("config: sqlite.retry_max_delay must not be below retry_base_delay")
	}
	if c.JSON.FileMode&^0o777 != 0 {
		return fmt.Errorf("config: json.file_mode %s has bits outside 0777", c.JSON.FileMode)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	return ParseLogLevel(c.LogLevel)
}

// ParseLogLevel converts a level name to a slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", level)
	}
}
