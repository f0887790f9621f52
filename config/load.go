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


package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath names a config file explicitly.
	EnvConfigPath = "TASKVAULT_CONFIG"

	// ConfigFileName is looked up in the working directory.
	ConfigFileName = "taskvault.yaml"

	EnvBackend  = "TASKVAULT_BACKEND"
	EnvPath     = "TASKVAULT_PATH"
	EnvLogLevel = "TASKVAULT_LOG_LEVEL"
)

// Load finds and loads the configuration file, then applies environment
// overrides. With no file on disk it returns the defaults.
func Load() (*Config, error) {
	path := FindConfigPath()
	if path == "" {
		cfg := DefaultConfig()
		ApplyEnv(cfg)
		return cfg, nil
	}
	cfg, err := LoadFromPath(path)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a config document. ext selects the format: ".json",
// ".jsonc" and ".hujson" are JSON with comments, anything else is YAML.
// Keys the document leaves out keep their defaults.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) > 0 {
		switch strings.ToLower(ext) {
		case ".json", ".jsonc", ".hujson":
			std, err := hujson.Standardize(data)
			if err != nil {
				return nil, err
			}
			dec := json.NewDecoder(bytes.NewReader(std))
			dec.DisallowUnknownFields()
			if err := dec.Decode(cfg); err != nil {
				return nil, err
			}
		default:
			dec := yaml.NewDecoder(bytes.NewReader(data))
			dec.KnownFields(true)
			if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

// ApplyEnv overrides backend, path and log level from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvBackend); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv(EnvPath); v != "" {
		cfg.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
}

// FindConfigPath returns the first config file found, or "" if none exists.
func FindConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}

	if fileExists(ConfigFileName) {
		return ConfigFileName
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		p := filepath.Join(xdg, "taskvault", "config.yaml")
		if fileExists(p) {
			return p
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "taskvault", "config.yaml")
		if fileExists(p) {
			return p
		}
	}

	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
