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


// Package backends registers every built-in storage backend.
//
// Backend packages never register themselves on import. Composition roots
// call RegisterAll (or NewRegistry) with the loaded configuration, which
// makes registration order and backend options explicit.
package backends

import (
	"sync"

	"github.com/poiesic/taskvault/config"
	"github.com/poiesic/taskvault/retry"
	"github.com/poiesic/taskvault/storage"
	"github.com/poiesic/taskvault/storage/badger"
	"github.com/poiesic/taskvault/storage/jsonfile"
	"github.com/poiesic/taskvault/storage/sqlite"
)

// RegisterAll registers the json, sqlite and badger backends with reg,
// configured from cfg. A nil cfg uses config.DefaultConfig().
func RegisterAll(reg *storage.Registry, cfg *config.Config) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	jsonfile.Register(reg,
		jsonfile.WithIndent(cfg.JSON.Indent),
		jsonfile.WithFileMode(cfg.JSON.FileMode.Perm()),
	)

	sqlite.Register(reg,
		sqlite.WithMaxOpenConns(cfg.SQLite.MaxOpenConns),
		sqlite.WithAcquireTimeout(cfg.SQLite.AcquireTimeout.Duration()),
		sqlite.WithBusyTimeout(cfg.SQLite.BusyTimeout.Duration()),
		sqlite.WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.SQLite.MaxRetries,
			BaseDelay:   cfg.SQLite.RetryBaseDelay.Duration(),
			MaxDelay:    cfg.SQLite.RetryMaxDelay.Duration(),
		}),
	)

	badger.Register(reg,
		badger.WithInMemory(cfg.Badger.InMemory),
		badger.WithBackendOptions(badger.WithSyncWrites(cfg.Badger.SyncWrites)),
	)
}

// NewRegistry returns an isolated registry holding every built-in backend.
func NewRegistry(cfg *config.Config) *storage.Registry {
	reg := storage.NewRegistry()
	RegisterAll(reg, cfg)
	return reg
}

var defaultOnce sync.Once

// Default registers the built-in backends with default settings into
// storage.Default, once, and returns it.
func Default() *storage.Registry {
	defaultOnce.Do(func() {
		RegisterAll(storage.Default, nil)
	})
	return storage.Default
}
