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


// Package taskvault persists task snapshots through interchangeable
// storage backends.
//
// Open turns a loaded configuration into a ready repository:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	repo, err := taskvault.Open(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer repo.Close()
//
// Callers that need a backend outside the built-in set register it on their
// own storage.Registry and pass it with WithRegistry.
package taskvault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/taskvault/config"
	"github.com/poiesic/taskvault/storage"
	"github.com/poiesic/taskvault/storage/backends"
)

// OpenOption configures Open.
type OpenOption func(*openOptions)

type openOptions struct {
	registry *storage.Registry
	logger   *slog.Logger
}

// WithRegistry resolves the backend from reg instead of a registry of the
// built-in backends configured from cfg.
func WithRegistry(reg *storage.Registry) OpenOption {
	return func(o *openOptions) {
		o.registry = reg
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) OpenOption {
	return func(o *openOptions) {
		o.logger = logger
	}
}

// Open validates cfg, opens the configured backend at the configured path
// and initializes it. A nil cfg uses config.DefaultConfig().
func Open(ctx context.Context, cfg *config.Config, opts ...OpenOption) (storage.Repository, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	options := &openOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default().With("component", "taskvault")
	}

	if err := cfg.Validate(); err != nil {
		return nil, &storage.Error{Kind: storage.ErrConfiguration, Op: "open", Backend: cfg.Backend, Err: err}
	}
	if options.registry == nil {
		options.registry = backends.NewRegistry(cfg)
	}

	repo, err := options.registry.Open(cfg.Backend, cfg.Path)
	if err != nil {
		return nil, err
	}
	if err := repo.Initialize(ctx); err != nil {
		if closeErr := repo.Close(); closeErr != nil {
			options.logger.Error("error closing repository", "backend", cfg.Backend, "err", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Backend, err)
	}

	options.logger.Debug("storage opened", "backend", cfg.Backend, "path", cfg.Path)
	return repo, nil
}
