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


package storage

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Registry maps backend names to factories.
// The zero value is not usable; create registries with NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *slog.Logger
}

// Default is a process-wide registry for composition roots. Libraries and
// tests should build their own registry with NewRegistry.
var Default = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// SetLogger sets the logger for registry events. Without one the registry
// logs through slog.Default() as it is at the time of each event.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

func (r *Registry) log() *slog.Logger {
	r.mu.RLock()
	logger := r.logger
	r.mu.RUnlock()
	if logger == nil {
		logger = slog.Default().With("component", "storage-registry")
	}
	return logger
}

// Register makes a backend available under name. Registering a name twice
// replaces the earlier factory. Register panics if name is empty or
// factory is nil.
func (r *Registry) Register(name string, factory Factory) {
	name = strings.TrimSpace(name)
	if name == "" {
		panic("storage: Register with empty backend name")
	}
	if factory == nil {
		panic("storage: Register factory is nil for backend " + name)
	}

	r.mu.Lock()
	_, replaced := r.factories[name]
	r.factories[name] = factory
	r.mu.Unlock()

	if replaced {
		r.log().Debug("backend factory replaced", "backend", name)
	} else {
		r.log().Debug("backend registered", "backend", name)
	}
}

// Get returns the factory registered under name.
func (r *Registry) Get(name string) (Factory, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &Error{
			Kind:    ErrNotRegistered,
			Op:      "get_backend",
			Backend: name,
			Detail:  fmt.Sprintf("available backends: [%s]", strings.Join(r.Backends(), ", ")),
		}
	}
	return factory, nil
}

// Backends returns the registered names in sorted order.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// Open resolves name and invokes its factory with path.
// The returned repository still needs Initialize.
func (r *Registry) Open(name, path string) (Repository, error) {
	factory, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return factory(path)
}

// Register adds a backend to the Default registry.
func Register(name string, factory Factory) {
	Default.Register(name, factory)
}
