/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/uptrace/bun"
)

// Registry holds the wired connections of one configuration.
type Registry struct {
	connections map[string]*Connection
	defaultName string
}

func newRegistry(connections map[string]*Connection, defaultName string) *Registry {
	return &Registry{connections: connections, defaultName: defaultName}
}

// Get returns the named connection.
func (r *Registry) Get(name string) (*Connection, bool) {
	c, ok := r.connections[name]
	return c, ok
}

// Default returns the process-wide default connection, if any.
func (r *Registry) Default() (*Connection, bool) {
	if r.defaultName == "" {
		return nil, false
	}
	return r.Get(r.defaultName)
}

func (r *Registry) DefaultName() string { return r.defaultName }

// Names returns the connection names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.connections))
	for name := range r.connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every connection.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.Names() {
		if err := r.connections[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

var (
	globalRegistry   *Registry
	globalRegistryMu sync.RWMutex
)

// InitConnections wires the given connections and installs the result as
// the global registry, closing any previous one.
func InitConnections(connections map[string]RawConnectionConfig, opts ...EmitterOption) (*Registry, error) {
	if len(connections) == 0 {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	opts = append([]EmitterOption{WithLogger(GetLogger())}, opts...)
	registry, err := NewEmitter(opts...).Emit(connections)
	if err != nil {
		return nil, err
	}

	globalRegistryMu.Lock()
	previous := globalRegistry
	globalRegistry = registry
	globalRegistryMu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			GetLogger().Warn("Failed to close previous connections", "error", err)
		}
	}
	GetLogger().Info("Database connections initialized", "connections", len(connections), "default", registry.DefaultName())
	return registry, nil
}

// GetRegistry returns the global registry or nil.
func GetRegistry() *Registry {
	globalRegistryMu.RLock()
	defer globalRegistryMu.RUnlock()
	return globalRegistry
}

// GetConnection returns a connection of the global registry.
func GetConnection(name string) (*Connection, bool) {
	r := GetRegistry()
	if r == nil {
		return nil, false
	}
	return r.Get(name)
}

// GetDB returns the primary handle of the global default connection.
func GetDB() *bun.DB {
	r := GetRegistry()
	if r == nil {
		return nil
	}
	if c, ok := r.Default(); ok {
		return c.DB()
	}
	return nil
}

// CloseConnections closes and drops the global registry.
func CloseConnections() error {
	globalRegistryMu.Lock()
	r := globalRegistry
	globalRegistry = nil
	globalRegistryMu.Unlock()
	if r == nil {
		return nil
	}
	return r.Close()
}
