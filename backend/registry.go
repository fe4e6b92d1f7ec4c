// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/ringq/backend/software"
)

// Factory creates a new backend instance.
type Factory func() (Backend, error)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = map[string]Factory{
		BackendSoftware:    func() (Backend, error) { return NewSoftwareBackend(software.Config{}), nil },
		BackendNoop:        func() (Backend, error) { return NewNoopBackend() },
		BackendHALSoftware: func() (Backend, error) { return NewHALSoftwareBackend() },
	}
	// Priority order for backend selection (first available wins).
	backendPriority = []string{BackendSoftware, BackendHALSoftware, BackendNoop}
)

// Register registers a backend factory with the given name.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the sorted names of registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Get creates the backend registered under name.
func Get(name string) (Backend, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backend %q: %w", name, ErrBackendNotAvailable)
	}
	return factory()
}

// Default creates the first backend in priority order that can be opened,
// falling back to any registered backend.
func Default() (Backend, error) {
	registryMu.RLock()
	order := slices.Clone(backendPriority)
	for name := range backends {
		if !slices.Contains(order, name) {
			order = append(order, name)
		}
	}
	registryMu.RUnlock()

	var lastErr error = ErrBackendNotAvailable
	for _, name := range order {
		b, err := Get(name)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// MustDefault returns the default backend or panics.
func MustDefault() Backend {
	b, err := Default()
	if err != nil {
		panic("backend: no backend available: " + err.Error())
	}
	return b
}
