// Package store provides the durable key/value side-store used to persist
// alerts, rules, channels, correlations, and time-series snapshots. The
// engine keeps its primary state in memory and treats this store as best
// effort: every implementation must be safe for concurrent use, and callers
// must function (degraded) when the store is nil or unavailable.
//
// Keys are namespaced as "<namespace>/<id>".
package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// Store is the key/value contract consumed by the engine.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Flush removes every key in the given namespace.
	Flush(ctx context.Context, namespace string) error

	// List returns all live key/value pairs whose key starts with prefix.
	// Needed to reload persisted state at engine start.
	List(ctx context.Context, prefix string) (map[string][]byte, error)

	// Close releases underlying resources.
	Close() error
}

// Key joins a namespace and id into a store key.
func Key(namespace, id string) string {
	return namespace + "/" + id
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Store used when no durable backend is configured
// and in tests.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]memoryEntry)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.items[key]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return nil, ErrNotFound
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: make([]byte, len(value))}
	copy(entry.value, value)
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.items[key] = entry
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Flush implements Store.
func (m *Memory) Flush(_ context.Context, namespace string) error {
	prefix := namespace + "/"

	m.mu.Lock()
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			delete(m.items, key)
		}
	}
	m.mu.Unlock()
	return nil
}

// List implements Store.
func (m *Memory) List(_ context.Context, prefix string) (map[string][]byte, error) {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte)
	for key, entry := range m.items {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			continue
		}
		value := make([]byte, len(entry.value))
		copy(value, entry.value)
		out[key] = value
	}
	return out, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
