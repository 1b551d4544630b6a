// Package settings stores the named credentials a user supplies for the
// backend and checks them before streaming starts.
//
// Two stores are provided: [Memory] for tests and ephemeral use, and
// [FileStore], which persists credentials to a YAML file readable only by the
// owner. [Require] is the precondition check run before any capture or socket
// resource is acquired; [Sync] pushes the stored values to the backend for a
// session.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
)

// ErrMissingCredential is wrapped by [Require] when a named credential has no
// value.
var ErrMissingCredential = errors.New("settings: missing credential")

// Store holds named credential strings.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value of name and whether it is set to a non-empty value.
	Get(name string) (string, bool)

	// Set stores value under name. An empty value removes name.
	Set(name, value string) error

	// All returns a copy of every stored credential.
	All() map[string]string
}

// Require returns an error wrapping [ErrMissingCredential] that names every
// credential in names that s does not hold.
func Require(s Store, names ...string) error {
	var missing []string
	for _, n := range names {
		if _, ok := s.Get(n); !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMissingCredential, strings.Join(missing, ", "))
}

// Remote is the backend's per-session settings endpoint.
type Remote interface {
	PutSettings(ctx context.Context, sessionID string, values map[string]string) ([]string, error)
}

// Sync pushes every non-empty credential in s to the backend for sessionID
// and returns the names the backend reports as set. Nothing is sent when the
// store is empty.
func Sync(ctx context.Context, s Store, r Remote, sessionID string) ([]string, error) {
	values := make(map[string]string)
	for k, v := range s.All() {
		if v = strings.TrimSpace(v); v != "" {
			values[k] = v
		}
	}
	if len(values) == 0 {
		return nil, nil
	}
	set, err := r.PutSettings(ctx, sessionID, values)
	if err != nil {
		return nil, fmt.Errorf("settings: sync: %w", err)
	}
	slog.Debug("settings: synced credentials", "session_id", sessionID, "names", set)
	return set, nil
}

// ---- memory ----

// Memory is an in-memory [Store].
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ Store = (*Memory)(nil)

// NewMemory returns a Memory store seeded with initial.
func NewMemory(initial map[string]string) *Memory {
	m := &Memory{values: make(map[string]string)}
	for k, v := range initial {
		_ = m.Set(k, v)
	}
	return m
}

// Get implements [Store].
func (m *Memory) Get(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	return v, ok && v != ""
}

// Set implements [Store].
func (m *Memory) Set(name, value string) error {
	if name == "" {
		return errors.New("settings: credential name must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	value = strings.TrimSpace(value)
	if value == "" {
		delete(m.values, name)
		return nil
	}
	m.values[name] = value
	return nil
}

// All implements [Store].
func (m *Memory) All() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.values)
}

// Names returns the stored credential names in sorted order.
func Names(s Store) []string {
	return slices.Sorted(maps.Keys(s.All()))
}
