package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrNoActiveStream is returned by [Manager.Stop] when nothing is streaming.
var ErrNoActiveStream = errors.New("session: no active stream")

// Manager holds at most one active [Stream]. Starting a new stream first
// stops the previous one fully.
//
// All exported methods are safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	active *Stream
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Start stops any active stream and then starts s. On failure no stream is
// active afterwards.
func (m *Manager) Start(ctx context.Context, s *Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev := m.active; prev != nil {
		m.active = nil
		if err := prev.Stop(); err != nil {
			slog.Warn("session: stop previous stream", "session_id", prev.SessionID(), "err", err)
		}
	}

	if err := s.Start(ctx); err != nil {
		return err
	}
	m.active = s

	go m.forget(s)
	return nil
}

// forget clears s once it ends on its own.
func (m *Manager) forget(s *Stream) {
	<-s.Done()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == s {
		m.active = nil
	}
}

// Stop ends the active stream.
func (m *Manager) Stop() error {
	m.mu.Lock()
	s := m.active
	m.active = nil
	m.mu.Unlock()

	if s == nil {
		return ErrNoActiveStream
	}
	return s.Stop()
}

// Active returns the active stream, or nil.
func (m *Manager) Active() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// IsActive reports whether a stream is currently running.
func (m *Manager) IsActive() bool {
	return m.Active() != nil
}

// EndTurn forwards to the active stream. It does nothing without one.
func (m *Manager) EndTurn(ctx context.Context) error {
	if s := m.Active(); s != nil {
		return s.EndTurn(ctx)
	}
	return nil
}

// Ready is a readiness check: it passes only while a stream is active with
// its socket open.
func (m *Manager) Ready(ctx context.Context) error {
	s := m.Active()
	if s == nil {
		return ErrNoActiveStream
	}
	return s.Ready(ctx)
}
