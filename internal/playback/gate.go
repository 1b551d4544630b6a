// Package playback turns agent audio into sound on the output device.
//
// Three pieces cooperate:
//
//   - [Assembler] reassembles the streamed TTS fragments of one turn into a
//     single container, repairs it and plays it once.
//   - [Gate] holds playback back until the output device has been unlocked by
//     a user gesture, keeping only the most recent deferred request.
//   - [Supervisor] plays single-shot agent audio by URL with bounded retries,
//     handing the request to the Gate when retries run out.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrDeferred is returned when a playback request was parked on the [Gate]
// until the next user gesture.
var ErrDeferred = errors.New("playback: deferred until user gesture")

// Prober is the part of the output device the gate needs.
type Prober interface {
	// Probe plays a near-silent buffer to unlock the device.
	Probe(ctx context.Context) error
}

// Request is a deferred playback action.
type Request struct {
	// Label identifies the request in logs (a URL or "tts").
	Label string

	// Play performs the playback.
	Play func(ctx context.Context) error
}

// Gate is the one-shot autoplay unlock gate.
//
// All methods are safe for concurrent use.
type Gate struct {
	out Prober

	mu       sync.Mutex
	unlocked bool
	pending  *Request
}

// NewGate returns a locked gate that probes out on unlock.
func NewGate(out Prober) *Gate {
	return &Gate{out: out}
}

// Unlocked reports whether the gate has been unlocked.
func (g *Gate) Unlocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unlocked
}

// Unlock probes the output device and marks the gate unlocked whether or not
// the probe succeeded. The pending request, if any, is flushed. Once
// unlocked, further calls do nothing and return nil.
//
// The returned error is the probe failure or the flushed request's failure.
func (g *Gate) Unlock(ctx context.Context) error {
	g.mu.Lock()
	if g.unlocked {
		g.mu.Unlock()
		return nil
	}
	g.unlocked = true
	g.mu.Unlock()

	probeErr := g.out.Probe(ctx)
	if probeErr != nil {
		slog.Warn("playback: unlock probe failed", "err", probeErr)
	} else {
		slog.Debug("playback: output unlocked")
	}
	return errors.Join(probeErr, g.flush(ctx))
}

// Gesture records a user gesture: the gate is unlocked if it was not, and the
// pending request is flushed either way.
func (g *Gate) Gesture(ctx context.Context) error {
	if !g.Unlocked() {
		return g.Unlock(ctx)
	}
	return g.flush(ctx)
}

// Submit plays req now when the gate is unlocked, and parks it otherwise, in
// which case [ErrDeferred] is returned.
func (g *Gate) Submit(ctx context.Context, req Request) error {
	if !g.Unlocked() {
		g.Defer(req)
		return ErrDeferred
	}
	return req.Play(ctx)
}

// Defer parks req until the next gesture. An older pending request is
// discarded.
func (g *Gate) Defer(req Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != nil {
		slog.Debug("playback: replacing pending request", "old", g.pending.Label, "new", req.Label)
	}
	g.pending = &req
}

// Pending returns the parked request, if any.
func (g *Gate) Pending() (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return Request{}, false
	}
	return *g.pending, true
}

func (g *Gate) flush(ctx context.Context) error {
	g.mu.Lock()
	req := g.pending
	g.pending = nil
	g.mu.Unlock()

	if req == nil {
		return nil
	}
	slog.Debug("playback: flushing pending request", "label", req.Label)
	return req.Play(ctx)
}
