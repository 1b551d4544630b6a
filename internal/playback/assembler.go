package playback

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/audio/wav"
)

// ErrNotAccumulating is returned by [Assembler.Append] outside an
// accumulation.
var ErrNotAccumulating = errors.New("playback: no accumulation in progress")

// State is the assembler's session state.
type State int

const (
	// StateIdle means no fragments are being collected and nothing plays.
	StateIdle State = iota

	// StateAccumulating means fragments of the current turn are being collected.
	StateAccumulating

	// StatePlaying means the assembled turn is playing.
	StatePlaying
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// StatusSink receives short user-visible status messages.
type StatusSink interface {
	SetStatus(text string)
}

// Assembler collects the base64 TTS fragments of one turn and plays them as
// one clip.
//
// At most one accumulation exists at a time. The decoded clip is released
// only after its playback ends, never straight after decoding.
//
// All methods are safe for concurrent use.
type Assembler struct {
	out     audio.Output
	gate    *Gate
	status  StatusSink
	metrics *observe.Metrics

	mu        sync.Mutex
	state     State
	frags     [][]byte
	first     bool
	container bool
	playing   audio.Playback
}

// AssemblerOption is a functional option for configuring an [Assembler].
type AssemblerOption func(*Assembler)

// WithStatus reports decode and playback failures to s.
func WithStatus(s StatusSink) AssemblerOption {
	return func(a *Assembler) {
		a.status = s
	}
}

// WithAssemblerMetrics records fragments and playbacks on m.
func WithAssemblerMetrics(m *observe.Metrics) AssemblerOption {
	return func(a *Assembler) {
		a.metrics = m
	}
}

// NewAssembler returns an idle Assembler playing through out behind gate.
func NewAssembler(out audio.Output, gate *Gate, opts ...AssemblerOption) *Assembler {
	a := &Assembler{out: out, gate: gate}
	for _, o := range opts {
		o(a)
	}
	return a
}

// State returns the current state.
func (a *Assembler) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Begin starts a new accumulation unless one is already in progress, in
// which case the collected fragments are kept and false is returned. Begin
// while a previous turn is still playing starts collecting the next turn.
func (a *Assembler) Begin() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateAccumulating {
		return false
	}
	a.state = StateAccumulating
	a.frags = nil
	a.first = true
	a.container = false
	return true
}

// Append decodes one base64 fragment and adds it to the accumulation. A
// fragment after the first that carries its own container header has that
// header removed.
func (a *Assembler) Append(ctx context.Context, fragment string) error {
	raw, err := base64.StdEncoding.DecodeString(fragment)
	if err != nil {
		return fmt.Errorf("playback: fragment: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateAccumulating {
		return ErrNotAccumulating
	}

	stripped := false
	if a.first {
		a.container = wav.HasSignature(raw)
		a.first = false
	} else if rest := wav.StripDuplicateHeader(raw); len(rest) != len(raw) {
		raw = rest
		stripped = true
	}
	a.frags = append(a.frags, raw)

	if a.metrics != nil {
		a.metrics.RecordFragment(ctx, stripped)
	}
	return nil
}

// Finalize concatenates the fragments, repairs the container size fields,
// decodes the result and plays it through the gate. With no accumulation in
// progress, or no fragments, it does nothing. Decode failures end the turn
// without retry.
func (a *Assembler) Finalize(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateAccumulating {
		a.mu.Unlock()
		return nil
	}
	frags, container := a.frags, a.container
	a.frags = nil
	a.state = StateIdle
	a.mu.Unlock()

	if len(frags) == 0 {
		return nil
	}

	buf := bytes.Join(frags, nil)
	if container && !wav.PatchSizes(buf) {
		slog.Warn("playback: assembled buffer shorter than container header", "bytes", len(buf))
	}
	if a.metrics != nil {
		a.metrics.TTSAssembledBytes.Record(ctx, int64(len(buf)))
	}

	clip, err := a.out.Decode(buf)
	if err != nil {
		a.report(ctx, "decode_error", "Audio decode failed")
		return fmt.Errorf("playback: decode %d bytes: %w", len(buf), err)
	}

	err = a.gate.Submit(ctx, Request{
		Label: "tts",
		Play:  func(ctx context.Context) error { return a.start(ctx, clip) },
	})
	if errors.Is(err, ErrDeferred) {
		a.report(ctx, "deferred", "Press Enter to enable audio")
	}
	return err
}

// start plays clip and arranges teardown on completion.
func (a *Assembler) start(ctx context.Context, clip audio.Clip) error {
	begin := time.Now()
	pb, err := a.out.Play(ctx, clip)
	if err != nil {
		_ = clip.Close()
		a.report(ctx, "error", "Audio playback failed")
		return fmt.Errorf("playback: play: %w", err)
	}
	if a.metrics != nil {
		a.metrics.RecordPlayback(ctx, "stream", "started")
		a.metrics.PlaybackStartLatency.Record(ctx, time.Since(begin).Seconds())
	}

	a.mu.Lock()
	a.playing = pb
	if a.state == StateIdle {
		a.state = StatePlaying
	}
	a.mu.Unlock()

	go a.teardownAfter(pb, clip)
	return nil
}

func (a *Assembler) teardownAfter(pb audio.Playback, clip audio.Clip) {
	<-pb.Done()
	if err := clip.Close(); err != nil {
		slog.Warn("playback: release clip", "err", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.playing == pb {
		a.playing = nil
		if a.state == StatePlaying {
			a.state = StateIdle
		}
	}
}

// Stop halts the current playback and drops any accumulation in progress.
func (a *Assembler) Stop() {
	a.mu.Lock()
	pb := a.playing
	a.frags = nil
	a.state = StateIdle
	a.mu.Unlock()

	if pb != nil {
		pb.Stop()
	}
}

func (a *Assembler) report(ctx context.Context, status, msg string) {
	if a.metrics != nil {
		a.metrics.RecordPlayback(ctx, "stream", status)
	}
	if a.status != nil {
		a.status.SetStatus(msg)
	}
}
