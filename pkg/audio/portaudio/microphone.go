// Package portaudio provides an [audio.Source] backed by the default PortAudio
// input device.
//
// Requires the PortAudio C library (pkg-config portaudio-2.0).
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// Microphone captures mono float32 samples from the default input device.
// It implements [audio.Source]. Read and Close may be called from different
// goroutines; everything else is single-owner.
type Microphone struct {
	mu     sync.Mutex
	stream *pa.Stream
	buf    []float32
	inited bool
	closed bool
}

var _ audio.Source = (*Microphone)(nil)

// New returns an unopened Microphone.
func New() *Microphone { return &Microphone{} }

// Open initialises PortAudio and starts a blocking input stream with one
// channel at sampleRate, delivering quantum samples per Read. Any failure is
// wrapped in [audio.ErrPermission] and leaves nothing running.
func (m *Microphone) Open(ctx context.Context, sampleRate, quantum int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return errors.New("portaudio: microphone already open")
	}

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("%w: initialize: %v", audio.ErrPermission, err)
	}

	buf := make([]float32, quantum)
	stream, err := pa.OpenDefaultStream(1, 0, float64(sampleRate), quantum, buf)
	if err != nil {
		_ = pa.Terminate()
		return fmt.Errorf("%w: open input: %v", audio.ErrPermission, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return fmt.Errorf("%w: start input: %v", audio.ErrPermission, err)
	}

	m.stream = stream
	m.buf = buf
	m.inited = true
	m.closed = false
	slog.Debug("portaudio: microphone open", "sample_rate", sampleRate, "quantum", quantum)
	return nil
}

// Read blocks until the next quantum is captured and copies it into buf.
func (m *Microphone) Read(buf []float32) error {
	m.mu.Lock()
	stream, src, closed := m.stream, m.buf, m.closed
	m.mu.Unlock()
	if stream == nil || closed {
		return errors.New("portaudio: microphone not open")
	}
	if err := stream.Read(); err != nil && !errors.Is(err, pa.InputOverflowed) {
		return fmt.Errorf("portaudio: read: %w", err)
	}
	copy(buf, src)
	return nil
}

// Close stops the stream, closes it, and terminates PortAudio. Each step is
// attempted even when an earlier one fails. Safe to call more than once.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.inited {
		return nil
	}
	m.closed = true

	var errs []error
	if m.stream != nil {
		if err := m.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stop: %w", err))
		}
		if err := m.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close: %w", err))
		}
		m.stream = nil
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	m.inited = false
	return errors.Join(errs...)
}
