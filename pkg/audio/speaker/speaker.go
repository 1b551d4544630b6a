// Package speaker provides an [audio.Output] backed by the beep speaker.
//
// The speaker is not initialised until [Device.Probe] runs. Until then every
// Play call is rejected with [audio.ErrPlaybackBlocked], which is how the
// playback engine models a device that still needs a user gesture.
package speaker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	bspeaker "github.com/gopxl/beep/speaker"
	"github.com/gopxl/beep/wav"

	"github.com/MrWong99/voicelink/pkg/audio"
)

const (
	defaultSampleRate = 24000
	defaultBuffer     = 100 * time.Millisecond

	// resampleQuality is passed to beep.Resample; 4 is beep's recommended
	// quality for speech.
	resampleQuality = 4

	// probeDuration is the length of the silent unlock buffer.
	probeDuration = 10 * time.Millisecond
)

// Option is a functional option for configuring a [Device].
type Option func(*Device)

// WithSampleRate sets the output sample rate in Hz. Clips with a different
// rate are resampled on playback.
func WithSampleRate(rate int) Option {
	return func(d *Device) {
		if rate > 0 {
			d.rate = beep.SampleRate(rate)
		}
	}
}

// WithBuffer sets the speaker buffer duration.
func WithBuffer(buf time.Duration) Option {
	return func(d *Device) {
		if buf > 0 {
			d.buffer = buf
		}
	}
}

// Device is the process-wide speaker. It implements [audio.Output].
type Device struct {
	rate   beep.SampleRate
	buffer time.Duration

	mu    sync.Mutex
	ready bool

	// Seams over the beep speaker package for tests.
	initFn func(beep.SampleRate, int) error
	playFn func(...beep.Streamer)
	lockFn func()
	unlFn  func()
}

var _ audio.Output = (*Device)(nil)

// New returns a locked Device.
func New(opts ...Option) *Device {
	d := &Device{
		rate:   defaultSampleRate,
		buffer: defaultBuffer,
		initFn: bspeaker.Init,
		playFn: bspeaker.Play,
		lockFn: bspeaker.Lock,
		unlFn:  bspeaker.Unlock,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Unlocked reports whether the speaker has been initialised.
func (d *Device) Unlocked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// Probe initialises the speaker (once) and plays a few milliseconds of
// silence. The device counts as unlocked only if initialisation succeeded.
func (d *Device) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	if !d.ready {
		if err := d.initFn(d.rate, d.rate.N(d.buffer)); err != nil {
			d.mu.Unlock()
			return fmt.Errorf("speaker: init: %w", err)
		}
		d.ready = true
		slog.Debug("speaker: initialised", "sample_rate", int(d.rate), "buffer", d.buffer)
	}
	d.mu.Unlock()

	d.playFn(beep.Silence(d.rate.N(probeDuration)))
	return nil
}

// Decode parses a complete WAV container.
func (d *Device) Decode(data []byte) (audio.Clip, error) {
	s, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: wav: %v", audio.ErrDecode, err)
	}
	return &Clip{stream: s, format: format}, nil
}

// DecodeMedia parses a WAV or MP3 payload. kind is a content type or file
// name used to pick the decoder; anything not recognisably MP3 is treated as
// WAV.
func (d *Device) DecodeMedia(data []byte, kind string) (audio.Clip, error) {
	k := strings.ToLower(kind)
	if strings.Contains(k, "mpeg") || strings.Contains(k, "mp3") {
		s, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("%w: mp3: %v", audio.ErrDecode, err)
		}
		return &Clip{stream: s, format: format}, nil
	}
	return d.Decode(data)
}

// Play starts clip on the speaker. Clips must come from this package.
func (d *Device) Play(ctx context.Context, clip audio.Clip) (audio.Playback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, ok := clip.(*Clip)
	if !ok {
		return nil, fmt.Errorf("speaker: unsupported clip type %T", clip)
	}
	if !d.Unlocked() {
		return nil, audio.ErrPlaybackBlocked
	}

	var s beep.Streamer = c.stream
	if c.format.SampleRate != d.rate {
		s = beep.Resample(resampleQuality, c.format.SampleRate, d.rate, s)
	}
	pb := &Playback{
		ctrl: &beep.Ctrl{Streamer: s},
		done: make(chan struct{}),
		lock: d.lockFn,
		unl:  d.unlFn,
	}
	d.playFn(beep.Seq(pb.ctrl, beep.Callback(pb.finish)))
	return pb, nil
}

// Clip is a decoded beep stream.
type Clip struct {
	stream beep.StreamSeekCloser
	format beep.Format

	closeOnce sync.Once
	closeErr  error
}

// Duration implements [audio.Clip].
func (c *Clip) Duration() time.Duration {
	return c.format.SampleRate.D(c.stream.Len())
}

// Rewind seeks the clip back to its first sample.
func (c *Clip) Rewind() error {
	return c.stream.Seek(0)
}

// Close implements [audio.Clip].
func (c *Clip) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.stream.Close() })
	return c.closeErr
}

// Playback is one clip running on the speaker.
type Playback struct {
	ctrl *beep.Ctrl
	done chan struct{}
	once sync.Once
	lock func()
	unl  func()
}

// Done implements [audio.Playback].
func (p *Playback) Done() <-chan struct{} { return p.done }

// Stop implements [audio.Playback]. The speaker drops the stream on its next
// buffer fill.
func (p *Playback) Stop() {
	p.lock()
	p.ctrl.Streamer = nil
	p.unl()
	p.finish()
}

func (p *Playback) finish() { p.once.Do(func() { close(p.done) }) }
