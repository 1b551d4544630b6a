// Package audio defines the interfaces and types for the capture and playback
// sides of a voicelink session.
//
// The primary abstractions are:
//
//   - [Source]: a live capture device delivering fixed-size quanta of
//     floating-point samples.
//   - [Output]: a playback device that decodes complete audio containers into
//     [Clip] values and plays them, yielding a [Playback] per clip.
//
// Implementations of these interfaces are provided by device-specific adapter
// packages (audio/portaudio for capture, audio/speaker for output). The
// interfaces are intentionally narrow so the session and playback engines can
// be tested against the fakes in audio/mock.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermission is returned by [Source.Open] when the capture device cannot
	// be acquired (access denied, no device, device busy). It is fatal to a
	// streaming session start.
	ErrPermission = errors.New("audio: capture device unavailable")

	// ErrPlaybackBlocked is returned by [Output.Play] when the output device has
	// not been unlocked yet. It is the recoverable autoplay rejection.
	ErrPlaybackBlocked = errors.New("audio: playback blocked until unlocked")

	// ErrDecode is returned by [Output.Decode] when the data is not a playable
	// container (malformed or truncated header).
	ErrDecode = errors.New("audio: decode failed")
)

// Source is a live capture device.
//
// Open must either fully acquire the device or return an error wrapping
// [ErrPermission] without leaving anything running. Read blocks until exactly
// len(buf) samples are available. Close releases the device; calling it more
// than once is safe and returns nil.
type Source interface {
	// Open acquires the device at the requested mono sample rate and quantum.
	Open(ctx context.Context, sampleRate, quantum int) error

	// Read fills buf with the next quantum of samples in the range [-1, 1].
	// Samples outside that range may occur and are clamped by the framer.
	Read(buf []float32) error

	// Close stops capture and releases the device.
	Close() error
}

// Clip is a decoded audio buffer ready for playback. Close releases the
// decoder; it must only be called once playback has completed or the clip is
// discarded.
type Clip interface {
	// Duration is the playable length of the clip.
	Duration() time.Duration

	// Close releases the decoder resources.
	Close() error
}

// Playback is one running output of a [Clip].
type Playback interface {
	// Done is closed when playback reaches its natural end or is stopped.
	Done() <-chan struct{}

	// Stop halts playback. Calling Stop after Done is closed is a no-op.
	Stop()
}

// Output decodes and plays audio.
//
// Implementations must be safe for concurrent use: Play is called from the
// session dispatcher while Probe is called from the user-gesture path.
type Output interface {
	// Probe plays a near-silent, minimal-length buffer. A successful probe
	// unlocks the device for later Play calls.
	Probe(ctx context.Context) error

	// Decode parses a complete audio container. Errors wrap [ErrDecode].
	Decode(data []byte) (Clip, error)

	// Play starts playback of clip. Returns [ErrPlaybackBlocked] if the device
	// is still locked.
	Play(ctx context.Context, clip Clip) (Playback, error)
}
