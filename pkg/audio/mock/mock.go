// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.Output] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Quanta: [][]float32{{0.5, -0.5}}}
//	out := &mock.Output{}
//	out.PlayErrs = []error{audio.ErrPlaybackBlocked}
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
//
// Read serves Quanta in order; once they are exhausted it blocks until Close
// is called, then returns [ErrSourceClosed].
type Source struct {
	mu sync.Mutex

	// OpenError is returned by [Source.Open].
	OpenError error

	// CloseError is returned by the first [Source.Close] call.
	CloseError error

	// Quanta are copied into the caller's buffer by successive Read calls.
	Quanta [][]float32

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// OpenedRate and OpenedQuantum record the arguments of the last Open call.
	OpenedRate    int
	OpenedQuantum int

	next   int
	closed chan struct{}
	once   sync.Once
}

// ErrSourceClosed is returned by [Source.Read] after Close.
var ErrSourceClosed = errors.New("mock: source closed")

func (s *Source) closedCh() chan struct{} {
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	return s.closed
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context, sampleRate, quantum int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	s.OpenedRate = sampleRate
	s.OpenedQuantum = quantum
	s.closedCh()
	return s.OpenError
}

// Read implements [audio.Source].
func (s *Source) Read(buf []float32) error {
	s.mu.Lock()
	closed := s.closedCh()
	if s.next < len(s.Quanta) {
		q := s.Quanta[s.next]
		s.next++
		s.mu.Unlock()
		clear(buf)
		copy(buf, q)
		return nil
	}
	s.mu.Unlock()
	<-closed
	return ErrSourceClosed
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	closed := s.closedCh()
	s.mu.Unlock()

	var err error
	s.once.Do(func() {
		close(closed)
		err = s.CloseError
	})
	return err
}

// Closes returns the number of Close calls.
func (s *Source) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Clip is the [audio.Clip] produced by [Output.Decode]. It keeps the raw bytes
// so tests can inspect exactly what was assembled.
type Clip struct {
	Data []byte

	mu     sync.Mutex
	closed int
}

// Duration implements [audio.Clip].
func (c *Clip) Duration() time.Duration { return time.Duration(len(c.Data)) * time.Microsecond }

// Close implements [audio.Clip].
func (c *Clip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// Closed returns how many times Close was called.
func (c *Clip) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Playback is the [audio.Playback] returned by [Output.Play]. Tests end it
// naturally with Finish.
type Playback struct {
	Clip *Clip

	done    chan struct{}
	once    sync.Once
	stopped bool
	mu      sync.Mutex
}

func newPlayback(c *Clip) *Playback {
	return &Playback{Clip: c, done: make(chan struct{})}
}

// Done implements [audio.Playback].
func (p *Playback) Done() <-chan struct{} { return p.done }

// Stop implements [audio.Playback].
func (p *Playback) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
}

// Finish simulates the natural end of playback.
func (p *Playback) Finish() { p.once.Do(func() { close(p.done) }) }

// Stopped reports whether Stop was called.
func (p *Playback) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Output is a mock implementation of [audio.Output].
type Output struct {
	mu sync.Mutex

	// ProbeError is returned by [Output.Probe].
	ProbeError error

	// DecodeError, when non-nil, is returned by [Output.Decode].
	DecodeError error

	// PlayErrs are returned by successive Play calls; once exhausted Play
	// succeeds.
	PlayErrs []error

	// CallCountProbe records how many times Probe was called.
	CallCountProbe int

	// Decoded records every clip produced by Decode, in order.
	Decoded []*Clip

	// Played records every playback started, in order.
	Played []*Playback

	// PlayAttempts records the number of Play calls, including rejected ones.
	PlayAttempts int
}

// Probe implements [audio.Output].
func (o *Output) Probe(_ context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountProbe++
	return o.ProbeError
}

// Decode implements [audio.Output].
func (o *Output) Decode(data []byte) (audio.Clip, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.DecodeError != nil {
		return nil, o.DecodeError
	}
	c := &Clip{Data: append([]byte(nil), data...)}
	o.Decoded = append(o.Decoded, c)
	return c, nil
}

// Play implements [audio.Output].
func (o *Output) Play(_ context.Context, clip audio.Clip) (audio.Playback, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.PlayAttempts++
	if len(o.PlayErrs) > 0 {
		err := o.PlayErrs[0]
		o.PlayErrs = o.PlayErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	c, _ := clip.(*Clip)
	p := newPlayback(c)
	o.Played = append(o.Played, p)
	return p, nil
}

// Playbacks returns a snapshot of the started playbacks.
func (o *Output) Playbacks() []*Playback {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Playback(nil), o.Played...)
}

// Probes returns the number of Probe calls.
func (o *Output) Probes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountProbe
}
