// Package duplex owns the persistent socket between the client and the voice
// backend.
//
// A [Channel] carries outbound microphone frames as binary messages and
// demultiplexes inbound text messages into [Event] values delivered, in
// arrival order, on a single channel. The connection lifecycle is an explicit
// state machine:
//
//	idle → connecting → open → closing → closed
//
// Only the open state permits sends; sends in any other state are silent
// no-ops. Every path into closed (dial failure, remote close, read error,
// caller Close) runs the registered release hooks exactly once, which is how
// capture resources are tied to the socket's lifetime.
package duplex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicelink/internal/observe"
)

const (
	defaultEventBuffer = 64

	// maxMessageBytes bounds a single inbound message. Base64 TTS fragments are
	// far larger than the websocket library's 32 KiB default.
	maxMessageBytes = 16 << 20
)

// ErrClosed is the cause carried by [EventClosed] when the connection ended
// without the caller asking for it.
var ErrClosed = errors.New("duplex: connection closed")

// State is a position in the channel lifecycle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Option is a functional option for configuring a [Channel].
type Option func(*Channel)

// WithEventBuffer sets the capacity of the inbound event channel.
func WithEventBuffer(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.bufSize = n
		}
	}
}

// WithDialOptions passes options through to websocket.Dial.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *Channel) {
		c.dialOpts = opts
	}
}

// WithMetrics records sent/dropped frames and inbound events on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Channel) {
		c.metrics = m
	}
}

// Channel is one persistent connection scoped to a session id.
//
// All methods are safe for concurrent use.
type Channel struct {
	url      string
	dialOpts *websocket.DialOptions
	bufSize  int
	metrics  *observe.Metrics

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	cancelDial context.CancelFunc
	cancelRead context.CancelFunc
	releases   []func() error

	events   chan Event
	stopped  chan struct{}
	stopOnce sync.Once
	finished chan struct{}
	finOnce  sync.Once
	readDone chan struct{}
}

// New creates an idle Channel for endpoint (a ws:// or wss:// URL) with the
// session id attached as the session_id query parameter.
func New(endpoint, sessionID string, opts ...Option) (*Channel, error) {
	if sessionID == "" {
		return nil, errors.New("duplex: session id must not be empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("duplex: parse endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("duplex: endpoint scheme %q is not ws or wss", u.Scheme)
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()

	c := &Channel{
		url:      u.String(),
		bufSize:  defaultEventBuffer,
		stopped:  make(chan struct{}),
		finished: make(chan struct{}),
		readDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.events = make(chan Event, c.bufSize)
	return c, nil
}

// URL returns the full connection URL including the session id.
func (c *Channel) URL() string { return c.url }

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events returns the inbound event stream. It ends with an [EventClosed]
// event (unless the caller closed the channel while events were pending) and
// is then closed.
func (c *Channel) Events() <-chan Event { return c.events }

// Done is closed once the channel has reached the closed state and all release
// hooks have run.
func (c *Channel) Done() <-chan struct{} { return c.finished }

// OnRelease registers fn to run exactly once when the channel reaches the
// closed state, whatever the cause. Hooks run in registration order; a failing
// hook does not stop later ones. Hooks registered after the channel closed run
// immediately.
func (c *Channel) OnRelease(fn func() error) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.releases = append(c.releases, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if err := fn(); err != nil {
		slog.Warn("duplex: release hook failed", "err", err)
	}
}

// Open dials the backend. It may be called once; the channel is not reusable.
// On failure the channel is closed and the release hooks have run.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("duplex: open in state %s", st)
	}
	c.state = StateConnecting
	dialCtx, cancel := context.WithCancel(ctx)
	c.cancelDial = cancel
	c.mu.Unlock()
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, c.dialOpts)
	if err != nil {
		c.finish(fmt.Errorf("%w: dial: %v", ErrClosed, err))
		close(c.readDone)
		return fmt.Errorf("duplex: dial: %w", err)
	}
	conn.SetReadLimit(maxMessageBytes)

	c.mu.Lock()
	if c.state != StateConnecting {
		// Close was called while dialling.
		c.mu.Unlock()
		_ = conn.CloseNow()
		c.finish(nil)
		close(c.readDone)
		return fmt.Errorf("duplex: closed while connecting")
	}
	readCtx, cancelRead := context.WithCancel(context.Background())
	c.conn = conn
	c.cancelRead = cancelRead
	c.state = StateOpen
	c.mu.Unlock()

	slog.Debug("duplex: connected", "url", c.url)
	go c.readLoop(readCtx, conn)
	return nil
}

// Send transmits one binary message. Outside the open state it does nothing
// and returns nil. Frames are fire-and-forget: a write error is returned for
// logging, and the read side detects the broken connection.
func (c *Channel) Send(ctx context.Context, data []byte) error {
	return c.write(ctx, websocket.MessageBinary, data)
}

// SendText transmits one text message under the same rules as [Channel.Send].
func (c *Channel) SendText(ctx context.Context, text string) error {
	return c.write(ctx, websocket.MessageText, []byte(text))
}

func (c *Channel) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	c.mu.Lock()
	conn, st := c.conn, c.state
	c.mu.Unlock()

	if st != StateOpen {
		if c.metrics != nil && typ == websocket.MessageBinary {
			c.metrics.RecordFrame(ctx, "dropped")
		}
		return nil
	}
	if err := conn.Write(ctx, typ, data); err != nil {
		if c.metrics != nil && typ == websocket.MessageBinary {
			c.metrics.RecordFrame(ctx, "error")
		}
		return fmt.Errorf("duplex: write: %w", err)
	}
	if c.metrics != nil && typ == websocket.MessageBinary {
		c.metrics.RecordFrame(ctx, "sent")
	}
	return nil
}

// Close shuts the channel down and blocks until the release hooks have run.
// Calling Close in any state, any number of times, is safe.
func (c *Channel) Close() error {
	c.stopOnce.Do(func() { close(c.stopped) })

	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.state = StateClosing
		c.mu.Unlock()
		c.finish(nil)
		close(c.readDone)
		return nil
	case StateConnecting:
		c.state = StateClosing
		cancel := c.cancelDial
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		<-c.finished
		return nil
	case StateOpen:
		c.state = StateClosing
		conn := c.conn
		c.mu.Unlock()
		err := conn.Close(websocket.StatusNormalClosure, "client closing")
		<-c.readDone
		<-c.finished
		if err != nil && !isClosedErr(err) {
			return fmt.Errorf("duplex: close: %w", err)
		}
		return nil
	default:
		c.mu.Unlock()
		<-c.finished
		return nil
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(c.readDone)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			var cause error
			if c.State() != StateClosing {
				cause = fmt.Errorf("%w: %v", ErrClosed, err)
				slog.Info("duplex: connection lost", "url", c.url, "err", err)
			}
			c.finish(cause)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		ev, ok := ParseMessage(data)
		if !ok {
			continue
		}
		if c.metrics != nil {
			c.metrics.RecordInbound(ctx, ev.Kind.String())
		}
		select {
		case c.events <- ev:
		case <-c.stopped:
		}
	}
}

// finish moves the channel to closed, runs the release hooks, emits the final
// event, and closes the event stream. Only the first call has effect.
func (c *Channel) finish(cause error) {
	c.finOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		hooks := c.releases
		c.releases = nil
		cancelRead := c.cancelRead
		c.mu.Unlock()

		if cancelRead != nil {
			cancelRead()
		}
		for _, fn := range hooks {
			if err := fn(); err != nil {
				slog.Warn("duplex: release hook failed", "err", err)
			}
		}

		select {
		case c.events <- Event{Kind: EventClosed, Err: cause}:
		case <-c.stopped:
		}
		close(c.events)
		close(c.finished)
	})
}

func isClosedErr(err error) bool {
	s := websocket.CloseStatus(err)
	return s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway || errors.Is(err, context.Canceled)
}
