// Package session owns one microphone-streaming session end to end.
//
// A [Stream] acquires the capture device and the duplex channel, pumps
// captured frames out and inbound events into the transcript reconciler and
// TTS assembler, and releases everything through a single teardown that runs
// on every exit path: caller stop, remote close, transport error, or capture
// failure. A [Manager] enforces that at most one Stream is live at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicelink/internal/chat"
	"github.com/MrWong99/voicelink/internal/duplex"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/internal/playback"
	"github.com/MrWong99/voicelink/internal/settings"
	"github.com/MrWong99/voicelink/internal/transcript"
	"github.com/MrWong99/voicelink/pkg/audio"
)

// endOfTurn is the text frame that asks the backend to finalise the current
// utterance immediately.
const endOfTurn = "end_of_turn"

// Status texts shown to the user.
const (
	statusMissingCredentials = "Missing credentials"
	statusMicUnavailable     = "Microphone unavailable"
	statusConnectFailed      = "Could not connect to the voice backend"
	statusListening          = "Listening..."
	statusConnectionLost     = "Connection closed"
	statusCaptureFailed      = "Microphone stopped"
)

// ErrStarted is returned by [Stream.Start] on a Stream that was already
// started. Streams are single use.
var ErrStarted = errors.New("session: stream already started")

// Config describes one streaming session.
type Config struct {
	// SessionID scopes the socket and the backend conversation. Required.
	SessionID string

	// Endpoint is the ws:// or wss:// socket URL without the session query.
	Endpoint string

	// SampleRate and Quantum configure capture. Zero selects the audio
	// package defaults.
	SampleRate int
	Quantum    int

	// RequiredCredentials must all be present in Deps.Credentials before any
	// resource is acquired.
	RequiredCredentials []string
}

// Deps are the collaborators of a [Stream].
type Deps struct {
	// Source is the capture device. Required.
	Source audio.Source

	// Assembler plays the streamed TTS turns. Required.
	Assembler *playback.Assembler

	// View renders transcript rows and status. Required.
	View chat.View

	// Credentials is consulted for RequiredCredentials and pushed to Remote.
	// Optional when no credentials are required.
	Credentials settings.Store

	// Remote receives the credentials before the socket opens. Optional; a
	// failed sync is logged and does not prevent streaming.
	Remote settings.Remote

	// Metrics is optional.
	Metrics *observe.Metrics

	// ChannelOptions are passed through to [duplex.New].
	ChannelOptions []duplex.Option
}

// Stream is one streaming session. Create it with [New], start it with
// [Stream.Start], and end it with [Stream.Stop]; it cannot be restarted.
//
// All methods are safe for concurrent use.
type Stream struct {
	cfg  Config
	deps Deps
	rec  *transcript.Reconciler

	started atomic.Bool

	mu         sync.Mutex
	ch         *duplex.Channel
	cancel     context.CancelFunc
	closeCause error
	err        error

	captureOnce   sync.Once
	captureErr    error
	captureClosed atomic.Bool

	teardownOnce sync.Once
	teardownErr  error
	counted      bool

	done chan struct{}
}

// New validates cfg and deps and returns an unstarted Stream.
func New(cfg Config, deps Deps) (*Stream, error) {
	var errs []error
	if cfg.SessionID == "" {
		errs = append(errs, errors.New("session id must not be empty"))
	}
	if cfg.Endpoint == "" {
		errs = append(errs, errors.New("endpoint must not be empty"))
	}
	if deps.Source == nil {
		errs = append(errs, errors.New("source is required"))
	}
	if deps.Assembler == nil {
		errs = append(errs, errors.New("assembler is required"))
	}
	if deps.View == nil {
		errs = append(errs, errors.New("view is required"))
	}
	if len(cfg.RequiredCredentials) > 0 && deps.Credentials == nil {
		errs = append(errs, errors.New("credentials store is required when credentials are required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	var recOpts []transcript.Option
	if deps.Metrics != nil {
		recOpts = append(recOpts, transcript.WithMetrics(deps.Metrics))
	}
	return &Stream{
		cfg:  cfg,
		deps: deps,
		rec:  transcript.NewReconciler(deps.View, recOpts...),
		done: make(chan struct{}),
	}, nil
}

// SessionID returns the session identifier.
func (s *Stream) SessionID() string { return s.cfg.SessionID }

// Start checks credentials, syncs them to the backend, opens the capture
// device and the socket, and starts streaming. It returns once the socket is
// open; streaming continues in the background until [Stream.Stop] or the
// connection ends.
//
// Every failure is reported once on the view and leaves nothing running. A
// capture failure happens before any socket is created.
func (s *Stream) Start(ctx context.Context) (err error) {
	if !s.started.CompareAndSwap(false, true) {
		return ErrStarted
	}

	ctx = observe.WithSessionID(ctx, s.cfg.SessionID)
	ctx, span := observe.StartSpan(ctx, "session.start")
	span.SetAttributes(attribute.String("session.id", s.cfg.SessionID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.finish(err)
		}
		span.End()
	}()
	log := observe.Logger(ctx)

	if err := settings.Require(s.deps.Credentials, s.cfg.RequiredCredentials...); err != nil {
		s.deps.View.SetStatus(statusMissingCredentials)
		return fmt.Errorf("session: %w", err)
	}

	if s.deps.Remote != nil && s.deps.Credentials != nil {
		if _, err := settings.Sync(ctx, s.deps.Credentials, s.deps.Remote, s.cfg.SessionID); err != nil {
			log.Warn("session: credential sync failed", "err", err)
		}
	}

	framer := audio.NewFramer(s.cfg.SampleRate, s.cfg.Quantum)
	if err := s.deps.Source.Open(ctx, framer.SampleRate, framer.Quantum); err != nil {
		s.deps.View.SetStatus(statusMicUnavailable)
		return fmt.Errorf("session: open capture: %w", err)
	}

	ch, err := duplex.New(s.cfg.Endpoint, s.cfg.SessionID, s.channelOptions()...)
	if err != nil {
		_ = s.releaseCapture()
		s.deps.View.SetStatus(statusConnectFailed)
		return fmt.Errorf("session: %w", err)
	}
	ch.OnRelease(s.releaseCapture)

	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()

	if err := ch.Open(ctx); err != nil {
		s.deps.View.SetStatus(statusConnectFailed)
		return fmt.Errorf("session: %w", err)
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.ActiveSessions.Add(ctx, 1)
		s.mu.Lock()
		s.counted = true
		s.mu.Unlock()
	}

	runCtx, cancel := context.WithCancel(observe.WithSessionID(context.Background(), s.cfg.SessionID))
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.deps.View.SetStatus(statusListening)
	log.Info("session: streaming", "endpoint", ch.URL())

	go s.run(runCtx, framer, ch)
	return nil
}

func (s *Stream) channelOptions() []duplex.Option {
	opts := append([]duplex.Option(nil), s.deps.ChannelOptions...)
	if s.deps.Metrics != nil {
		opts = append(opts, duplex.WithMetrics(s.deps.Metrics))
	}
	return opts
}

// run pumps frames out and events in until both directions have ended, then
// tears the session down.
func (s *Stream) run(ctx context.Context, framer *audio.Framer, ch *duplex.Channel) {
	var g errgroup.Group

	g.Go(func() error {
		err := framer.Run(ctx, s.deps.Source, func(fr audio.Frame) {
			if err := ch.Send(ctx, fr.Data); err != nil {
				slog.Debug("session: frame not sent", "seq", fr.Seq, "err", err)
			}
		})
		if err == nil || s.captureClosed.Load() {
			return nil
		}
		s.deps.View.SetStatus(statusCaptureFailed)
		_ = ch.Close()
		return fmt.Errorf("session: capture: %w", err)
	})

	g.Go(func() error {
		for ev := range ch.Events() {
			s.dispatch(ctx, ev)
		}
		return nil
	})

	err := g.Wait()
	if err == nil {
		s.mu.Lock()
		err = s.closeCause
		s.mu.Unlock()
	}
	if teardownErr := s.teardown(); teardownErr != nil {
		slog.Warn("session: teardown", "session_id", s.cfg.SessionID, "err", teardownErr)
	}
	s.finish(err)
}

// dispatch routes one inbound event. Events are handled one at a time in
// arrival order.
func (s *Stream) dispatch(ctx context.Context, ev duplex.Event) {
	switch ev.Kind {
	case duplex.EventPartial:
		s.rec.Partial(ev.Text)

	case duplex.EventTTSChunk:
		s.deps.Assembler.Begin()
		if err := s.deps.Assembler.Append(ctx, ev.AudioB64); err != nil {
			slog.Warn("session: drop tts fragment", "session_id", s.cfg.SessionID, "err", err)
		}

	case duplex.EventTTSDone:
		if err := s.deps.Assembler.Finalize(ctx); err != nil && !errors.Is(err, playback.ErrDeferred) {
			slog.Warn("session: tts playback", "session_id", s.cfg.SessionID, "err", err)
		}

	case duplex.EventTurnEnd:
		s.rec.TurnEnd(ctx, transcript.TurnEnd{
			Transcript: ev.Transcript,
			Response:   ev.Response,
			History:    ev.History,
		})

	case duplex.EventClosed:
		if ev.Err != nil {
			s.mu.Lock()
			s.closeCause = ev.Err
			s.mu.Unlock()
			s.deps.View.SetStatus(statusConnectionLost)
			slog.Info("session: connection ended", "session_id", s.cfg.SessionID, "err", ev.Err)
		}
	}
}

// EndTurn asks the backend to finalise the current utterance. It does nothing
// unless the socket is open.
func (s *Stream) EndTurn(ctx context.Context) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.SendText(ctx, endOfTurn)
}

// Ready reports whether the socket is open. It is used as a readiness check.
func (s *Stream) Ready(context.Context) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return errors.New("stream not started")
	}
	if st := ch.State(); st != duplex.StateOpen {
		return fmt.Errorf("stream %s", st)
	}
	return nil
}

// Turns returns the completed utterances so far.
func (s *Stream) Turns() []transcript.Turn { return s.rec.Turns() }

// Done is closed when the session has ended and been torn down.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Wait blocks until the session has ended and returns the cause, if any. A
// caller stop ends the session without error; a connection the caller did not
// close ends it with an error wrapping [duplex.ErrClosed].
func (s *Stream) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop ends the session: capture, socket, and playback are each released even
// if another release fails. It blocks until the background work has finished.
// Stop is safe to call in any state and more than once.
func (s *Stream) Stop() error {
	if !s.started.Load() {
		return nil
	}
	err := s.teardown()
	<-s.done
	return err
}

// teardown releases every session resource exactly once and returns the
// joined release errors.
func (s *Stream) teardown() error {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		cancel, ch, counted := s.cancel, s.ch, s.counted
		s.counted = false
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		var errs []error
		if err := s.releaseCapture(); err != nil {
			errs = append(errs, fmt.Errorf("release capture: %w", err))
		}
		if ch != nil {
			if err := ch.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close channel: %w", err))
			}
		}
		s.deps.Assembler.Stop()

		if counted {
			s.deps.Metrics.ActiveSessions.Add(context.Background(), -1)
		}
		s.teardownErr = errors.Join(errs...)
		if s.teardownErr == nil {
			slog.Info("session: stopped", "session_id", s.cfg.SessionID)
		}
	})
	return s.teardownErr
}

// releaseCapture closes the capture device once. It is registered as the
// channel's release hook and also called directly by teardown.
func (s *Stream) releaseCapture() error {
	s.captureOnce.Do(func() {
		s.captureClosed.Store(true)
		s.captureErr = s.deps.Source.Close()
	})
	return s.captureErr
}

// finish records the session outcome and closes Done. Only the first call
// has effect.
func (s *Stream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	s.err = err
	close(s.done)
}
