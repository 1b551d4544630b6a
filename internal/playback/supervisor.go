package playback

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/voicelink/internal/observe"
)

const (
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultMaxRetries     = 3
)

// ErrSuperseded is returned by a request that was overtaken by a newer one
// while it was waiting to retry.
var ErrSuperseded = errors.New("playback: superseded by a newer request")

// Player is a media element that plays one source at a time.
type Player interface {
	// Stop halts playback and rewinds the source.
	Stop()

	// ClearSource releases whatever source is bound.
	ClearSource()

	// Load binds url as the source and waits until it is playable.
	Load(ctx context.Context, url string) error

	// Play starts the bound source.
	Play(ctx context.Context) error
}

// SupervisorOption is a functional option for configuring a [Supervisor].
type SupervisorOption func(*Supervisor)

// WithRetryBaseDelay sets the base of the linear retry delay.
func WithRetryBaseDelay(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.base = d
		}
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) SupervisorOption {
	return func(s *Supervisor) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithSupervisorMetrics records attempts and outcomes on m.
func WithSupervisorMetrics(m *observe.Metrics) SupervisorOption {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// WithClock overrides the time source used for cache busting.
func WithClock(now func() time.Time) SupervisorOption {
	return func(s *Supervisor) {
		s.now = now
	}
}

// WithSleep overrides how the supervisor waits between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) SupervisorOption {
	return func(s *Supervisor) {
		s.sleep = sleep
	}
}

// Supervisor plays single-shot agent audio by URL.
//
// A rejected play is retried up to the configured number of times with a
// delay of attempt × base. When every attempt fails the URL is parked on the
// gate and [ErrDeferred] is returned. A newer request supersedes an older
// one still waiting to retry.
type Supervisor struct {
	player     Player
	gate       *Gate
	base       time.Duration
	maxRetries int
	metrics    *observe.Metrics
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	gen uint64
}

// NewSupervisor returns a Supervisor driving player and deferring to gate.
func NewSupervisor(player Player, gate *Gate, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		player:     player,
		gate:       gate,
		base:       defaultRetryBaseDelay,
		maxRetries: defaultMaxRetries,
		now:        time.Now,
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Play stops and clears the current source, loads a cache-busted src and
// tries to play it.
func (s *Supervisor) Play(ctx context.Context, src string) error {
	s.mu.Lock()
	s.gen++
	gen, base, maxRetries := s.gen, s.base, s.maxRetries
	s.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "playback.single")
	defer span.End()
	log := observe.Logger(ctx).With("url", src)

	s.player.Stop()
	s.player.ClearSource()

	busted, err := cacheBust(src, s.now())
	if err != nil {
		return err
	}
	if err := s.player.Load(ctx, busted); err != nil {
		s.record(ctx, "load_error")
		return fmt.Errorf("playback: load: %w", err)
	}

	begin := time.Now()
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if s.metrics != nil {
				s.metrics.PlaybackRetries.Add(ctx, 1)
			}
			if err := s.sleep(ctx, time.Duration(attempt)*base); err != nil {
				return err
			}
			if !s.current(gen) {
				return ErrSuperseded
			}
		}
		if lastErr = s.player.Play(ctx); lastErr == nil {
			if s.metrics != nil {
				s.metrics.PlaybackStartLatency.Record(ctx, time.Since(begin).Seconds())
			}
			s.record(ctx, "started")
			log.Debug("playback: started", "attempt", attempt)
			return nil
		}
		log.Debug("playback: play rejected", "attempt", attempt, "err", lastErr)
	}

	s.gate.Defer(Request{
		Label: src,
		Play:  func(ctx context.Context) error { return s.Play(ctx, src) },
	})
	s.record(ctx, "deferred")
	log.Info("playback: deferred until next gesture", "attempts", maxRetries+1, "err", lastErr)
	return fmt.Errorf("%w: %v", ErrDeferred, lastErr)
}

// SetRetryPolicy replaces the retry base delay and count for later Play
// calls. Non-positive base and negative retries are ignored.
func (s *Supervisor) SetRetryPolicy(base time.Duration, maxRetries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if base > 0 {
		s.base = base
	}
	if maxRetries >= 0 {
		s.maxRetries = maxRetries
	}
}

func (s *Supervisor) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Supervisor) record(ctx context.Context, status string) {
	if s.metrics != nil {
		s.metrics.RecordPlayback(ctx, "single", status)
	}
}

// cacheBust sets the t query parameter to the current Unix milliseconds.
func cacheBust(src string, now time.Time) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("playback: parse url: %w", err)
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(now.UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
