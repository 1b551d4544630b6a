package playback

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicelink/pkg/audio"
	audiomock "github.com/MrWong99/voicelink/pkg/audio/mock"
)

// fakePlayer records the media element calls made by the supervisor.
type fakePlayer struct {
	mu       sync.Mutex
	calls    []string
	loaded   []string
	playErrs []error
	plays    int
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "stop")
}

func (p *fakePlayer) ClearSource() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "clear")
}

func (p *fakePlayer) Load(_ context.Context, u string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "load")
	p.loaded = append(p.loaded, u)
	return nil
}

func (p *fakePlayer) Play(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "play")
	p.plays++
	if len(p.playErrs) > 0 {
		err := p.playErrs[0]
		p.playErrs = p.playErrs[1:]
		return err
	}
	return nil
}

// sleeps records requested delays without waiting.
type sleeps struct {
	mu sync.Mutex
	d  []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d = append(s.d, d)
	return nil
}

func blocked(n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = audio.ErrPlaybackBlocked
	}
	return errs
}

func TestSupervisor_DefersAfterThreeRetries(t *testing.T) {
	p := &fakePlayer{playErrs: blocked(4)}
	g := NewGate(&audiomock.Output{})
	sl := &sleeps{}
	s := NewSupervisor(p, g, WithRetryBaseDelay(100*time.Millisecond), WithSleep(sl.sleep))

	err := s.Play(context.Background(), "http://host/agent.mp3")
	if !errors.Is(err, ErrDeferred) {
		t.Fatalf("err = %v, want ErrDeferred", err)
	}
	if p.plays != 4 {
		t.Errorf("play calls = %d, want 4 (initial + 3 retries)", p.plays)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}
	if len(sl.d) != len(want) {
		t.Fatalf("delays = %v, want %v", sl.d, want)
	}
	for i := range want {
		if sl.d[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, sl.d[i], want[i])
		}
	}
	req, ok := g.Pending()
	if !ok || req.Label != "http://host/agent.mp3" {
		t.Fatalf("pending = %+v, want the URL", req)
	}

	// The next gesture retries the deferred URL.
	if err := g.Gesture(context.Background()); err != nil {
		t.Fatalf("Gesture: %v", err)
	}
	if p.plays != 5 {
		t.Errorf("play calls after gesture = %d, want 5", p.plays)
	}
}

func TestSupervisor_SuccessStopsRetrying(t *testing.T) {
	p := &fakePlayer{playErrs: blocked(1)}
	g := NewGate(&audiomock.Output{})
	sl := &sleeps{}
	s := NewSupervisor(p, g, WithSleep(sl.sleep))

	if err := s.Play(context.Background(), "http://host/a.wav"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if p.plays != 2 {
		t.Errorf("play calls = %d, want 2", p.plays)
	}
	if len(sl.d) != 1 || sl.d[0] != defaultRetryBaseDelay {
		t.Errorf("delays = %v, want [%v]", sl.d, defaultRetryBaseDelay)
	}
	if _, ok := g.Pending(); ok {
		t.Error("nothing should be pending after success")
	}
}

func TestSupervisor_StopsClearsAndCacheBusts(t *testing.T) {
	p := &fakePlayer{}
	at := time.UnixMilli(1700000000123)
	s := NewSupervisor(p, NewGate(&audiomock.Output{}), WithClock(func() time.Time { return at }))

	if err := s.Play(context.Background(), "http://host/a.wav?voice=x"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	wantCalls := []string{"stop", "clear", "load", "play"}
	if len(p.calls) != len(wantCalls) {
		t.Fatalf("calls = %v, want %v", p.calls, wantCalls)
	}
	for i := range wantCalls {
		if p.calls[i] != wantCalls[i] {
			t.Errorf("call %d = %s, want %s", i, p.calls[i], wantCalls[i])
		}
	}
	u, err := url.Parse(p.loaded[0])
	if err != nil {
		t.Fatalf("parse loaded url: %v", err)
	}
	if u.Query().Get("t") != "1700000000123" || u.Query().Get("voice") != "x" {
		t.Errorf("loaded url = %s", p.loaded[0])
	}
}

func TestSupervisor_Superseded(t *testing.T) {
	p := &fakePlayer{playErrs: blocked(2)}
	g := NewGate(&audiomock.Output{})
	var s *Supervisor
	first := true
	s = NewSupervisor(p, g, WithSleep(func(ctx context.Context, _ time.Duration) error {
		if first {
			first = false
			p.playErrs = nil
			if err := s.Play(ctx, "http://host/newer.wav"); err != nil {
				t.Errorf("newer Play: %v", err)
			}
		}
		return nil
	}))

	if err := s.Play(context.Background(), "http://host/older.wav"); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("err = %v, want ErrSuperseded", err)
	}
	if _, ok := g.Pending(); ok {
		t.Error("superseded request must not be deferred")
	}
}

func TestSupervisor_ContextCancelledDuringBackoff(t *testing.T) {
	p := &fakePlayer{playErrs: blocked(4)}
	s := NewSupervisor(p, NewGate(&audiomock.Output{}), WithRetryBaseDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Play(ctx, "http://host/a.wav"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSupervisor_SetRetryPolicy(t *testing.T) {
	p := &fakePlayer{playErrs: blocked(3)}
	g := NewGate(&audiomock.Output{})
	sl := &sleeps{}
	s := NewSupervisor(p, g, WithSleep(sl.sleep))
	s.SetRetryPolicy(50*time.Millisecond, 1)

	err := s.Play(context.Background(), "http://host/a.wav")
	if !errors.Is(err, ErrDeferred) {
		t.Fatalf("err = %v, want ErrDeferred", err)
	}
	if p.plays != 2 {
		t.Errorf("play calls = %d, want 2", p.plays)
	}
	if len(sl.d) != 1 || sl.d[0] != 50*time.Millisecond {
		t.Errorf("delays = %v, want [50ms]", sl.d)
	}

	s.SetRetryPolicy(0, -1)
	if s.base != 50*time.Millisecond || s.maxRetries != 1 {
		t.Errorf("invalid policy applied: base=%v retries=%d", s.base, s.maxRetries)
	}
}
