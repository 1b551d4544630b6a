package playback

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voicelink/pkg/audio/mock"
)

// recorder returns a request that appends its label to *log when played.
func recorder(label string, log *[]string) Request {
	return Request{Label: label, Play: func(context.Context) error {
		*log = append(*log, label)
		return nil
	}}
}

func TestGate_UnlockIdempotent(t *testing.T) {
	out := &mock.Output{}
	g := NewGate(out)
	ctx := context.Background()

	if g.Unlocked() {
		t.Fatal("new gate should be locked")
	}
	if err := g.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := g.Unlock(ctx); err != nil {
		t.Fatalf("second Unlock: %v", err)
	}
	if out.Probes() != 1 {
		t.Errorf("probes = %d, want 1", out.Probes())
	}
	if !g.Unlocked() {
		t.Error("gate should be unlocked")
	}
}

func TestGate_UnlockBestEffort(t *testing.T) {
	out := &mock.Output{ProbeError: errors.New("probe failed")}
	g := NewGate(out)

	if err := g.Unlock(context.Background()); err == nil {
		t.Error("expected probe error to be returned")
	}
	if !g.Unlocked() {
		t.Error("gate should be unlocked even when the probe fails")
	}
}

func TestGate_FlushesOnlyLatestPending(t *testing.T) {
	g := NewGate(&mock.Output{})
	var played []string

	for _, label := range []string{"a", "b", "c"} {
		if err := g.Submit(context.Background(), recorder(label, &played)); !errors.Is(err, ErrDeferred) {
			t.Fatalf("Submit(%s) err = %v, want ErrDeferred", label, err)
		}
	}
	if req, ok := g.Pending(); !ok || req.Label != "c" {
		t.Fatalf("pending = %+v, want c", req)
	}

	if err := g.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if len(played) != 1 || played[0] != "c" {
		t.Errorf("played = %v, want [c]", played)
	}
	if _, ok := g.Pending(); ok {
		t.Error("pending should be consumed")
	}

	_ = g.Unlock(context.Background())
	if len(played) != 1 {
		t.Errorf("second unlock replayed: %v", played)
	}
}

func TestGate_GestureFlushesWhenUnlocked(t *testing.T) {
	out := &mock.Output{}
	g := NewGate(out)
	ctx := context.Background()
	var played []string

	if err := g.Gesture(ctx); err != nil {
		t.Fatalf("Gesture: %v", err)
	}
	g.Defer(recorder("later", &played))
	if err := g.Gesture(ctx); err != nil {
		t.Fatalf("Gesture: %v", err)
	}
	if len(played) != 1 || played[0] != "later" {
		t.Errorf("played = %v, want [later]", played)
	}
	if out.Probes() != 1 {
		t.Errorf("probes = %d, want 1", out.Probes())
	}
}

func TestGate_SubmitPlaysWhenUnlocked(t *testing.T) {
	g := NewGate(&mock.Output{})
	_ = g.Unlock(context.Background())
	var played []string
	if err := g.Submit(context.Background(), recorder("now", &played)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(played) != 1 {
		t.Errorf("played = %v", played)
	}
}
