package speaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// maxMediaBytes bounds a single downloaded agent clip.
const maxMediaBytes = 32 << 20

// URLPlayer plays single-shot agent audio referenced by URL. It owns at most
// one loaded source and one running playback.
//
// All methods are safe for concurrent use.
type URLPlayer struct {
	dev    *Device
	client *http.Client

	mu      sync.Mutex
	clip    audio.Clip
	current audio.Playback
	cancel  context.CancelFunc
}

// NewURLPlayer returns a URLPlayer that plays through dev. A nil client uses
// http.DefaultClient.
func NewURLPlayer(dev *Device, client *http.Client) *URLPlayer {
	if client == nil {
		client = http.DefaultClient
	}
	return &URLPlayer{dev: dev, client: client}
}

// Stop halts the current playback and rewinds the loaded source.
func (u *URLPlayer) Stop() {
	u.mu.Lock()
	cur, clip := u.current, u.clip
	u.current = nil
	u.mu.Unlock()

	if cur != nil {
		cur.Stop()
	}
	if c, ok := clip.(*Clip); ok {
		_ = c.Rewind()
	}
}

// ClearSource drops the bound source: an in-flight download is cancelled and
// the loaded clip is released.
func (u *URLPlayer) ClearSource() {
	u.mu.Lock()
	cancel, clip := u.cancel, u.clip
	u.cancel, u.clip = nil, nil
	u.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if clip != nil {
		_ = clip.Close()
	}
}

// Load downloads url and decodes it, replacing any previously bound source.
// It returns once the clip's metadata is known.
func (u *URLPlayer) Load(ctx context.Context, url string) error {
	ctx, cancel := context.WithCancel(ctx)
	u.mu.Lock()
	u.cancel = cancel
	u.mu.Unlock()
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("speaker: load: %w", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("speaker: load HTTP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("speaker: load: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return fmt.Errorf("speaker: load read: %w", err)
	}

	kind := resp.Header.Get("Content-Type")
	if kind == "" || kind == "application/octet-stream" {
		kind = url
	}
	clip, err := u.dev.DecodeMedia(data, kind)
	if err != nil {
		return err
	}

	u.mu.Lock()
	old := u.clip
	u.clip = clip
	u.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Play starts the loaded source. Returns [audio.ErrPlaybackBlocked] while the
// device is locked.
func (u *URLPlayer) Play(ctx context.Context) error {
	u.mu.Lock()
	clip := u.clip
	u.mu.Unlock()
	if clip == nil {
		return errors.New("speaker: no source loaded")
	}
	pb, err := u.dev.Play(ctx, clip)
	if err != nil {
		return err
	}
	u.mu.Lock()
	u.current = pb
	u.mu.Unlock()
	return nil
}

// Current returns the running playback, or nil.
func (u *URLPlayer) Current() audio.Playback {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.current
}
