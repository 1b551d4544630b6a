package config_test

import (
	"testing"
	"time"

	"github.com/MrWong99/voicelink/internal/config"
)

func TestDiff_NoChange(t *testing.T) {
	t.Parallel()
	a, b := config.Default(), config.Default()
	if d := config.Diff(a, b); !d.Empty() {
		t.Errorf("diff = %+v, want empty", d)
	}
}

func TestDiff_HotFields(t *testing.T) {
	t.Parallel()
	old, cur := config.Default(), config.Default()
	cur.Server.LogLevel = config.LogDebug
	cur.Playback.RetryBaseDelay = time.Second
	cur.Streaming.RequiredCredentials = []string{"MURF_API_KEY"}

	d := config.Diff(old, cur)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.PlaybackRetryChanged || d.NewRetryBaseDelay != time.Second || d.NewMaxRetries != 3 {
		t.Errorf("retry diff = %+v", d)
	}
	if !d.RequiredCredentialsChanged {
		t.Error("required credentials change not detected")
	}
	if d.RestartRequired {
		t.Error("hot fields should not require restart")
	}
}

func TestDiff_RestartFields(t *testing.T) {
	t.Parallel()
	old, cur := config.Default(), config.Default()
	cur.Backend.BaseURL = "http://other:8000"
	if d := config.Diff(old, cur); !d.RestartRequired {
		t.Error("backend change should require restart")
	}

	cur = config.Default()
	n := 1
	cur.Playback.MaxRetries = &n
	if d := config.Diff(old, cur); !d.PlaybackRetryChanged || d.NewMaxRetries != 1 {
		t.Errorf("max retries diff = %+v", d)
	}
}
