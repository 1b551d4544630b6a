package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/internal/health"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/pkg/audio"
	audiomock "github.com/MrWong99/voicelink/pkg/audio/mock"
	"github.com/MrWong99/voicelink/pkg/audio/wav"
)

// writeConfig writes a config file pointing at baseURL with a credential
// store in the same temporary directory.
func writeConfig(t *testing.T, baseURL string) (cfgPath, credPath string) {
	t.Helper()
	dir := t.TempDir()
	credPath = filepath.Join(dir, "credentials.yaml")
	cfgPath = filepath.Join(dir, "voicelink.yaml")
	body := "server:\n  log_level: error\nbackend:\n  base_url: " + baseURL + "\ncredentials:\n  path: " + credPath + "\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath, credPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := slogLevel(tt.in); got != tt.want {
			t.Errorf("slogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSettingsSetThenGet(t *testing.T) {
	cfgPath, credPath := writeConfig(t, "http://127.0.0.1:1")

	out, err := execute(t, "--config", cfgPath, "settings", "set", "GEMINI_API_KEY=g", "MURF_API_KEY=m")
	if err != nil {
		t.Fatalf("settings set: %v", err)
	}
	if !strings.Contains(out, credPath) {
		t.Errorf("output %q does not name the credential file", out)
	}

	out, err = execute(t, "--config", cfgPath, "settings", "get")
	if err != nil {
		t.Fatalf("settings get: %v", err)
	}
	for line, want := range map[string]string{
		"GEMINI_API_KEY":     "set",
		"MURF_API_KEY":       "set",
		"ASSEMBLYAI_API_KEY": "not set",
	} {
		found := false
		for _, l := range strings.Split(out, "\n") {
			fields := strings.Fields(l)
			if len(fields) > 0 && fields[0] == line {
				found = true
				if got := strings.Join(fields[1:], " "); got != want {
					t.Errorf("%s = %q, want %q", line, got, want)
				}
			}
		}
		if !found {
			t.Errorf("%s missing from output %q", line, out)
		}
	}

	if _, err := execute(t, "--config", cfgPath, "settings", "set", "novalue"); err == nil {
		t.Error("expected error for an assignment without '='")
	}
}

func TestSettingsSync(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"session_id":"sess-9","settings":{"TAVILY_API_KEY":"set","GEMINI_API_KEY":null}}`)
	}))
	defer srv.Close()

	cfgPath, _ := writeConfig(t, srv.URL)
	if _, err := execute(t, "--config", cfgPath, "settings", "set", "TAVILY_API_KEY=t"); err != nil {
		t.Fatalf("settings set: %v", err)
	}
	out, err := execute(t, "--config", cfgPath, "--session", "sess-9", "settings", "sync")
	if err != nil {
		t.Fatalf("settings sync: %v", err)
	}
	if gotPath != "/settings/sess-9" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["TAVILY_API_KEY"] != "t" {
		t.Errorf("body = %v", gotBody)
	}
	if strings.TrimSpace(out) != "session sess-9: TAVILY_API_KEY" {
		t.Errorf("output = %q", out)
	}
}

func TestRecordWAV(t *testing.T) {
	src := &audiomock.Source{Quanta: [][]float32{{1, -1, 0, 0}, {0.5, 0.5, 0.5, 0.5}, {0, 0, 0, 0}}}

	// 8 samples at 16 kHz is two quanta of four.
	data, err := recordWAV(context.Background(), src, 16000, 4, 500*time.Microsecond)
	if err != nil {
		t.Fatalf("recordWAV: %v", err)
	}
	if !wav.HasSignature(data) {
		t.Fatal("result is not a RIFF container")
	}
	if _, size, err := wav.Sizes(data); err != nil || size != 16 {
		t.Errorf("data size = %d (%v), want 16", size, err)
	}
	if src.OpenedRate != 16000 || src.OpenedQuantum != 4 {
		t.Errorf("opened at %d/%d", src.OpenedRate, src.OpenedQuantum)
	}
	if src.Closes() == 0 {
		t.Error("capture was not closed")
	}
}

func TestRecordWAV_OpenFails(t *testing.T) {
	src := &audiomock.Source{OpenError: audio.ErrPermission}
	if _, err := recordWAV(context.Background(), src, 16000, 4, time.Second); !errors.Is(err, audio.ErrPermission) {
		t.Errorf("err = %v, want ErrPermission", err)
	}
}

func TestRecordWAV_Cancelled(t *testing.T) {
	src := &audiomock.Source{}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	if _, err := recordWAV(ctx, src, 16000, 4, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDiagnosticsHandler(t *testing.T) {
	p, err := observe.InitProvider(context.Background(), observe.ProviderConfig{})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	checks := health.New(health.Checker{Name: "stream", Check: func(context.Context) error { return errors.New("stream closed") }})
	h := diagnosticsHandler(p, observe.DefaultMetrics(), checks)

	for path, want := range map[string]int{
		"/healthz": http.StatusOK,
		"/readyz":  http.StatusServiceUnavailable,
		"/metrics": http.StatusOK,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != want {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, want)
		}
		if rec.Header().Get("X-Correlation-ID") == "" {
			t.Errorf("GET %s: missing correlation id", path)
		}
	}
}
