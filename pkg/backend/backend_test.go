package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	for _, in := range []string{"ftp://x", "localhost:8000", "http://"} {
		if _, err := New(in); err == nil {
			t.Errorf("New(%q) expected error", in)
		}
	}
}

func TestStreamURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8000":        "ws://localhost:8000/ws",
		"https://voice.example.com/":   "wss://voice.example.com/ws",
		"https://voice.example.com/v1": "wss://voice.example.com/v1/ws",
	}
	for in, want := range tests {
		c, err := New(in)
		if err != nil {
			t.Fatalf("New(%q): %v", in, err)
		}
		if got := c.StreamURL(); got != want {
			t.Errorf("StreamURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveURL(t *testing.T) {
	c, _ := New("http://host:8000")
	got, err := c.ResolveURL("/static/a.mp3")
	if err != nil || got != "http://host:8000/static/a.mp3" {
		t.Errorf("ResolveURL = %q, %v", got, err)
	}
	got, _ = c.ResolveURL("https://cdn.example.com/b.mp3")
	if got != "https://cdn.example.com/b.mp3" {
		t.Errorf("absolute url changed: %q", got)
	}
}

func TestGenerateAudio(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/generate_audio" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["text"] != "hello" || body["voiceId"] != "en-US-charles" {
			t.Errorf("body = %v", body)
		}
		_, _ = io.WriteString(w, `{"audio_url":"https://cdn/x.mp3"}`)
	})

	res, err := c.GenerateAudio(context.Background(), "hello", "en-US-charles")
	if err != nil {
		t.Fatalf("GenerateAudio: %v", err)
	}
	if res.AudioURL != "https://cdn/x.mp3" {
		t.Errorf("AudioURL = %q", res.AudioURL)
	}
}

func TestAgentChat_Multipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agent/chat/sess-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "q.wav" || string(data) != "RIFFdata" {
			t.Errorf("file = %s %q", hdr.Filename, data)
		}
		_, _ = io.WriteString(w, `{"audio_url":"/a.mp3","transcribed_text":"hi","llm_response":"hello","history":[{"role":"user","content":"hi"}]}`)
	})

	res, err := c.AgentChat(context.Background(), "sess-1", "q.wav", []byte("RIFFdata"))
	if err != nil {
		t.Fatalf("AgentChat: %v", err)
	}
	if res.TranscribedText != "hi" || res.LLMResponse != "hello" || len(res.History) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestEcho_ErrorDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"detail":"Empty transcription"}`)
	})

	_, err := c.Echo(context.Background(), "a.wav", []byte{1, 2, 3})
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("err = %v, want ErrStatus", err)
	}
	if !strings.Contains(err.Error(), "Empty transcription") {
		t.Errorf("err = %v, want backend detail", err)
	}

	if _, err := c.Echo(context.Background(), "a.wav", nil); err == nil {
		t.Error("expected error for empty audio")
	}
}

func TestSettings(t *testing.T) {
	var posted map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settings/s1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Method == http.MethodPost {
			_ = json.NewDecoder(r.Body).Decode(&posted)
		}
		_, _ = io.WriteString(w, `{"session_id":"s1","settings":{"MURF_API_KEY":"set","GEMINI_API_KEY":null,"ASSEMBLYAI_API_KEY":"set"}}`)
	})

	names, err := c.PutSettings(context.Background(), "s1", map[string]string{"MURF_API_KEY": "k"})
	if err != nil {
		t.Fatalf("PutSettings: %v", err)
	}
	if posted["MURF_API_KEY"] != "k" {
		t.Errorf("posted = %v", posted)
	}
	if len(names) != 2 || names[0] != "ASSEMBLYAI_API_KEY" || names[1] != "MURF_API_KEY" {
		t.Errorf("names = %v", names)
	}

	names, err = c.GetSettings(context.Background(), "s1")
	if err != nil || len(names) != 2 {
		t.Errorf("GetSettings = %v, %v", names, err)
	}
}

func TestRequestSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"audio_url":"/a.mp3"}`)
	})
	if _, err := c.GenerateAudio(context.Background(), "hi", "v"); err != nil {
		t.Fatalf("GenerateAudio: %v", err)
	}
	if _, err := c.GetSettings(context.Background(), "s"); err == nil {
		t.Fatal("GetSettings: expected error")
	}

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Name != "backend POST" || spans[0].Status.Code == codes.Error {
		t.Errorf("first span = %q %v", spans[0].Name, spans[0].Status.Code)
	}
	if spans[1].Name != "backend GET" || spans[1].Status.Code != codes.Error {
		t.Errorf("second span = %q %v", spans[1].Name, spans[1].Status.Code)
	}
}
