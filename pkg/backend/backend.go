// Package backend is the HTTP client for the voice backend's request/response
// endpoints and the builder for its streaming socket URL.
//
// The streaming socket itself is owned elsewhere; this package only derives
// its ws:// or wss:// address from the configured origin.
//
// Typical usage:
//
//	c, err := backend.New("http://localhost:8000", backend.WithTimeout(30*time.Second))
//	res, err := c.GenerateAudio(ctx, "Hello there", "en-US-charles")
//	// play res.AudioURL
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ---- constants ----

const (
	defaultTimeout = 60 * time.Second

	streamEndpoint   = "/ws"
	generateEndpoint = "/generate_audio"
	echoEndpoint     = "/tts/echo"
	chatEndpoint     = "/agent/chat/"
	settingsEndpoint = "/settings/"

	tracerName = "github.com/MrWong99/voicelink/pkg/backend"

	// maxErrorBody bounds how much of an error response is read for its detail.
	maxErrorBody = 4 << 10
)

// CredentialNames are the per-session credentials the backend accepts.
var CredentialNames = []string{
	"ASSEMBLYAI_API_KEY",
	"GEMINI_API_KEY",
	"MURF_API_KEY",
	"OPENWEATHER_API_KEY",
	"TAVILY_API_KEY",
}

// ErrStatus is wrapped by errors for non-2xx responses.
var ErrStatus = errors.New("backend: unexpected status")

// ---- options ----

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// ---- client ----

// Client talks to one backend origin. It is safe for concurrent use.
type Client struct {
	base       *url.URL
	httpClient *http.Client
}

// New returns a Client for baseURL, an http:// or https:// origin.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend: base url scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("backend: base url has no host")
	}
	c := &Client{
		base:       u,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// HTTPClient returns the client used for requests, for fetching audio URLs
// with the same settings.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// StreamURL returns the websocket endpoint for streaming sessions. The
// session id is added by the caller as the session_id query parameter.
func (c *Client) StreamURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += streamEndpoint
	return u.String()
}

// ResolveURL makes a possibly relative audio URL absolute against the origin.
func (c *Client) ResolveURL(ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("backend: parse audio url: %w", err)
	}
	return c.base.ResolveReference(r).String(), nil
}

// ---- single-shot endpoints ----

// SpeechResult is the response of [Client.GenerateAudio].
type SpeechResult struct {
	AudioURL string `json:"audio_url"`
}

// EchoResult is the response of [Client.Echo].
type EchoResult struct {
	AudioURL      string `json:"audio_url"`
	Transcription string `json:"transcription"`
}

// HistoryEntry is one message of the session's conversation history.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResult is the response of [Client.AgentChat].
type ChatResult struct {
	AudioURL        string         `json:"audio_url"`
	TranscribedText string         `json:"transcribed_text"`
	LLMResponse     string         `json:"llm_response"`
	History         []HistoryEntry `json:"history"`
}

// GenerateAudio synthesises text with the given voice.
func (c *Client) GenerateAudio(ctx context.Context, text, voiceID string) (*SpeechResult, error) {
	body, err := json.Marshal(struct {
		Text    string `json:"text"`
		VoiceID string `json:"voiceId"`
	}{text, voiceID})
	if err != nil {
		return nil, fmt.Errorf("backend: marshal request: %w", err)
	}
	var res SpeechResult
	if err := c.do(ctx, http.MethodPost, generateEndpoint, "application/json", bytes.NewReader(body), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Echo uploads recorded audio and receives it back re-synthesised.
func (c *Client) Echo(ctx context.Context, filename string, audio []byte) (*EchoResult, error) {
	ct, body, err := multipartFile(filename, audio)
	if err != nil {
		return nil, err
	}
	var res EchoResult
	if err := c.do(ctx, http.MethodPost, echoEndpoint, ct, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// AgentChat uploads one recorded question for the session's agent.
func (c *Client) AgentChat(ctx context.Context, sessionID, filename string, audio []byte) (*ChatResult, error) {
	if sessionID == "" {
		return nil, errors.New("backend: session id must not be empty")
	}
	ct, body, err := multipartFile(filename, audio)
	if err != nil {
		return nil, err
	}
	var res ChatResult
	if err := c.do(ctx, http.MethodPost, chatEndpoint+url.PathEscape(sessionID), ct, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ---- settings ----

// settingsResponse reports, per credential name, "set" or null.
type settingsResponse struct {
	SessionID string             `json:"session_id"`
	Settings  map[string]*string `json:"settings"`
}

// PutSettings stores credentials for a session. Empty values clear the
// credential on the backend. It returns the names that are now set.
func (c *Client) PutSettings(ctx context.Context, sessionID string, values map[string]string) ([]string, error) {
	body, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("backend: marshal settings: %w", err)
	}
	var res settingsResponse
	if err := c.do(ctx, http.MethodPost, settingsEndpoint+url.PathEscape(sessionID), "application/json", bytes.NewReader(body), &res); err != nil {
		return nil, err
	}
	return res.setNames(), nil
}

// GetSettings returns the credential names set for a session.
func (c *Client) GetSettings(ctx context.Context, sessionID string) ([]string, error) {
	var res settingsResponse
	if err := c.do(ctx, http.MethodGet, settingsEndpoint+url.PathEscape(sessionID), "", nil, &res); err != nil {
		return nil, err
	}
	return res.setNames(), nil
}

func (r settingsResponse) setNames() []string {
	var names []string
	for _, n := range CredentialNames {
		if v := r.Settings[n]; v != nil && *v != "" {
			names = append(names, n)
		}
	}
	return names
}

// ---- helpers ----

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "backend "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	u := *c.base
	u.Path += path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s returned %d%s", ErrStatus, method, path, resp.StatusCode, errorDetail(resp.Body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s response: %w", path, err)
	}
	return nil
}

// errorDetail extracts the "detail" field of an error response, if any.
func errorDetail(r io.Reader) string {
	var e struct {
		Detail any `json:"detail"`
	}
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if json.Unmarshal(data, &e) != nil || e.Detail == nil {
		return ""
	}
	return fmt.Sprintf(": %v", e.Detail)
}

func multipartFile(filename string, data []byte) (string, io.Reader, error) {
	if len(data) == 0 {
		return "", nil, errors.New("backend: audio must not be empty")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", nil, fmt.Errorf("backend: create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", nil, fmt.Errorf("backend: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", nil, fmt.Errorf("backend: close multipart writer: %w", err)
	}
	return mw.FormDataContentType(), &body, nil
}
