// Package config provides the configuration schema and loader for the
// voicelink client, plus a polling watcher for the settings that can change
// while a stream is running.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Backend     BackendConfig     `yaml:"backend"`
	Capture     CaptureConfig     `yaml:"capture"`
	Playback    PlaybackConfig    `yaml:"playback"`
	Streaming   StreamingConfig   `yaml:"streaming"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

// ServerConfig holds logging and diagnostics settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log output. Default: text.
	LogFormat LogFormat `yaml:"log_format"`

	// DiagnosticsAddr is the TCP address of the /metrics, /healthz and
	// /readyz listener (e.g. "127.0.0.1:9090"). Empty disables it.
	DiagnosticsAddr string `yaml:"diagnostics_addr"`
}

// BackendConfig locates the voice backend.
type BackendConfig struct {
	// BaseURL is the http(s) origin of the backend. The streaming socket is
	// derived from it. Default: http://localhost:8000.
	BaseURL string `yaml:"base_url"`

	// VoiceID is the voice used by the speak command. Default: en-US-charles.
	VoiceID string `yaml:"voice_id"`

	// Timeout bounds each single-shot HTTP request. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`
}

// CaptureConfig controls microphone capture and framing.
type CaptureConfig struct {
	// SampleRate is the mono capture rate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Quantum is the number of samples per frame. Default: 4096.
	Quantum int `yaml:"quantum"`
}

// PlaybackConfig controls audio output and the single-shot retry policy.
type PlaybackConfig struct {
	// RetryBaseDelay is the base of the linear retry delay. Default: 500ms.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// MaxRetries is the number of retries after the first attempt. Default: 3.
	MaxRetries *int `yaml:"max_retries"`

	// UnlockOnStart unlocks audio output at startup without waiting for a
	// keypress.
	UnlockOnStart bool `yaml:"unlock_on_start"`

	// OutputSampleRate is the speaker rate in Hz. Default: 24000.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// Buffer is the speaker buffer length. Default: 100ms.
	Buffer time.Duration `yaml:"buffer"`
}

// Retries returns the configured retry count, or the default.
func (p PlaybackConfig) Retries() int {
	if p.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *p.MaxRetries
}

// StreamingConfig holds the streaming preconditions.
type StreamingConfig struct {
	// RequiredCredentials must all be present in the credential store before
	// a stream starts.
	RequiredCredentials []string `yaml:"required_credentials"`
}

// CredentialsConfig locates the local credential store.
type CredentialsConfig struct {
	// Path is the YAML credential file. Default: voicelink/credentials.yaml
	// under the user config directory.
	Path string `yaml:"path"`
}
