package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultBaseURL          = "http://localhost:8000"
	DefaultVoiceID          = "en-US-charles"
	DefaultTimeout          = 60 * time.Second
	DefaultSampleRate       = 16000
	DefaultQuantum          = 4096
	DefaultRetryBaseDelay   = 500 * time.Millisecond
	DefaultMaxRetries       = 3
	DefaultOutputSampleRate = 24000
	DefaultBuffer           = 100 * time.Millisecond
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. An empty path or a missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-valued field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = DefaultBaseURL
	}
	if cfg.Backend.VoiceID == "" {
		cfg.Backend.VoiceID = DefaultVoiceID
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = DefaultTimeout
	}
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = DefaultSampleRate
	}
	if cfg.Capture.Quantum == 0 {
		cfg.Capture.Quantum = DefaultQuantum
	}
	if cfg.Playback.RetryBaseDelay == 0 {
		cfg.Playback.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.Playback.MaxRetries == nil {
		n := DefaultMaxRetries
		cfg.Playback.MaxRetries = &n
	}
	if cfg.Playback.OutputSampleRate == 0 {
		cfg.Playback.OutputSampleRate = DefaultOutputSampleRate
	}
	if cfg.Playback.Buffer == 0 {
		cfg.Playback.Buffer = DefaultBuffer
	}
	if cfg.Credentials.Path == "" {
		cfg.Credentials.Path = defaultCredentialsPath()
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Backend
	if cfg.Backend.BaseURL != "" {
		u, err := url.Parse(cfg.Backend.BaseURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("backend.base_url: %w", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Errorf("backend.base_url %q must use http or https", cfg.Backend.BaseURL))
		case u.Host == "":
			errs = append(errs, fmt.Errorf("backend.base_url %q has no host", cfg.Backend.BaseURL))
		}
	}
	if cfg.Backend.Timeout < 0 {
		errs = append(errs, fmt.Errorf("backend.timeout %s must not be negative", cfg.Backend.Timeout))
	}

	// Capture
	if cfg.Capture.SampleRate < 0 || cfg.Capture.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d is out of range [1, 192000]", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Quantum < 0 || (cfg.Capture.Quantum != 0 && cfg.Capture.Quantum < 64) {
		errs = append(errs, fmt.Errorf("capture.quantum %d must be at least 64", cfg.Capture.Quantum))
	}

	// Playback
	if cfg.Playback.RetryBaseDelay < 0 {
		errs = append(errs, fmt.Errorf("playback.retry_base_delay %s must not be negative", cfg.Playback.RetryBaseDelay))
	}
	if cfg.Playback.MaxRetries != nil && (*cfg.Playback.MaxRetries < 0 || *cfg.Playback.MaxRetries > 10) {
		errs = append(errs, fmt.Errorf("playback.max_retries %d is out of range [0, 10]", *cfg.Playback.MaxRetries))
	}
	if cfg.Playback.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("playback.output_sample_rate %d must not be negative", cfg.Playback.OutputSampleRate))
	}
	if cfg.Playback.Buffer < 0 {
		errs = append(errs, fmt.Errorf("playback.buffer %s must not be negative", cfg.Playback.Buffer))
	}

	// Streaming
	seen := make(map[string]int, len(cfg.Streaming.RequiredCredentials))
	for i, name := range cfg.Streaming.RequiredCredentials {
		prefix := fmt.Sprintf("streaming.required_credentials[%d]", i)
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", prefix))
			continue
		}
		if prev, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of streaming.required_credentials[%d]", prefix, name, prev))
		}
		seen[name] = i
	}

	return errors.Join(errs...)
}

func defaultCredentialsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "credentials.yaml"
	}
	return filepath.Join(dir, "voicelink", "credentials.yaml")
}
