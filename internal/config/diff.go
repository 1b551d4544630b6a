package config

import (
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied to a running stream are tracked; anything
// else takes effect on the next start.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PlaybackRetryChanged is set when the retry delay or count changed.
	PlaybackRetryChanged bool
	NewRetryBaseDelay    time.Duration
	NewMaxRetries        int

	// RequiredCredentialsChanged is set when the streaming precondition list
	// changed; the new list applies to the next stream.
	RequiredCredentialsChanged bool

	// RestartRequired is set when a field that cannot be hot-applied changed.
	RestartRequired bool
}

// Empty reports whether nothing relevant changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PlaybackRetryChanged && !d.RequiredCredentialsChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Playback.RetryBaseDelay != new.Playback.RetryBaseDelay ||
		old.Playback.Retries() != new.Playback.Retries() {
		d.PlaybackRetryChanged = true
		d.NewRetryBaseDelay = new.Playback.RetryBaseDelay
		d.NewMaxRetries = new.Playback.Retries()
	}

	if !slices.Equal(old.Streaming.RequiredCredentials, new.Streaming.RequiredCredentials) {
		d.RequiredCredentialsChanged = true
	}

	if old.Backend != new.Backend ||
		old.Capture != new.Capture ||
		old.Server.LogFormat != new.Server.LogFormat ||
		old.Server.DiagnosticsAddr != new.Server.DiagnosticsAddr ||
		old.Playback.OutputSampleRate != new.Playback.OutputSampleRate ||
		old.Playback.Buffer != new.Playback.Buffer ||
		old.Credentials != new.Credentials {
		d.RestartRequired = true
	}

	return d
}
