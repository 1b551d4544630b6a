// Command voicelink is the terminal client for the voice agent backend.
//
// Usage:
//
//	voicelink [--config file] [--session id] <command> [args]
//
// Commands:
//
//	stream    - live microphone streaming with transcripts and spoken replies
//	speak     - synthesise text and play it
//	echo      - record (or load) audio, transcribe it and play it back
//	chat      - send one recorded utterance to the agent and play the reply
//	settings  - manage the credentials sent to the backend
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/internal/settings"
	"github.com/MrWong99/voicelink/pkg/backend"
)

// version is overridden at build time with -ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "voicelink:", err)
		stop()
		os.Exit(1)
	}
}

// app is the state shared by every subcommand, built once before the
// subcommand runs.
type app struct {
	configPath string
	sessionID  string

	cfg      *config.Config
	logLevel *slog.LevelVar
	provider *observe.Provider
	metrics  *observe.Metrics
	client   *backend.Client
	creds    *settings.FileStore
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "voicelink",
		Short:         "Terminal client for the voice agent backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context())
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.shutdown()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&a.sessionID, "session", "", "session id (default: a new random id)")

	root.AddCommand(
		newStreamCmd(a),
		newSpeakCmd(a),
		newEchoCmd(a),
		newChatCmd(a),
		newSettingsCmd(a),
	)
	return root
}

// init loads the configuration and builds the logger, telemetry, backend
// client, and credential store.
func (a *app) init(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logLevel = new(slog.LevelVar)
	a.logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(cfg.Server.LogFormat, a.logLevel))

	a.provider, err = observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.metrics = observe.DefaultMetrics()

	a.client, err = backend.New(cfg.Backend.BaseURL, backend.WithTimeout(cfg.Backend.Timeout))
	if err != nil {
		return err
	}

	a.creds, err = settings.OpenFile(cfg.Credentials.Path)
	if err != nil {
		return err
	}

	if a.sessionID == "" {
		a.sessionID = uuid.NewString()
	}

	slog.Debug("voicelink starting",
		"config", a.configPath,
		"backend", cfg.Backend.BaseURL,
		"session_id", a.sessionID,
		"log_level", cfg.Server.LogLevel,
	)
	return nil
}

func (a *app) shutdown() error {
	if a.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.provider.Shutdown(ctx)
}
