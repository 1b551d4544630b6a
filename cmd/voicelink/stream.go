package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicelink/internal/chat"
	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/internal/health"
	"github.com/MrWong99/voicelink/internal/playback"
	"github.com/MrWong99/voicelink/internal/session"
	"github.com/MrWong99/voicelink/pkg/audio/portaudio"
	"github.com/MrWong99/voicelink/pkg/audio/speaker"
)

// Terminal commands accepted while streaming. Any other line, including an
// empty one, counts as a user gesture.
const (
	cmdEndTurn = "/end"
	cmdQuit    = "/quit"
)

func newStreamCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stream",
		Short: "Stream the microphone to the agent and play its replies",
		Long: `Stream the microphone to the voice backend.

Partial transcripts are shown live; each finished utterance and the agent's
reply are printed as rows and the reply is spoken.

While streaming:
  Enter   enable audio output (needed once unless playback.unlock_on_start is set)
  /end    finish the current utterance now
  /quit   stop streaming`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runStream(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func (a *app) runStream(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := a.cfg
	view := chat.NewTerminal(out)
	dev := newSpeaker(cfg)
	gate := playback.NewGate(dev)
	asm := playback.NewAssembler(dev, gate,
		playback.WithStatus(view),
		playback.WithAssemblerMetrics(a.metrics),
	)

	mgr := session.NewManager()
	checks := health.New(health.Checker{Name: "stream", Check: mgr.Ready})

	stream, err := session.New(session.Config{
		SessionID:           a.sessionID,
		Endpoint:            a.client.StreamURL(),
		SampleRate:          cfg.Capture.SampleRate,
		Quantum:             cfg.Capture.Quantum,
		RequiredCredentials: cfg.Streaming.RequiredCredentials,
	}, session.Deps{
		Source:      portaudio.New(),
		Assembler:   asm,
		View:        view,
		Credentials: a.creds,
		Remote:      a.client,
		Metrics:     a.metrics,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.DiagnosticsAddr != "" {
		g.Go(func() error {
			return serveDiagnostics(gctx, cfg.Server.DiagnosticsAddr, a.provider, a.metrics, checks)
		})
	}
	if a.configPath != "" {
		if err := a.watchConfig(gctx, g, nil); err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		}
	}

	if cfg.Playback.UnlockOnStart {
		if err := gate.Unlock(ctx); err != nil {
			slog.Warn("audio unlock at start failed", "err", err)
		}
	} else {
		view.SetStatus("Press Enter to enable audio")
	}

	if err := mgr.Start(ctx, stream); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	fmt.Fprintf(out, "session %s\n", stream.SessionID())

	go readCommands(ctx, in, gate, mgr, cancel)

	select {
	case <-ctx.Done():
	case <-stream.Done():
	}
	stopErr := mgr.Stop()
	if errors.Is(stopErr, session.ErrNoActiveStream) {
		stopErr = nil
	}
	cancel()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("diagnostics", "err", err)
	}
	if err := stream.Wait(); err != nil {
		return err
	}
	return stopErr
}

// readCommands turns terminal lines into gestures and stream commands until
// input ends or ctx is cancelled.
func readCommands(ctx context.Context, in io.Reader, gate *playback.Gate, mgr *session.Manager, quit context.CancelFunc) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(sc.Text()) {
		case cmdQuit:
			quit()
			return
		case cmdEndTurn:
			if err := mgr.EndTurn(ctx); err != nil {
				slog.Warn("end of turn not sent", "err", err)
			}
		default:
			if err := gate.Gesture(ctx); err != nil {
				slog.Warn("audio unlock failed", "err", err)
			}
		}
	}
}

// watchConfig applies edits to the config file while a command runs. The
// log level always follows the file; the retry policy follows it when sup is
// non-nil. Other changes take effect on the next run.
func (a *app) watchConfig(ctx context.Context, g *errgroup.Group, sup *playback.Supervisor) error {
	if _, err := os.Stat(a.configPath); err != nil {
		return err
	}
	w, err := config.NewWatcher(a.configPath, func(_, next *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			a.logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.PlaybackRetryChanged && sup != nil {
			sup.SetRetryPolicy(d.NewRetryBaseDelay, d.NewMaxRetries)
			slog.Info("playback retry policy changed", "base_delay", d.NewRetryBaseDelay, "max_retries", d.NewMaxRetries)
		}
		if d.RequiredCredentialsChanged {
			slog.Info("required credentials changed; applies to the next stream",
				"names", next.Streaming.RequiredCredentials)
		}
	})
	if err != nil {
		return err
	}
	g.Go(func() error {
		w.Run(ctx)
		return nil
	})
	return nil
}

func newSpeaker(cfg *config.Config) *speaker.Device {
	return speaker.New(
		speaker.WithSampleRate(cfg.Playback.OutputSampleRate),
		speaker.WithBuffer(cfg.Playback.Buffer),
	)
}
