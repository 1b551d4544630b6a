package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicelink/internal/chat"
	"github.com/MrWong99/voicelink/internal/playback"
	"github.com/MrWong99/voicelink/internal/transcript"
	"github.com/MrWong99/voicelink/pkg/audio/speaker"
)

const defaultRecordDuration = 5 * time.Second

func newSpeakCmd(a *app) *cobra.Command {
	var voice string
	cmd := &cobra.Command{
		Use:   "speak <text>",
		Short: "Synthesise text and play it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if voice == "" {
				voice = a.cfg.Backend.VoiceID
			}
			res, err := a.client.GenerateAudio(ctx, strings.Join(args, " "), voice)
			if err != nil {
				return err
			}
			return a.playReply(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), res.AudioURL)
		},
	}
	cmd.Flags().StringVar(&voice, "voice", "", "voice id (default: backend.voice_id)")
	return cmd
}

// recordFlags are shared by the commands that send one utterance.
type recordFlags struct {
	file     string
	duration time.Duration
}

func (f *recordFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "send this audio file instead of recording")
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", defaultRecordDuration, "recording length")
}

func newEchoCmd(a *app) *cobra.Command {
	var rf recordFlags
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Transcribe an utterance and play it back in the configured voice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			name, data, err := a.utterance(ctx, out, rf)
			if err != nil {
				return err
			}
			res, err := a.client.Echo(ctx, name, data)
			if err != nil {
				return err
			}
			if text := transcript.Normalize(res.Transcription); text != "" {
				chat.NewTerminal(out).AddRow(chat.Row{Role: chat.RoleUser, Text: text, Final: true, AudioURL: res.AudioURL})
			}
			return a.playReply(ctx, cmd.InOrStdin(), out, res.AudioURL)
		},
	}
	rf.bind(cmd)
	return cmd
}

func newChatCmd(a *app) *cobra.Command {
	var rf recordFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send one utterance to the agent and play its reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			name, data, err := a.utterance(ctx, out, rf)
			if err != nil {
				return err
			}
			res, err := a.client.AgentChat(ctx, a.sessionID, name, data)
			if err != nil {
				return err
			}

			text := res.TranscribedText
			resp := res.LLMResponse
			rec := transcript.NewReconciler(chat.NewTerminal(out), transcript.WithMetrics(a.metrics))
			rec.TurnEnd(ctx, transcript.TurnEnd{Transcript: &text, Response: &resp, AudioURL: res.AudioURL})

			if res.AudioURL == "" {
				return nil
			}
			return a.playReply(ctx, cmd.InOrStdin(), out, res.AudioURL)
		},
	}
	rf.bind(cmd)
	return cmd
}

// playReply plays ref through the retry supervisor and waits for it to end.
// When playback stays blocked, the user is asked for a gesture and the
// deferred request is retried on each one.
func (a *app) playReply(ctx context.Context, in io.Reader, out io.Writer, ref string) error {
	src, err := a.client.ResolveURL(ref)
	if err != nil {
		return err
	}

	dev := newSpeaker(a.cfg)
	gate := playback.NewGate(dev)
	player := speaker.NewURLPlayer(dev, a.client.HTTPClient())
	defer player.ClearSource()
	sup := playback.NewSupervisor(player, gate,
		playback.WithRetryBaseDelay(a.cfg.Playback.RetryBaseDelay),
		playback.WithMaxRetries(a.cfg.Playback.Retries()),
		playback.WithSupervisorMetrics(a.metrics),
	)

	ctx, cancel := context.WithCancel(ctx)
	var g errgroup.Group
	defer func() {
		cancel()
		_ = g.Wait()
	}()
	if a.configPath != "" {
		if err := a.watchConfig(ctx, &g, sup); err != nil {
			slog.Debug("config hot reload disabled", "err", err)
		}
	}

	if a.cfg.Playback.UnlockOnStart {
		if err := gate.Unlock(ctx); err != nil {
			slog.Warn("audio unlock at start failed", "err", err)
		}
	}

	err = sup.Play(ctx, src)
	lines := bufio.NewScanner(in)
	for errors.Is(err, playback.ErrDeferred) {
		if _, pending := gate.Pending(); !pending {
			break
		}
		fmt.Fprintln(out, "Press Enter to play the reply")
		if !lines.Scan() {
			return fmt.Errorf("playback blocked and no gesture received: %w", err)
		}
		err = gate.Gesture(ctx)
		if player.Current() != nil {
			err = nil
		}
	}
	if err != nil {
		return err
	}

	pb := player.Current()
	if pb == nil {
		return errors.New("playback did not start")
	}
	select {
	case <-pb.Done():
		return nil
	case <-ctx.Done():
		player.Stop()
		return ctx.Err()
	}
}
