package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/audio/portaudio"
	"github.com/MrWong99/voicelink/pkg/audio/wav"
)

// utterance returns the audio to send: the --file contents when given,
// otherwise a fresh microphone recording wrapped as WAV.
func (a *app) utterance(ctx context.Context, out io.Writer, rf recordFlags) (string, []byte, error) {
	if rf.file != "" {
		data, err := os.ReadFile(rf.file)
		if err != nil {
			return "", nil, fmt.Errorf("read audio file: %w", err)
		}
		return filepath.Base(rf.file), data, nil
	}

	fmt.Fprintf(out, "Recording for %s...\n", rf.duration)
	data, err := recordWAV(ctx, portaudio.New(), a.cfg.Capture.SampleRate, a.cfg.Capture.Quantum, rf.duration)
	if err != nil {
		return "", nil, err
	}
	return "recording.wav", data, nil
}

// recordWAV captures at least d of audio from src and returns it as a 16-bit
// mono WAV file. src is opened and closed here; cancelling ctx ends the
// recording early with ctx's error.
func recordWAV(ctx context.Context, src audio.Source, sampleRate, quantum int, d time.Duration) ([]byte, error) {
	framer := audio.NewFramer(sampleRate, quantum)
	if err := src.Open(ctx, framer.SampleRate, framer.Quantum); err != nil {
		return nil, err
	}
	defer func() {
		if err := src.Close(); err != nil {
			slog.Warn("record: close capture", "err", err)
		}
	}()
	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	defer stop()

	total := int(d.Seconds() * float64(framer.SampleRate))
	quanta := max(1, (total+framer.Quantum-1)/framer.Quantum)

	buf := make([]float32, framer.Quantum)
	pcm := make([]byte, 0, quanta*framer.Quantum*2)
	for range quanta {
		if err := src.Read(buf); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("record: %w", err)
		}
		pcm = append(pcm, framer.Frame(buf).Data...)
	}
	return wav.Encode(pcm, framer.SampleRate)
}
