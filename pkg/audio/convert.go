package audio

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultSampleRate is the capture rate expected by the voice backend.
	DefaultSampleRate = 16000

	// DefaultQuantum is the number of input samples per frame.
	DefaultQuantum = 4096
)

// FloatToPCM16 converts floating-point samples to signed 16-bit little-endian
// PCM. Each sample is clamped to [-1, 1]; negative values scale by 32768 and
// positive values by 32767 so both ends map onto the int16 range exactly.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Framer turns a live [Source] into a sequence of [Frame] values at a fixed
// quantum. No resampling, silence suppression, or compression is applied.
//
// A Framer is not safe for concurrent use; run one per capture session.
type Framer struct {
	SampleRate int
	Quantum    int

	seq uint64
}

// NewFramer returns a Framer for the given rate and quantum, substituting the
// package defaults for non-positive values.
func NewFramer(sampleRate, quantum int) *Framer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	return &Framer{SampleRate: sampleRate, Quantum: quantum}
}

// Frame converts one quantum of samples into the next [Frame].
func (f *Framer) Frame(samples []float32) Frame {
	fr := Frame{
		Data:       FloatToPCM16(samples),
		SampleRate: f.SampleRate,
		Seq:        f.seq,
		Timestamp:  time.Duration(f.seq) * time.Duration(f.Quantum) * time.Second / time.Duration(f.SampleRate),
	}
	f.seq++
	return fr
}

// Run reads quanta from src until ctx is cancelled or src fails, passing each
// converted frame to sink in capture order. sink must not block; it decides on
// its own whether to transmit or drop the frame.
//
// Run does not open or close src. It returns nil when ctx is cancelled.
func (f *Framer) Run(ctx context.Context, src Source, sink func(Frame)) error {
	buf := make([]float32, f.Quantum)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := src.Read(buf); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("audio: framer read: %w", err)
		}
		fr := f.Frame(buf)
		if fr.Seq == 0 {
			slog.Debug("audio framer: first frame captured",
				"sample_rate", f.SampleRate,
				"quantum", f.Quantum,
				"bytes", len(fr.Data),
			)
		}
		sink(fr)
	}
}
