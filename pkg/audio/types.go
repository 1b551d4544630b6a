package audio

import "time"

// Frame is one quantum of captured audio, encoded for transmission.
// Frames are the atomic unit of outbound transport: produced by the [Framer]
// and handed to the duplex channel exactly once.
type Frame struct {
	// Data is signed 16-bit little-endian mono PCM.
	Data []byte

	// SampleRate in Hz (16000 for the voice backend).
	SampleRate int

	// Seq is the capture order of the frame, starting at 0 for each session.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of PCM samples carried by the frame.
func (f Frame) Samples() int { return len(f.Data) / 2 }
