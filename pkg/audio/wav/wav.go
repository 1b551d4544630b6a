// Package wav implements the small amount of RIFF/WAVE container handling the
// TTS fragment path needs: signature detection, duplicate-header stripping,
// size-field repair after concatenation, and encoding captured PCM for the
// single-shot upload endpoints.
//
// Only the canonical 44-byte PCM header layout is handled. Decoding for
// playback is done by the speaker package.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// HeaderSize is the size of the canonical PCM WAV header.
const HeaderSize = 44

const (
	chunkSizeOffset = 4
	dataSizeOffset  = 40
)

// Signature is the 4-byte RIFF container marker.
var Signature = []byte("RIFF")

// HasSignature reports whether b begins with the RIFF signature.
func HasSignature(b []byte) bool {
	return bytes.HasPrefix(b, Signature)
}

// StripDuplicateHeader removes a redundant header from a trailing fragment.
// The header is stripped only when b starts with the signature and is at least
// [HeaderSize] bytes long; otherwise b is returned unchanged.
func StripDuplicateHeader(b []byte) []byte {
	if len(b) >= HeaderSize && HasSignature(b) {
		return b[HeaderSize:]
	}
	return b
}

// PatchSizes rewrites the RIFF chunk size (offset 4) and the data subchunk size
// (offset 40) of buf in place so they describe the full payload after the
// header: chunk size = 36 + payload, data size = payload. Buffers shorter than
// [HeaderSize] or without the signature are left untouched; the return value
// reports whether a patch was applied.
func PatchSizes(buf []byte) bool {
	if len(buf) < HeaderSize || !HasSignature(buf) {
		return false
	}
	payload := uint32(len(buf) - HeaderSize)
	binary.LittleEndian.PutUint32(buf[chunkSizeOffset:], 36+payload)
	binary.LittleEndian.PutUint32(buf[dataSizeOffset:], payload)
	return true
}

// Sizes returns the chunk and data size fields of a canonical header.
func Sizes(buf []byte) (chunk, data uint32, err error) {
	if len(buf) < HeaderSize {
		return 0, 0, fmt.Errorf("wav: header too short: need %d bytes, got %d", HeaderSize, len(buf))
	}
	return binary.LittleEndian.Uint32(buf[chunkSizeOffset:]), binary.LittleEndian.Uint32(buf[dataSizeOffset:]), nil
}

// Encode wraps mono 16-bit little-endian PCM in a canonical WAV header.
func Encode(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("wav: cannot encode empty audio")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wav: sample rate must be positive, got %d", sampleRate)
	}
	const (
		channels      = 1
		bitsPerSample = 16
	)
	buf := make([]byte, HeaderSize, HeaderSize+len(pcm))
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(pcm)))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:], channels)
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(sampleRate*channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(buf[32:], channels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[34:], bitsPerSample)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(pcm)))
	return append(buf, pcm...), nil
}
