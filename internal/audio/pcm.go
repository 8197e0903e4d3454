// Package audio provides the PCM codec, resampler and signal analysis used by
// live voice sessions.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Standard audio sample rates for live sessions.
const (
	SampleRate24kHz = 24000 // Remote model speech output
	SampleRate16kHz = 16000 // Remote model speech input
)

const bytesPerSample = 2

// ErrMalformedAudio is returned for payloads that are not valid PCM16
var ErrMalformedAudio = errors.New("malformed audio payload")

// EncodePCM16 quantizes float samples to little-endian signed 16-bit PCM.
// Samples are clamped to [-1, 1] before scaling so loud input never wraps.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		v := clamp(s)
		var q int16
		if v < 0 {
			q = int16(v * 0x8000)
		} else {
			q = int16(v * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(q)) //nolint:gosec // PCM16 bit pattern
	}
	return out
}

// DecodePCM16 converts interleaved little-endian PCM16 into planar float
// samples in [-1, 1) using v/32768.
func DecodePCM16(data []byte, channels int) ([][]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: channel count must be positive, got %d", ErrMalformedAudio, channels)
	}
	frameBytes := bytesPerSample * channels
	if len(data)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrMalformedAudio, len(data), frameBytes)
	}

	frames := len(data) / frameBytes
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			offset := (i*channels + ch) * bytesPerSample
			v := int16(binary.LittleEndian.Uint16(data[offset:])) //nolint:gosec // PCM16 bit pattern
			out[ch][i] = float32(v) / 32768.0
		}
	}
	return out, nil
}

// Float32FromBytes reads little-endian IEEE float32 samples, the layout
// clients use for raw microphone frames.
func Float32FromBytes(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of 4", ErrMalformedAudio, len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// Float32ToBytes is the inverse of Float32FromBytes
func Float32ToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

func clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	// NaN
	if s != s {
		return 0
	}
	return s
}
