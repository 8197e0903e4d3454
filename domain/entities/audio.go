package entities

import "time"

// AudioChunk is an immutable run of planar float samples.
// Data holds one slice per channel, all of equal length.
type AudioChunk struct {
	Data       [][]float32
	SampleRate int
}

// NewMonoChunk wraps a single channel of samples
func NewMonoChunk(samples []float32, sampleRate int) *AudioChunk {
	return &AudioChunk{Data: [][]float32{samples}, SampleRate: sampleRate}
}

// Channels returns the channel count
func (c *AudioChunk) Channels() int {
	return len(c.Data)
}

// Frames returns the number of samples per channel
func (c *AudioChunk) Frames() int {
	if len(c.Data) == 0 {
		return 0
	}
	return len(c.Data[0])
}

// Seconds returns the playback duration in seconds
func (c *AudioChunk) Seconds() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(c.Frames()) / float64(c.SampleRate)
}

// Duration returns the playback duration
func (c *AudioChunk) Duration() time.Duration {
	return time.Duration(c.Seconds() * float64(time.Second))
}

// Channel returns the samples of channel i
func (c *AudioChunk) Channel(i int) []float32 {
	if i < 0 || i >= len(c.Data) {
		return nil
	}
	return c.Data[i]
}

// Voice is a synthetic voice offered by a speech synthesizer
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Lang string `json:"lang"`
}
