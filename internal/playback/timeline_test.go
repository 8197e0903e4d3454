package playback

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
)

func constantChunk(v float32, frames, rate int) *entities.AudioChunk {
	data := make([]float32, frames)
	for i := range data {
		data[i] = v
	}
	return entities.NewMonoChunk(data, rate)
}

func TestTimeline_Window(t *testing.T) {
	tl := NewTimeline(1000)
	tl.Add("a", 1.0, constantChunk(0.5, 1000, 1000))

	w := tl.Window(1.5, 100)
	for i, v := range w {
		assert.Equal(t, float32(0.5), v, "sample %d", i)
	}

	// half the window precedes the segment
	w = tl.Window(1.05, 100)
	assert.Equal(t, float32(0), w[0])
	assert.Equal(t, float32(0.5), w[99])
}

func TestTimeline_DownmixesChannels(t *testing.T) {
	tl := NewTimeline(1000)
	tl.Add("stereo", 0, &entities.AudioChunk{
		Data:       [][]float32{{1, 1}, {0, 0}},
		SampleRate: 1000,
	})
	w := tl.Window(0.002, 2)
	assert.Equal(t, []float32{0.5, 0.5}, w)
}

func TestTimeline_PrunesAndRemoves(t *testing.T) {
	tl := NewTimeline(1000)
	tl.Add("a", 0, constantChunk(1, 100, 1000))
	tl.Add("b", 5, constantChunk(1, 100, 1000))
	assert.Equal(t, 2, tl.Len())

	tl.Window(3, 10)
	assert.Equal(t, 1, tl.Len())

	tl.Remove("b")
	assert.Equal(t, 0, tl.Len())

	tl.Add("c", 7, constantChunk(1, 10, 1000))
	tl.Clear()
	assert.Equal(t, 0, tl.Len())
}
