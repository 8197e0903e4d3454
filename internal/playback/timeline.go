package playback

import (
	"math"
	"sort"
	"sync"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
)

type segment struct {
	id      string
	start   float64
	samples []float32
}

func (s segment) end(rate int) float64 {
	return s.start + float64(len(s.samples))/float64(rate)
}

// Timeline records what an output context is scheduled to play so the signal
// can be analysed without touching the playback path.
type Timeline struct {
	rate     int
	mu       sync.Mutex
	segments []segment
}

// NewTimeline creates a timeline at the given output sample rate
func NewTimeline(rate int) *Timeline {
	return &Timeline{rate: rate}
}

// Add records chunk as playing from start, downmixed to mono
func (t *Timeline) Add(id string, start float64, chunk *entities.AudioChunk) {
	mono := make([]float32, chunk.Frames())
	channels := chunk.Channels()
	for _, data := range chunk.Data {
		for i, v := range data {
			mono[i] += v / float32(channels)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = append(t.segments, segment{id: id, start: start, samples: mono})
	sort.SliceStable(t.segments, func(i, j int) bool {
		return t.segments[i].start < t.segments[j].start
	})
}

// Remove drops a segment, used when its source is stopped early
func (t *Timeline) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, seg := range t.segments {
		if seg.id == id {
			t.segments = append(t.segments[:i], t.segments[i+1:]...)
			return
		}
	}
}

// Clear drops every segment
func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = nil
}

// Window renders the n samples that play just before time end. Segments that
// finished before the window are pruned.
func (t *Timeline) Window(end float64, n int) []float32 {
	out := make([]float32, n)
	windowStart := end - float64(n)/float64(t.rate)

	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.segments[:0]
	for _, seg := range t.segments {
		if seg.end(t.rate) < windowStart {
			continue
		}
		kept = append(kept, seg)

		offset := int(math.Round((seg.start - windowStart) * float64(t.rate)))
		from := 0
		if offset < 0 {
			from = -offset
		}
		to := len(seg.samples)
		if offset+to > n {
			to = n - offset
		}
		for j := from; j < to; j++ {
			out[offset+j] += seg.samples[j]
		}
	}
	t.segments = kept
	return out
}

// Len returns the number of recorded segments
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.segments)
}
