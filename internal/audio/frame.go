package audio

import "sync"

// DefaultFrameSize is the number of samples per processed capture frame
const DefaultFrameSize = 4096

// FrameProcessor regroups captured sample runs of any length into fixed size
// frames, preserving capture order.
type FrameProcessor struct {
	size    int
	pending []float32
	mu      sync.Mutex
}

// NewFrameProcessor creates a processor emitting frames of size samples
func NewFrameProcessor(size int) *FrameProcessor {
	if size <= 0 {
		size = DefaultFrameSize
	}
	return &FrameProcessor{
		size:    size,
		pending: make([]float32, 0, size*2),
	}
}

// Write appends captured samples and returns every frame completed by them
func (p *FrameProcessor) Write(samples []float32) [][]float32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = append(p.pending, samples...)

	var frames [][]float32
	for len(p.pending) >= p.size {
		frame := make([]float32, p.size)
		copy(frame, p.pending[:p.size])
		frames = append(frames, frame)
		p.pending = p.pending[p.size:]
	}

	// Compact so the backing array does not grow without bound
	if cap(p.pending) > p.size*4 {
		rest := make([]float32, len(p.pending), p.size*2)
		copy(rest, p.pending)
		p.pending = rest
	}
	return frames
}

// Pending returns the number of buffered samples not yet framed
func (p *FrameProcessor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Reset drops buffered samples
func (p *FrameProcessor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = p.pending[:0]
}
