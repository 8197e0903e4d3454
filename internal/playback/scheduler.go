// Package playback schedules decoded audio for gapless output.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

// ErrInterrupted is returned by Enqueue when Interrupt ran while the chunk was being started
var ErrInterrupted = errors.New("playback interrupted")

// Handle is one scheduled output buffer
type Handle struct {
	ID       string
	Seq      uint64
	Start    float64
	Duration float64

	source repositories.PlayingSource
}

// Scheduler plays chunks back to back on an output context. A chunk starts
// where the previous one ends unless the cursor fell behind the clock, in
// which case it starts now. The set of active handles is non-empty exactly
// while audio is playing.
type Scheduler struct {
	out    repositories.OutputContext
	logger *zap.Logger

	mu         sync.Mutex
	nextStart  float64
	seq        uint64
	generation uint64
	active     map[string]*Handle
	onSpeaking func(speaking bool)
}

// NewScheduler creates a scheduler bound to out
func NewScheduler(out repositories.OutputContext, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		out:    out,
		logger: logger,
		active: make(map[string]*Handle),
	}
}

// OnSpeakingChanged registers fn to be told when playback starts and ends
func (s *Scheduler) OnSpeakingChanged(fn func(speaking bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSpeaking = fn
}

// Enqueue schedules chunk right after everything already queued
func (s *Scheduler) Enqueue(ctx context.Context, chunk *entities.AudioChunk) (*Handle, error) {
	if chunk == nil || chunk.Frames() == 0 {
		return nil, fmt.Errorf("cannot schedule empty chunk")
	}

	s.mu.Lock()
	now := s.out.CurrentTime()
	if s.nextStart < now {
		s.nextStart = now
	}
	s.seq++
	h := &Handle{
		ID:       uuid.New().String(),
		Seq:      s.seq,
		Start:    s.nextStart,
		Duration: chunk.Seconds(),
	}
	s.nextStart += h.Duration
	started := len(s.active) == 0
	s.active[h.ID] = h
	gen := s.generation
	notify := s.onSpeaking
	s.mu.Unlock()

	if started && notify != nil {
		notify(true)
	}

	source, err := s.out.Play(ctx, chunk, h.Start, func() { s.ended(h.ID, gen) })
	if err != nil {
		s.mu.Lock()
		if s.generation == gen && s.nextStart == h.Start+h.Duration {
			s.nextStart = h.Start
		}
		s.mu.Unlock()
		s.ended(h.ID, gen)
		return nil, fmt.Errorf("failed to start playback: %w", err)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		if err := source.Stop(); err != nil {
			s.logger.Warn("Failed to stop playback source",
				zap.String("handleID", h.ID),
				zap.Error(err))
		}
		return nil, ErrInterrupted
	}
	if current, ok := s.active[h.ID]; ok {
		current.source = source
	}
	s.mu.Unlock()

	s.logger.Debug("Scheduled audio chunk",
		zap.Uint64("seq", h.Seq),
		zap.Float64("start", h.Start),
		zap.Float64("duration", h.Duration))

	return h, nil
}

// ended removes a finished handle. Callbacks from before an interruption are ignored.
func (s *Scheduler) ended(id string, gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	if _, ok := s.active[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	stopped := len(s.active) == 0
	notify := s.onSpeaking
	s.mu.Unlock()

	if stopped && notify != nil {
		notify(false)
	}
}

// Interrupt stops every active buffer at once, clears the active set and
// rewinds the cursor. It is a hard cancel with no fade.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	handles := s.active
	s.active = make(map[string]*Handle)
	s.nextStart = 0
	s.generation++
	notify := s.onSpeaking
	s.mu.Unlock()

	for _, h := range handles {
		if h.source == nil {
			continue
		}
		if err := h.source.Stop(); err != nil {
			s.logger.Warn("Failed to stop playback source",
				zap.String("handleID", h.ID),
				zap.Error(err))
		}
	}

	if len(handles) > 0 {
		s.logger.Info("Playback interrupted", zap.Int("stopped", len(handles)))
	}
	if notify != nil {
		notify(false)
	}
}

// IsSpeaking reports whether any buffer is playing or queued
func (s *Scheduler) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) > 0
}

// ActiveCount returns the number of scheduled buffers not yet finished
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart returns the scheduling cursor in context seconds
func (s *Scheduler) NextStart() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}
