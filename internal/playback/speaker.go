package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/audio"
)

// Speaker speaks utterances by streaming synthesized PCM into a Scheduler
type Speaker struct {
	tts       repositories.TextToSpeech
	scheduler *Scheduler
	logger    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Ensure Speaker implements the SpeechSynthesizer interface
var _ repositories.SpeechSynthesizer = (*Speaker)(nil)

// NewSpeaker creates a speaker playing through scheduler
func NewSpeaker(tts repositories.TextToSpeech, scheduler *Scheduler, logger *zap.Logger) *Speaker {
	return &Speaker{
		tts:       tts,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Voices lists the voices of the synthesis backend
func (s *Speaker) Voices(ctx context.Context) ([]entities.Voice, error) {
	return s.tts.Voices(ctx)
}

// Speak cancels any utterance in progress and starts speaking u.
// It returns once synthesis has started.
func (s *Speaker) Speak(ctx context.Context, u repositories.Utterance) error {
	s.Cancel()

	opts := repositories.SynthesisOptions{
		Language: u.Lang,
		Speed:    u.Rate,
		Pitch:    u.Pitch,
	}
	if u.Voice != nil {
		opts.VoiceID = u.Voice.ID
	}

	speakCtx, cancel := context.WithCancel(ctx)
	stream, err := s.tts.ConvertTextToSpeech(speakCtx, u.Text, opts)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to synthesize speech: %w", err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.pump(speakCtx, stream, done)
	return nil
}

// pump decodes the PCM stream into chunks, carrying odd bytes between reads
func (s *Speaker) pump(ctx context.Context, stream <-chan []byte, done chan struct{}) {
	defer close(done)

	rate := s.tts.SampleRate()
	var carry []byte
	for data := range stream {
		if ctx.Err() != nil {
			continue
		}
		buf := append(carry, data...)
		even := len(buf) &^ 1
		carry = append([]byte(nil), buf[even:]...)
		if even == 0 {
			continue
		}

		samples, err := audio.DecodePCM16(buf[:even], 1)
		if err != nil {
			s.logger.Warn("Dropping undecodable speech chunk", zap.Error(err))
			continue
		}
		_, err = s.scheduler.Enqueue(ctx, entities.NewMonoChunk(samples[0], rate))
		if err != nil && !errors.Is(err, ErrInterrupted) {
			s.logger.Warn("Failed to schedule speech chunk", zap.Error(err))
		}
	}
}

// Cancel stops the current utterance, if any. It waits for the synthesis
// stream to drain so no chunk of it is scheduled after Cancel returns.
func (s *Speaker) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.scheduler.Interrupt()
}

// Done returns a channel closed when the current synthesis stream is drained
func (s *Speaker) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}
