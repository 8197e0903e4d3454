package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/monitor"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/playback"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/saga"
)

// Step names double as log fields
const (
	StepCredential = "credential"
	StepWakeLock   = "wake_lock"
	StepKeepAlive  = "keep_alive"
	StepMicrophone = "microphone"
	StepContexts   = "audio_contexts"
	StepPlayback   = "playback"
	StepDial       = "dial"
)

var microphoneConstraints = repositories.MicrophoneConstraints{
	ChannelCount:     1,
	EchoCancellation: true,
	NoiseSuppression: true,
	AutoGainControl:  true,
}

// connectSteps lists the acquisition steps of a session in order. Each
// compensation releases what its step acquired.
func (m *Manager) connectSteps(s *session) []saga.Step {
	return []saga.Step{
		saga.FuncStep{
			Name: StepCredential,
			Do: func(ctx context.Context, _ saga.SagaData) error {
				key, err := m.credentials.Resolve(ctx)
				if err != nil {
					return err
				}
				s.apiKey = key
				return nil
			},
		},
		saga.FuncStep{
			Name: StepWakeLock,
			Do: func(ctx context.Context, _ saga.SagaData) error {
				m.acquireWakeLock(ctx, s)
				return nil
			},
			Undo: func(ctx context.Context, _ saga.SagaData) error {
				return m.releaseWakeLock(ctx, s)
			},
		},
		saga.FuncStep{
			Name: StepKeepAlive,
			Do: func(ctx context.Context, _ saga.SagaData) error {
				m.startKeepAlive(ctx, s)
				return nil
			},
			Undo: func(ctx context.Context, _ saga.SagaData) error {
				return m.stopKeepAlive(ctx, s)
			},
		},
		saga.FuncStep{
			Name: StepMicrophone,
			Do: func(ctx context.Context, _ saga.SagaData) error {
				return m.openMicrophone(ctx, s)
			},
			Undo: func(ctx context.Context, _ saga.SagaData) error {
				if s.stream == nil {
					return nil
				}
				return s.stream.Stop()
			},
		},
		saga.FuncStep{
			Name: StepContexts,
			Do: func(ctx context.Context, _ saga.SagaData) error {
				return m.openContexts(ctx, s)
			},
			Undo: func(ctx context.Context, _ saga.SagaData) error {
				return closeContexts(ctx, s)
			},
		},
		saga.FuncStep{
			Name: StepPlayback,
			Do: func(ctx context.Context, _ saga.SagaData) error {
				m.startPlayback(s)
				return nil
			},
			Undo: func(ctx context.Context, _ saga.SagaData) error {
				s.monitor.Stop()
				s.scheduler.Interrupt()
				return nil
			},
		},
		saga.FuncStep{
			Name: StepDial,
			Do: func(ctx context.Context, _ saga.SagaData) error {
				channel, err := m.dialer.Dial(ctx, repositories.LiveConfig{
					APIKey:             s.apiKey,
					Model:              m.config.Model,
					VoiceName:          m.config.VoiceName,
					SystemInstruction:  m.config.SystemInstruction,
					ResponseModalities: []string{repositories.ResponseModalityAudio},
				})
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return ClassifyRemoteError(err)
				}
				s.channel = channel
				return nil
			},
			Undo: func(ctx context.Context, _ saga.SagaData) error {
				if s.channel == nil {
					return nil
				}
				return s.channel.Close()
			},
		},
	}
}

// acquireWakeLock requests a screen wake lock. Failures are logged only.
func (m *Manager) acquireWakeLock(ctx context.Context, s *session) {
	if m.platform.WakeLock == nil {
		m.logger.Debug("Wake lock not supported", zap.String("sessionID", s.id))
		return
	}

	lock, err := m.platform.WakeLock.RequestWakeLock(ctx)
	if err != nil {
		m.logger.Warn("Wake lock request failed",
			zap.String("sessionID", s.id),
			zap.Error(err))
		return
	}

	s.mu.Lock()
	previous := s.wakeLock
	s.wakeLock = lock
	s.mu.Unlock()

	if previous != nil {
		if err := previous.Release(ctx); err != nil {
			m.logger.Debug("Stale wake lock release failed", zap.Error(err))
		}
	}
}

func (m *Manager) releaseWakeLock(ctx context.Context, s *session) error {
	s.mu.Lock()
	lock := s.wakeLock
	s.wakeLock = nil
	s.mu.Unlock()

	if lock == nil {
		return nil
	}
	if err := lock.Release(ctx); err != nil {
		return fmt.Errorf("failed to release wake lock: %w", err)
	}
	return nil
}

func (m *Manager) startKeepAlive(ctx context.Context, s *session) {
	if !m.config.KeepAliveEnabled || m.platform.Background == nil {
		return
	}
	if err := m.platform.Background.PlayKeepAlive(ctx, m.keepAliveClip); err != nil {
		m.logger.Warn("Silent audio playback failed",
			zap.String("sessionID", s.id),
			zap.Error(err))
		return
	}
	s.mu.Lock()
	s.keepAlive = true
	s.mu.Unlock()
}

func (m *Manager) stopKeepAlive(ctx context.Context, s *session) error {
	s.mu.Lock()
	playing := s.keepAlive
	s.keepAlive = false
	s.mu.Unlock()

	if !playing {
		return nil
	}
	return m.platform.Background.PauseKeepAlive(ctx)
}

func (m *Manager) openMicrophone(ctx context.Context, s *session) error {
	if m.platform.Microphone == nil {
		return ErrUnsupported
	}

	stream, err := m.platform.Microphone.OpenMicrophone(ctx, microphoneConstraints)
	if err != nil {
		if errors.Is(err, ErrUnsupported) || errors.Is(err, ErrPermissionDenied) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("failed to open microphone: %w", err)
	}
	s.stream = stream
	return nil
}

// openContexts creates both audio contexts and resumes them when the
// platform starts them suspended. A half-built pair is closed before
// returning an error since the step compensation does not run for it.
func (m *Manager) openContexts(ctx context.Context, s *session) error {
	if m.platform.Audio == nil {
		return ErrUnsupported
	}

	input, err := m.platform.Audio.NewInputContext(ctx, s.stream.SampleRate())
	if err != nil {
		return fmt.Errorf("failed to create input context: %w", err)
	}
	s.input = input

	output, err := m.platform.Audio.NewOutputContext(ctx, m.config.OutputSampleRate)
	if err != nil {
		_ = closeContexts(context.WithoutCancel(ctx), s)
		return fmt.Errorf("failed to create output context: %w", err)
	}
	s.output = output

	for _, c := range s.contexts() {
		if c.State() != repositories.ContextStateSuspended {
			continue
		}
		if err := c.Resume(ctx); err != nil {
			_ = closeContexts(context.WithoutCancel(ctx), s)
			return fmt.Errorf("failed to resume audio context: %w", err)
		}
	}
	return nil
}

func closeContexts(ctx context.Context, s *session) error {
	var errs []error
	for _, c := range s.contexts() {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.input = nil
	s.output = nil
	return errors.Join(errs...)
}

// startPlayback wires the output scheduler and the amplitude monitor to the
// output context
func (m *Manager) startPlayback(s *session) {
	s.scheduler = playback.NewScheduler(s.output, m.logger.With(zap.String("sessionID", s.id)))
	s.scheduler.OnSpeakingChanged(func(speaking bool) { m.onSpeaking(s, speaking) })

	analyser := s.output.NewAnalyser(m.config.AnalyserFFTSize)
	s.monitor = monitor.NewAmplitude(analyser, func(volume float64) { m.onVolume(s, volume) }, m.logger, m.monitorOptions...)
	s.monitor.Start(s.ctx)
}

// recover resumes suspended contexts and re-requests the wake lock after the
// client returns to the foreground
func (m *Manager) recover(s *session) {
	if !s.alive() {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, recoverTimeout)
	defer cancel()

	for _, c := range s.contexts() {
		if c.State() != repositories.ContextStateSuspended {
			continue
		}
		if err := c.Resume(ctx); err != nil {
			m.logger.Warn("Failed to resume audio context",
				zap.String("sessionID", s.id),
				zap.Error(err))
		}
	}
	m.acquireWakeLock(ctx, s)
}

func (s *session) suspended() bool {
	for _, c := range s.contexts() {
		if c.State() == repositories.ContextStateSuspended {
			return true
		}
	}
	return false
}

const (
	recoverTimeout  = 10 * time.Second
	teardownTimeout = 5 * time.Second
)
