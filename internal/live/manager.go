// Package live manages the full-duplex voice session with the remote model:
// acquiring the client's microphone, audio contexts and wake lock, streaming
// captured audio upstream and scheduling the spoken replies.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/audio"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/metrics"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/monitor"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/saga"
)

// CredentialResolver yields the access key of the remote model
type CredentialResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// Observer receives every session snapshot change
type Observer func(entities.SessionSnapshot)

// Option customises a Manager
type Option func(*Manager)

// WithMetrics records session metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithMonitorOptions passes options to the amplitude monitor of each session
func WithMonitorOptions(opts ...monitor.Option) Option {
	return func(mgr *Manager) {
		mgr.monitorOptions = append(mgr.monitorOptions, opts...)
	}
}

// WithTicker replaces the periodic visibility check source
func WithTicker(fn func(time.Duration) (<-chan time.Time, func())) Option {
	return func(mgr *Manager) {
		mgr.tickerFn = fn
	}
}

// Manager drives one live session at a time for a single client
type Manager struct {
	config      Config
	platform    repositories.Platform
	dialer      repositories.LiveDialer
	credentials CredentialResolver
	logger      *zap.Logger

	metrics        *metrics.Metrics
	monitorOptions []monitor.Option
	tickerFn       func(time.Duration) (<-chan time.Time, func())
	keepAliveClip  repositories.KeepAliveClip

	// connectMu serialises Connect and Disconnect
	connectMu sync.Mutex
	// pending tracks teardowns started by the event loop
	pending sync.WaitGroup

	mu           sync.Mutex
	current      *session
	state        entities.SessionState
	speaking     bool
	volume       float64
	errMessage   string
	observers    map[int]Observer
	nextObserver int
}

// NewManager creates a live session manager for one client platform
func NewManager(config Config, platform repositories.Platform, dialer repositories.LiveDialer, credentials CredentialResolver, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if err := ValidateConfig(&config, logger); err != nil {
		return nil, fmt.Errorf("invalid live config: %w", err)
	}
	if dialer == nil {
		return nil, fmt.Errorf("live dialer is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential resolver is required")
	}

	m := &Manager{
		config:      config,
		platform:    platform,
		dialer:      dialer,
		credentials: credentials,
		logger:      logger,
		state:       entities.SessionStateIdle,
		observers:   make(map[int]Observer),
		tickerFn: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		keepAliveClip: repositories.KeepAliveClip{
			MIMEType: "audio/wav",
			Data:     audio.SilentWAV(time.Second, 8000),
			Volume:   config.KeepAliveVolume,
			Loop:     true,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Connect acquires the client resources and opens the live channel. It
// returns once the channel is dialed; the session becomes connected when the
// remote side acknowledges the setup.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	previous := m.current
	m.mu.Unlock()

	if previous != nil {
		if m.config.ConnectPolicy == ConnectPolicyReject {
			return ErrSessionActive
		}
		m.logger.Info("Replacing active live session", zap.String("sessionID", previous.id))
		m.stop(previous)
	}
	m.pending.Wait()

	s := newSession(func(id string) *saga.Transaction {
		return saga.NewTransaction(id, m.logger)
	})

	m.mu.Lock()
	m.current = s
	m.errMessage = ""
	m.setStateLocked(entities.SessionStateConnecting)
	m.mu.Unlock()
	m.notify()

	m.logger.Info("Connecting live session", zap.String("sessionID", s.id))

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	stopAfter := context.AfterFunc(s.ctx, stopRun)
	defer stopAfter()

	if err := s.tx.Run(runCtx, m.connectSteps(s)...); err != nil {
		cause := stepCause(err)
		cancelled := !s.alive()
		m.teardown(s, "failed")

		if cancelled && errors.Is(err, context.Canceled) {
			m.logger.Info("Live session connect cancelled", zap.String("sessionID", s.id))
			return fmt.Errorf("failed to connect live session: %w", err)
		}

		m.logger.Error("Failed to connect live session",
			zap.String("sessionID", s.id),
			zap.Error(err))
		m.metrics.RecordError("live", ErrorKind(cause))

		m.mu.Lock()
		if m.current == s {
			m.current = nil
			m.errMessage = UserMessage(cause)
			m.speaking = false
			m.volume = 0
			m.setStateLocked(entities.SessionStateErrored)
		}
		m.mu.Unlock()
		m.notify()
		return fmt.Errorf("failed to connect live session: %w", err)
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	m.metrics.RecordLiveSessionStart()

	s.loopDone = make(chan struct{})
	go m.run(s)
	return nil
}

// stepCause strips the transaction wrapping so classification sees the step error
func stepCause(err error) error {
	if unwrapped := errors.Unwrap(err); unwrapped != nil {
		return unwrapped
	}
	return err
}

// Disconnect tears the current session down and returns to idle. It is safe
// to call in any state and more than once.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.current != nil {
		// unblock a Connect still waiting on the client
		m.current.cancel()
	}
	m.mu.Unlock()

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	s := m.current
	m.mu.Unlock()

	if s != nil {
		m.stop(s)
		return
	}
	m.pending.Wait()

	m.mu.Lock()
	changed := m.state != entities.SessionStateIdle || m.speaking || m.volume != 0 || m.errMessage != ""
	m.speaking = false
	m.volume = 0
	m.errMessage = ""
	m.setStateLocked(entities.SessionStateIdle)
	m.mu.Unlock()
	if changed {
		m.notify()
	}
}

// stop tears s down and resets the manager to idle. Callers hold connectMu.
func (m *Manager) stop(s *session) {
	m.mu.Lock()
	if m.current == s {
		m.current = nil
	}
	m.mu.Unlock()

	m.teardown(s, "disconnected")

	m.mu.Lock()
	m.speaking = false
	m.volume = 0
	m.errMessage = ""
	m.setStateLocked(entities.SessionStateIdle)
	m.mu.Unlock()
	m.notify()

	m.logger.Info("Live session disconnected", zap.String("sessionID", s.id))
}

// teardown releases every resource of s exactly once, after its event loop
// and input pump have exited. It must not run on the event loop itself.
func (m *Manager) teardown(s *session, status string) {
	s.teardownOnce.Do(func() {
		s.cancel()
		if s.loopDone != nil {
			<-s.loopDone
		}
		s.pump.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		s.tx.Compensate(ctx)

		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if started {
			m.metrics.RecordLiveSessionEnd(status, time.Since(s.createdAt))
		}
	})
}

// end finishes s after the channel closed or failed. It runs on the event
// loop, so resources are released on a tracked goroutine once the loop exits.
func (m *Manager) end(s *session, state entities.SessionState, cause error) {
	m.mu.Lock()
	owned := m.current == s
	if owned {
		m.current = nil
		m.speaking = false
		m.volume = 0
		m.errMessage = UserMessage(cause)
		m.setStateLocked(state)
		m.pending.Add(1)
	}
	m.mu.Unlock()

	if owned {
		go func() {
			defer m.pending.Done()
			m.teardown(s, string(state))
		}()
	}

	if owned {
		if cause != nil {
			m.logger.Error("Live session failed",
				zap.String("sessionID", s.id),
				zap.Error(cause))
			m.metrics.RecordError("live", ErrorKind(cause))
		} else {
			m.logger.Info("Live session closed", zap.String("sessionID", s.id))
		}
		m.notify()
	}
}

// run is the event loop of s. It is the only goroutine that schedules
// playback, so model audio plays in arrival order.
func (m *Manager) run(s *session) {
	defer close(s.loopDone)

	var visibility <-chan repositories.Visibility
	var ticks <-chan time.Time
	if m.config.VisibilityRecovery {
		if m.platform.Visibility != nil {
			visibility = m.platform.Visibility.VisibilityChanges()
		}
		var stopTicker func()
		ticks, stopTicker = m.tickerFn(m.config.VisibilityCheckInterval)
		defer stopTicker()
	}

	events := s.channel.Events()
	for {
		select {
		case <-s.ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				m.end(s, entities.SessionStateClosed, nil)
				return
			}
			if !s.alive() {
				return
			}
			switch event.Type {
			case repositories.LiveEventOpen:
				m.handleOpen(s)
			case repositories.LiveEventMessage:
				m.handleMessage(s, event.Message)
			case repositories.LiveEventClose:
				m.end(s, entities.SessionStateClosed, nil)
				return
			case repositories.LiveEventError:
				cause := event.Err
				if cause == nil {
					cause = errors.New(event.Reason)
				}
				m.end(s, entities.SessionStateErrored, ClassifyRemoteError(cause))
				return
			}

		case v, ok := <-visibility:
			if !ok {
				visibility = nil
				continue
			}
			if v == repositories.VisibilityVisible {
				m.recover(s)
			}

		case <-ticks:
			if s.suspended() {
				m.recover(s)
			}
		}
	}
}

func (m *Manager) handleOpen(s *session) {
	m.mu.Lock()
	if m.current != s {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(entities.SessionStateConnected)
	m.mu.Unlock()
	m.notify()

	s.mu.Lock()
	pumping := s.pumping
	s.pumping = true
	s.mu.Unlock()
	if pumping {
		return
	}

	m.logger.Info("Live session connected", zap.String("sessionID", s.id))

	s.pump.Add(1)
	go m.pumpInput(s)
}

func (m *Manager) handleMessage(s *session, msg *repositories.LiveMessage) {
	if msg == nil {
		return
	}

	for _, blob := range msg.Audio {
		if !s.alive() {
			return
		}
		chunk, err := audio.DecodeFromTransport(blob.Data, m.config.OutputSampleRate, 1)
		if err != nil {
			m.logger.Warn("Dropping undecodable audio buffer",
				zap.String("sessionID", s.id),
				zap.String("mimeType", blob.MIMEType),
				zap.Error(err))
			m.metrics.RecordDecodeError()
			continue
		}
		if _, err := s.scheduler.Enqueue(s.ctx, chunk); err != nil {
			m.logger.Warn("Failed to schedule audio buffer",
				zap.String("sessionID", s.id),
				zap.Error(err))
			continue
		}
		m.metrics.RecordBufferPlayed()
	}

	if msg.Interrupted && s.alive() {
		s.scheduler.Interrupt()
		m.metrics.RecordInterruption()
	}
}

// pumpInput frames captured audio and streams it upstream in capture order
func (m *Manager) pumpInput(s *session) {
	defer s.pump.Done()

	frames := audio.NewFrameProcessor(m.config.FrameSize)
	samples := s.stream.Samples()
	rate := s.inputRate()

	for {
		select {
		case <-s.ctx.Done():
			return
		case captured, ok := <-samples:
			if !ok {
				return
			}
			for _, frame := range frames.Write(captured) {
				if !s.alive() {
					return
				}
				if m.config.InputResampling && rate > 0 && rate != m.config.InputSampleRate {
					frame = audio.Downsample(frame, rate, m.config.InputSampleRate)
				}
				if err := s.channel.SendRealtimeInput(s.ctx, audio.EncodeForTransport(frame)); err != nil {
					if !s.alive() {
						return
					}
					m.logger.Warn("Failed to send audio frame",
						zap.String("sessionID", s.id),
						zap.Error(err))
					continue
				}
				m.metrics.RecordFrameSent()
			}
		}
	}
}

func (m *Manager) onSpeaking(s *session, speaking bool) {
	m.mu.Lock()
	if m.current != s || !s.alive() {
		m.mu.Unlock()
		return
	}
	m.speaking = speaking
	switch {
	case speaking && m.state == entities.SessionStateConnected:
		m.setStateLocked(entities.SessionStateSpeaking)
	case !speaking && m.state == entities.SessionStateSpeaking:
		m.setStateLocked(entities.SessionStateConnected)
	}
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) onVolume(s *session, volume float64) {
	m.mu.Lock()
	if m.current != s || !s.alive() {
		m.mu.Unlock()
		return
	}
	m.volume = volume
	m.mu.Unlock()
	m.notify()
}

// setStateLocked moves to next when the transition is allowed. m.mu must be held.
func (m *Manager) setStateLocked(next entities.SessionState) bool {
	if !m.state.CanTransition(next) {
		m.logger.Warn("Ignoring invalid session transition",
			zap.String("from", string(m.state)),
			zap.String("to", string(next)))
		return false
	}
	m.state = next
	return true
}

// Snapshot returns the current session view
func (m *Manager) Snapshot() entities.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() entities.SessionSnapshot {
	return entities.SessionSnapshot{
		State:    m.state,
		Speaking: m.speaking,
		Volume:   m.volume,
		Error:    m.errMessage,
	}
}

// Subscribe registers fn for snapshot changes and returns a function that
// removes it
func (m *Manager) Subscribe(fn Observer) func() {
	m.mu.Lock()
	id := m.nextObserver
	m.nextObserver++
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	snapshot := m.snapshotLocked()
	observers := make([]Observer, 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}
