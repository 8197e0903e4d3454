package websocket

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/audio"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/live"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/playback"
)

// Context kinds used as prefixes of device context ids
const (
	contextKindInput  = "input"
	contextKindOutput = "output"
	contextKindSpeech = "speech"
)

var errContextClosed = errors.New("audio context closed")

// platform builds the capabilities the device announced in its hello
func (c *Client) platform() repositories.Platform {
	p := repositories.Platform{
		Audio:      deviceAudio{client: c},
		Visibility: c,
	}
	if c.caps.Microphone {
		p.Microphone = c
	}
	if c.caps.WakeLock {
		p.WakeLock = c
	}
	if c.caps.BackgroundAudio {
		p.Background = c
	}
	return p
}

// VisibilityChanges implements repositories.VisibilityNotifier
func (c *Client) VisibilityChanges() <-chan repositories.Visibility {
	return c.visibility
}

// OpenMicrophone implements repositories.Microphone. A refused or unanswered
// request is reported as live.ErrPermissionDenied.
func (c *Client) OpenMicrophone(ctx context.Context, constraints repositories.MicrophoneConstraints) (repositories.MediaStream, error) {
	if !c.caps.Microphone {
		return nil, live.ErrUnsupported
	}

	resp, err := c.request(ctx, func(id string) interface{} {
		return &MicOpenMessage{
			BaseMessage: BaseMessage{Type: MessageTypeMicOpen},
			RequestID:   id,
			Constraints: constraints,
		}
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: microphone request timed out", live.ErrPermissionDenied)
		}
		return nil, err
	}

	result, ok := resp.(*MicResultMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected response to mic_open: %T", resp)
	}
	if !result.Granted {
		return nil, fmt.Errorf("%w: %s", live.ErrPermissionDenied, result.Error)
	}

	rate := result.SampleRate
	if rate <= 0 {
		rate = c.sampleRate
	}

	stream := &remoteStream{
		client:  c,
		rate:    rate,
		samples: make(chan []float32, 64),
	}
	c.streamsMu.Lock()
	c.streams[stream] = struct{}{}
	c.streamsMu.Unlock()

	c.logger.Info("Microphone opened", zap.Int("sampleRate", rate))
	return stream, nil
}

// deliverSamples fans a captured frame out to every open stream
func (c *Client) deliverSamples(samples []float32) {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()

	if len(c.streams) == 0 {
		c.logger.Debug("Dropping microphone frame without open stream")
		return
	}
	for stream := range c.streams {
		stream.deliver(samples)
	}
}

func (c *Client) closeStreams() {
	c.streamsMu.Lock()
	streams := make([]*remoteStream, 0, len(c.streams))
	for stream := range c.streams {
		streams = append(streams, stream)
	}
	c.streamsMu.Unlock()

	for _, stream := range streams {
		stream.Stop()
	}
}

// remoteStream is a microphone stream fed by binary frames from the device
type remoteStream struct {
	client  *Client
	rate    int
	samples chan []float32

	mu     sync.Mutex
	closed bool
}

func (s *remoteStream) SampleRate() int {
	return s.rate
}

func (s *remoteStream) Samples() <-chan []float32 {
	return s.samples
}

func (s *remoteStream) deliver(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.samples <- samples:
	default:
		s.client.logger.Warn("Microphone stream full, dropping frame")
	}
}

// Stop closes the stream. The device microphone is closed with the last stream.
func (s *remoteStream) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.samples)
	s.mu.Unlock()

	c := s.client
	c.streamsMu.Lock()
	delete(c.streams, s)
	last := len(c.streams) == 0
	c.streamsMu.Unlock()

	if last {
		return c.sendJSON(&BaseMessage{Type: MessageTypeMicClose})
	}
	return nil
}

// RequestWakeLock implements repositories.WakeLocker
func (c *Client) RequestWakeLock(ctx context.Context) (repositories.WakeLock, error) {
	resp, err := c.request(ctx, func(id string) interface{} {
		return &WakeLockMessage{
			BaseMessage: BaseMessage{Type: MessageTypeWakeLock},
			Op:          OpRequest,
			RequestID:   id,
		}
	})
	if err != nil {
		return nil, err
	}

	result, ok := resp.(*WakeLockResultMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected response to wake_lock: %T", resp)
	}
	if !result.Granted {
		return nil, fmt.Errorf("wake lock refused: %s", result.Error)
	}
	return &remoteWakeLock{client: c}, nil
}

type remoteWakeLock struct {
	client *Client
	once   sync.Once
}

func (l *remoteWakeLock) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		err = l.client.sendJSON(&WakeLockMessage{
			BaseMessage: BaseMessage{Type: MessageTypeWakeLock},
			Op:          OpRelease,
		})
	})
	return err
}

// PlayKeepAlive implements repositories.BackgroundAudio
func (c *Client) PlayKeepAlive(ctx context.Context, clip repositories.KeepAliveClip) error {
	return c.sendJSON(&KeepAliveMessage{
		BaseMessage: BaseMessage{Type: MessageTypeKeepAlive},
		Op:          OpPlay,
		Clip:        base64.StdEncoding.EncodeToString(clip.Data),
		MIMEType:    clip.MIMEType,
		Volume:      clip.Volume,
		Loop:        clip.Loop,
	})
}

// PauseKeepAlive implements repositories.BackgroundAudio
func (c *Client) PauseKeepAlive(ctx context.Context) error {
	return c.sendJSON(&KeepAliveMessage{
		BaseMessage: BaseMessage{Type: MessageTypeKeepAlive},
		Op:          OpPause,
	})
}

// deviceAudio creates audio contexts on the device
type deviceAudio struct {
	client *Client
}

func (a deviceAudio) NewInputContext(ctx context.Context, sampleRate int) (repositories.AudioContext, error) {
	if sampleRate <= 0 {
		sampleRate = a.client.sampleRate
	}
	return a.client.openContext(contextKindInput, sampleRate)
}

func (a deviceAudio) NewOutputContext(ctx context.Context, sampleRate int) (repositories.OutputContext, error) {
	return a.client.openOutput(contextKindOutput, sampleRate)
}

func (c *Client) openContext(kind string, sampleRate int) (*remoteContext, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	c.contextsMu.Lock()
	c.contextSeq++
	rc := &remoteContext{
		client:   c,
		id:       fmt.Sprintf("%s-%d", kind, c.contextSeq),
		rate:     sampleRate,
		state:    repositories.ContextStateSuspended,
		openedAt: time.Now(),
	}
	c.contexts[rc.id] = rc
	c.contextsMu.Unlock()

	if err := c.sendJSON(&ContextMessage{
		BaseMessage: BaseMessage{Type: MessageTypeContextOpen},
		Context:     rc.id,
		SampleRate:  sampleRate,
	}); err != nil {
		c.forgetContext(rc.id)
		return nil, fmt.Errorf("failed to open %s context: %w", kind, err)
	}
	return rc, nil
}

func (c *Client) openOutput(kind string, sampleRate int) (*remoteOutput, error) {
	rc, err := c.openContext(kind, sampleRate)
	if err != nil {
		return nil, err
	}
	return &remoteOutput{
		remoteContext: rc,
		timeline:      playback.NewTimeline(sampleRate),
		sources:       make(map[string]*remoteSource),
	}, nil
}

func (c *Client) forgetContext(id string) {
	c.contextsMu.Lock()
	delete(c.contexts, id)
	c.contextsMu.Unlock()
}

// updateContextState applies a context_state report from the device
func (c *Client) updateContextState(id string, state repositories.ContextState) {
	c.contextsMu.Lock()
	rc, ok := c.contexts[id]
	c.contextsMu.Unlock()
	if !ok {
		c.logger.Debug("State for unknown context", zap.String("context", id))
		return
	}

	rc.mu.Lock()
	if rc.state != repositories.ContextStateClosed {
		rc.state = state
	}
	rc.mu.Unlock()
}

// remoteContext mirrors a device audio context. Its state follows the
// device's context_state reports and the server's own resume and close.
type remoteContext struct {
	client   *Client
	id       string
	rate     int
	openedAt time.Time

	mu    sync.Mutex
	state repositories.ContextState
}

func (rc *remoteContext) SampleRate() int {
	return rc.rate
}

func (rc *remoteContext) State() repositories.ContextState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

func (rc *remoteContext) Resume(ctx context.Context) error {
	rc.mu.Lock()
	if rc.state == repositories.ContextStateClosed {
		rc.mu.Unlock()
		return errContextClosed
	}
	rc.state = repositories.ContextStateRunning
	rc.mu.Unlock()

	return rc.client.sendJSON(&ContextMessage{
		BaseMessage: BaseMessage{Type: MessageTypeContextResume},
		Context:     rc.id,
	})
}

func (rc *remoteContext) Close(ctx context.Context) error {
	rc.mu.Lock()
	if rc.state == repositories.ContextStateClosed {
		rc.mu.Unlock()
		return nil
	}
	rc.state = repositories.ContextStateClosed
	rc.mu.Unlock()

	rc.client.forgetContext(rc.id)
	return rc.client.sendJSON(&ContextMessage{
		BaseMessage: BaseMessage{Type: MessageTypeContextClose},
		Context:     rc.id,
	})
}

// remoteOutput schedules playback on a device output context. Its clock
// starts at context_open and sources end on server-side timers.
type remoteOutput struct {
	*remoteContext
	timeline *playback.Timeline

	sourcesMu sync.Mutex
	sources   map[string]*remoteSource
	pitch     float64
}

// SetPitch sets the pitch the device applies to buffers played from now on
func (o *remoteOutput) SetPitch(pitch float64) {
	o.sourcesMu.Lock()
	o.pitch = pitch
	o.sourcesMu.Unlock()
}

func (o *remoteOutput) Pitch() float64 {
	o.sourcesMu.Lock()
	defer o.sourcesMu.Unlock()
	return o.pitch
}

func (o *remoteOutput) CurrentTime() float64 {
	return time.Since(o.openedAt).Seconds()
}

func (o *remoteOutput) Play(ctx context.Context, chunk *entities.AudioChunk, at float64, onEnded func()) (repositories.PlayingSource, error) {
	if o.State() == repositories.ContextStateClosed {
		return nil, errContextClosed
	}

	id := uuid.New().String()
	if err := o.client.sendJSON(&PlayMessage{
		BaseMessage: BaseMessage{Type: MessageTypePlay},
		ID:          id,
		Context:     o.id,
		StartAt:     at,
		SampleRate:  chunk.SampleRate,
		Channels:    chunk.Channels(),
		Pitch:       o.Pitch(),
		Data:        base64.StdEncoding.EncodeToString(audio.EncodePCM16(interleave(chunk))),
	}); err != nil {
		return nil, fmt.Errorf("failed to send play: %w", err)
	}

	o.timeline.Add(id, at, chunk)
	src := &remoteSource{output: o, id: id, onEnded: onEnded}

	remaining := at + chunk.Seconds() - o.CurrentTime()
	if remaining < 0 {
		remaining = 0
	}

	// the timer is armed under the lock so Close never sees a source without one
	o.sourcesMu.Lock()
	src.timer = time.AfterFunc(time.Duration(remaining*float64(time.Second)), src.finish)
	o.sources[id] = src
	o.sourcesMu.Unlock()
	return src, nil
}

func (o *remoteOutput) NewAnalyser(fftSize int) repositories.Analyser {
	return audio.NewSpectrum(fftSize, func(n int) []float32 {
		return o.timeline.Window(o.CurrentTime(), n)
	})
}

// Close ends every scheduled source and closes the device context
func (o *remoteOutput) Close(ctx context.Context) error {
	o.sourcesMu.Lock()
	sources := make([]*remoteSource, 0, len(o.sources))
	for _, src := range o.sources {
		sources = append(sources, src)
	}
	o.sourcesMu.Unlock()

	for _, src := range sources {
		src.timer.Stop()
		src.finish()
	}
	return o.remoteContext.Close(ctx)
}

type remoteSource struct {
	output  *remoteOutput
	id      string
	onEnded func()
	timer   *time.Timer
	once    sync.Once
}

func (s *remoteSource) finish() {
	s.once.Do(func() {
		s.output.timeline.Remove(s.id)
		s.output.sourcesMu.Lock()
		delete(s.output.sources, s.id)
		s.output.sourcesMu.Unlock()
		if s.onEnded != nil {
			s.onEnded()
		}
	})
}

// Stop cuts the buffer short on the device and ends it
func (s *remoteSource) Stop() error {
	s.timer.Stop()
	err := s.output.client.sendJSON(&StopMessage{
		BaseMessage: BaseMessage{Type: MessageTypeStop},
		ID:          s.id,
	})
	s.finish()
	return err
}

// interleave flattens planar channels into frame order
func interleave(chunk *entities.AudioChunk) []float32 {
	channels := chunk.Channels()
	if channels == 1 {
		return chunk.Data[0]
	}
	frames := chunk.Frames()
	out := make([]float32, frames*channels)
	for ch, data := range chunk.Data {
		for i, v := range data {
			out[i*channels+ch] = v
		}
	}
	return out
}

// deviceSynthesizer speaks through a dedicated output context opened on first use
type deviceSynthesizer struct {
	client *Client
	tts    repositories.TextToSpeech
	logger *zap.Logger

	mu      sync.Mutex
	out     *remoteOutput
	speaker *playback.Speaker
}

var _ repositories.SpeechSynthesizer = (*deviceSynthesizer)(nil)

func (s *deviceSynthesizer) Voices(ctx context.Context) ([]entities.Voice, error) {
	return s.tts.Voices(ctx)
}

func (s *deviceSynthesizer) Speak(ctx context.Context, u repositories.Utterance) error {
	speaker, out, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	out.SetPitch(u.Pitch)
	return speaker.Speak(ctx, u)
}

func (s *deviceSynthesizer) Cancel() {
	s.mu.Lock()
	speaker := s.speaker
	s.mu.Unlock()
	if speaker != nil {
		speaker.Cancel()
	}
}

func (s *deviceSynthesizer) ensure(ctx context.Context) (*playback.Speaker, *remoteOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.out == nil || s.out.State() == repositories.ContextStateClosed {
		out, err := s.client.openOutput(contextKindSpeech, s.tts.SampleRate())
		if err != nil {
			return nil, nil, err
		}
		s.out = out
		s.speaker = playback.NewSpeaker(s.tts, playback.NewScheduler(out, s.logger), s.logger)
	}
	if s.out.State() == repositories.ContextStateSuspended {
		if err := s.out.Resume(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to resume speech context: %w", err)
		}
	}
	return s.speaker, s.out, nil
}

func (s *deviceSynthesizer) close(ctx context.Context) {
	s.mu.Lock()
	out, speaker := s.out, s.speaker
	s.out, s.speaker = nil, nil
	s.mu.Unlock()

	if speaker != nil {
		speaker.Cancel()
	}
	if out != nil {
		out.Close(ctx)
	}
}
