package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/audio"
)

type fakeContext struct {
	mu      sync.Mutex
	rate    int
	state   repositories.ContextState
	resumes int
	closed  bool
}

func (c *fakeContext) SampleRate() int { return c.rate }

func (c *fakeContext) State() repositories.ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeContext) setState(state repositories.ContextState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

func (c *fakeContext) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumes++
	c.state = repositories.ContextStateRunning
	return nil
}

func (c *fakeContext) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.state = repositories.ContextStateClosed
	return nil
}

func (c *fakeContext) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeContext) resumeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumes
}

type fakeSource struct {
	once    sync.Once
	onEnded func()
	stopped bool
}

func (s *fakeSource) Stop() error {
	s.stopped = true
	s.finish()
	return nil
}

func (s *fakeSource) finish() {
	s.once.Do(s.onEnded)
}

type fakeOutput struct {
	fakeContext
	playMu  sync.Mutex
	sources []*fakeSource
	starts  []float64
}

func (o *fakeOutput) CurrentTime() float64 { return 0 }

func (o *fakeOutput) Play(ctx context.Context, chunk *entities.AudioChunk, at float64, onEnded func()) (repositories.PlayingSource, error) {
	o.playMu.Lock()
	defer o.playMu.Unlock()
	src := &fakeSource{onEnded: onEnded}
	o.sources = append(o.sources, src)
	o.starts = append(o.starts, at)
	return src, nil
}

func (o *fakeOutput) NewAnalyser(fftSize int) repositories.Analyser {
	return fakeAnalyser{}
}

func (o *fakeOutput) played() []*fakeSource {
	o.playMu.Lock()
	defer o.playMu.Unlock()
	out := make([]*fakeSource, len(o.sources))
	copy(out, o.sources)
	return out
}

type fakeAnalyser struct{}

func (fakeAnalyser) FrequencyBinCount() int       { return 128 }
func (fakeAnalyser) ByteFrequencyData(dst []byte) {}

type fakeAudioDevice struct {
	mu        sync.Mutex
	input     *fakeContext
	output    *fakeOutput
	outputErr error
	opened    int
}

func (d *fakeAudioDevice) NewInputContext(ctx context.Context, rate int) (repositories.AudioContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened++
	d.input.rate = rate
	return d.input, nil
}

func (d *fakeAudioDevice) NewOutputContext(ctx context.Context, rate int) (repositories.OutputContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.outputErr != nil {
		return nil, d.outputErr
	}
	d.opened++
	d.output.rate = rate
	return d.output, nil
}

func (d *fakeAudioDevice) openedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

type fakeStream struct {
	rate    int
	samples chan []float32
	mu      sync.Mutex
	stopped bool
}

func (s *fakeStream) SampleRate() int           { return s.rate }
func (s *fakeStream) Samples() <-chan []float32 { return s.samples }
func (s *fakeStream) Stop() error               { s.mu.Lock(); s.stopped = true; s.mu.Unlock(); return nil }
func (s *fakeStream) isStopped() bool           { s.mu.Lock(); defer s.mu.Unlock(); return s.stopped }

type fakeMicrophone struct {
	mu     sync.Mutex
	stream *fakeStream
	err    error
	opens  int
}

func (m *fakeMicrophone) OpenMicrophone(ctx context.Context, c repositories.MicrophoneConstraints) (repositories.MediaStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

func (m *fakeMicrophone) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

type fakeWakeLocker struct {
	mu       sync.Mutex
	requests int
	releases int
}

type fakeWakeLock struct{ locker *fakeWakeLocker }

func (l fakeWakeLock) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	l.locker.releases++
	return nil
}

func (w *fakeWakeLocker) RequestWakeLock(ctx context.Context) (repositories.WakeLock, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests++
	return fakeWakeLock{locker: w}, nil
}

func (w *fakeWakeLocker) counts() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requests, w.releases
}

type fakeBackground struct {
	mu     sync.Mutex
	plays  int
	pauses int
	clip   repositories.KeepAliveClip
}

func (b *fakeBackground) PlayKeepAlive(ctx context.Context, clip repositories.KeepAliveClip) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.plays++
	b.clip = clip
	return nil
}

func (b *fakeBackground) PauseKeepAlive(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pauses++
	return nil
}

func (b *fakeBackground) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.plays, b.pauses
}

type fakeVisibility struct {
	ch chan repositories.Visibility
}

func (v *fakeVisibility) VisibilityChanges() <-chan repositories.Visibility { return v.ch }

type fakeChannel struct {
	events chan repositories.LiveEvent
	sent   chan repositories.MediaBlob
	mu     sync.Mutex
	closed bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		events: make(chan repositories.LiveEvent, 16),
		sent:   make(chan repositories.MediaBlob, 16),
	}
}

func (c *fakeChannel) Events() <-chan repositories.LiveEvent { return c.events }

func (c *fakeChannel) SendRealtimeInput(ctx context.Context, media repositories.MediaBlob) error {
	select {
	case c.sent <- media:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu       sync.Mutex
	channels []*fakeChannel
	err      error
	config   repositories.LiveConfig
	dials    int
}

func (d *fakeDialer) Dial(ctx context.Context, config repositories.LiveConfig) (repositories.LiveChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.config = config
	if d.err != nil {
		return nil, d.err
	}
	ch := newFakeChannel()
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDialer) last() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeResolver struct {
	key string
	err error
}

func (r fakeResolver) Resolve(ctx context.Context) (string, error) {
	return r.key, r.err
}

type fixture struct {
	device     *fakeAudioDevice
	mic        *fakeMicrophone
	stream     *fakeStream
	wakeLock   *fakeWakeLocker
	background *fakeBackground
	visibility *fakeVisibility
	dialer     *fakeDialer
}

func newFixture() *fixture {
	stream := &fakeStream{rate: 48000, samples: make(chan []float32, 8)}
	return &fixture{
		device: &fakeAudioDevice{
			input:  &fakeContext{state: repositories.ContextStateSuspended},
			output: &fakeOutput{fakeContext: fakeContext{state: repositories.ContextStateSuspended}},
		},
		mic:        &fakeMicrophone{stream: stream},
		stream:     stream,
		wakeLock:   &fakeWakeLocker{},
		background: &fakeBackground{},
		visibility: &fakeVisibility{ch: make(chan repositories.Visibility, 4)},
		dialer:     &fakeDialer{},
	}
}

func (f *fixture) platform() repositories.Platform {
	return repositories.Platform{
		Audio:      f.device,
		Microphone: f.mic,
		WakeLock:   f.wakeLock,
		Background: f.background,
		Visibility: f.visibility,
	}
}

// neverTicks is a ticker source that never fires
func neverTicks(time.Duration) (<-chan time.Time, func()) {
	return make(chan time.Time), func() {}
}

func audioBlob(samples int, value float32) repositories.MediaBlob {
	buf := make([]float32, samples)
	for i := range buf {
		buf[i] = value
	}
	return audio.EncodeForTransport(buf)
}

var errBoom = errors.New("boom")
