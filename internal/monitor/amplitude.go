// Package monitor derives a smoothed loudness signal from live output audio.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

const (
	// DefaultInterval approximates one animation frame
	DefaultInterval = 16 * time.Millisecond

	// DefaultSmoothing is the weight of each new reading
	DefaultSmoothing = 0.1
)

// Amplitude samples an analyser on every tick, averages the byte frequency
// magnitudes and exponentially smooths the result. It only reads the signal
// and never influences playback.
type Amplitude struct {
	analyser  repositories.Analyser
	interval  time.Duration
	smoothing float64
	observer  func(volume float64)
	logger    *zap.Logger

	mu       sync.Mutex
	volume   float64
	cancel   context.CancelFunc
	done     chan struct{}
	bins     []byte
	tickerFn func(time.Duration) (<-chan time.Time, func())
}

// Option customises an Amplitude monitor
type Option func(*Amplitude)

// WithInterval sets the tick interval
func WithInterval(d time.Duration) Option {
	return func(a *Amplitude) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithTicker replaces the tick source, mainly for tests
func WithTicker(fn func(time.Duration) (<-chan time.Time, func())) Option {
	return func(a *Amplitude) {
		a.tickerFn = fn
	}
}

// NewAmplitude creates a monitor that reports to observer
func NewAmplitude(analyser repositories.Analyser, observer func(volume float64), logger *zap.Logger, opts ...Option) *Amplitude {
	a := &Amplitude{
		analyser:  analyser,
		interval:  DefaultInterval,
		smoothing: DefaultSmoothing,
		observer:  observer,
		logger:    logger,
		bins:      make([]byte, analyser.FrequencyBinCount()),
		tickerFn: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start begins sampling. Calling Start on a running monitor is a no-op.
func (a *Amplitude) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	ticks, stop := a.tickerFn(a.interval)
	go a.loop(ctx, ticks, stop, a.done)

	a.logger.Debug("Amplitude monitor started", zap.Duration("interval", a.interval))
}

func (a *Amplitude) loop(ctx context.Context, ticks <-chan time.Time, stop func(), done chan struct{}) {
	defer close(done)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			a.Tick()
		}
	}
}

// Tick takes one reading and reports the smoothed volume
func (a *Amplitude) Tick() float64 {
	a.mu.Lock()
	a.analyser.ByteFrequencyData(a.bins)
	var sum float64
	for _, b := range a.bins {
		sum += float64(b)
	}
	raw := 0.0
	if len(a.bins) > 0 {
		raw = sum / float64(len(a.bins))
	}
	a.volume += (raw - a.volume) * a.smoothing
	volume := a.volume
	observer := a.observer
	a.mu.Unlock()

	if observer != nil {
		observer(volume)
	}
	return volume
}

// Stop halts sampling and resets the volume to zero. It is safe to call
// more than once.
func (a *Amplitude) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.cancel = nil
	a.done = nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	a.mu.Lock()
	a.volume = 0
	observer := a.observer
	a.mu.Unlock()

	if observer != nil {
		observer(0)
	}
	a.logger.Debug("Amplitude monitor stopped")
}

// Volume returns the latest smoothed reading
func (a *Amplitude) Volume() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.volume
}
