package repositories

import (
	"context"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
)

// ContextState mirrors the lifecycle of a platform audio context
type ContextState string

const (
	ContextStateRunning   ContextState = "running"
	ContextStateSuspended ContextState = "suspended"
	ContextStateClosed    ContextState = "closed"
)

// AudioContext is a platform audio graph running at a fixed sample rate.
// Platforms may start contexts suspended until explicitly resumed.
type AudioContext interface {
	SampleRate() int
	State() ContextState
	Resume(ctx context.Context) error
	Close(ctx context.Context) error
}

// OutputContext is an AudioContext that can schedule playback against its clock
type OutputContext interface {
	AudioContext
	// CurrentTime returns the context clock in seconds
	CurrentTime() float64
	// Play schedules chunk to start at the given context time. onEnded fires
	// once when the source finishes or is stopped.
	Play(ctx context.Context, chunk *entities.AudioChunk, at float64, onEnded func()) (PlayingSource, error)
	// NewAnalyser taps the context output for frequency analysis
	NewAnalyser(fftSize int) Analyser
}

// PlayingSource is a scheduled playback that can be cut short
type PlayingSource interface {
	Stop() error
}

// Analyser exposes byte frequency data of a signal
type Analyser interface {
	FrequencyBinCount() int
	ByteFrequencyData(dst []byte)
}

// AudioDevice creates the input and output audio contexts of a platform
type AudioDevice interface {
	// NewInputContext creates a capture context. A zero rate follows the device native rate.
	NewInputContext(ctx context.Context, sampleRate int) (AudioContext, error)
	NewOutputContext(ctx context.Context, sampleRate int) (OutputContext, error)
}

// MicrophoneConstraints are the capture preferences sent with a permission request
type MicrophoneConstraints struct {
	ChannelCount     int  `json:"channel_count"`
	EchoCancellation bool `json:"echo_cancellation"`
	NoiseSuppression bool `json:"noise_suppression"`
	AutoGainControl  bool `json:"auto_gain_control"`
}

// Microphone opens capture streams, prompting for permission when needed
type Microphone interface {
	OpenMicrophone(ctx context.Context, constraints MicrophoneConstraints) (MediaStream, error)
}

// MediaStream delivers captured mono samples in capture order
type MediaStream interface {
	SampleRate() int
	Samples() <-chan []float32
	Stop() error
}

// WakeLocker requests screen wake locks
type WakeLocker interface {
	RequestWakeLock(ctx context.Context) (WakeLock, error)
}

// WakeLock is a held screen wake lock
type WakeLock interface {
	Release(ctx context.Context) error
}

// KeepAliveClip is an inaudible clip looped to keep background audio alive
type KeepAliveClip struct {
	MIMEType string
	Data     []byte
	Volume   float64
	Loop     bool
}

// BackgroundAudio plays the keep-alive clip
type BackgroundAudio interface {
	PlayKeepAlive(ctx context.Context, clip KeepAliveClip) error
	PauseKeepAlive(ctx context.Context) error
}

// Visibility is the foreground state of the client surface
type Visibility string

const (
	VisibilityVisible Visibility = "visible"
	VisibilityHidden  Visibility = "hidden"
)

// VisibilityNotifier reports foreground changes of the client surface
type VisibilityNotifier interface {
	VisibilityChanges() <-chan Visibility
}

// Platform bundles the optional capabilities of a client.
// A nil capability means the client does not support it.
type Platform struct {
	Audio      AudioDevice
	Microphone Microphone
	WakeLock   WakeLocker
	Background BackgroundAudio
	Visibility VisibilityNotifier
}
