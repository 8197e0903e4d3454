package live

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/monitor"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/playback"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/saga"
)

// session owns every resource acquired by one Connect. Its context is the
// liveness token: once cancelled, no goroutine of the session may touch the
// manager state again.
type session struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	createdAt time.Time
	tx        *saga.Transaction

	apiKey    string
	stream    repositories.MediaStream
	input     repositories.AudioContext
	output    repositories.OutputContext
	scheduler *playback.Scheduler
	monitor   *monitor.Amplitude
	channel   repositories.LiveChannel

	mu        sync.Mutex
	wakeLock  repositories.WakeLock
	keepAlive bool
	started   bool
	pumping   bool

	pump         sync.WaitGroup
	loopDone     chan struct{}
	teardownOnce sync.Once
}

func newSession(tx func(id string) *saga.Transaction) *session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &session{
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
		createdAt: time.Now(),
		tx:        tx(id),
	}
}

// alive reports whether the session may still mutate shared state
func (s *session) alive() bool {
	return s.ctx.Err() == nil
}

// inputRate is the rate microphone samples arrive at
func (s *session) inputRate() int {
	if s.stream != nil && s.stream.SampleRate() > 0 {
		return s.stream.SampleRate()
	}
	if s.input != nil {
		return s.input.SampleRate()
	}
	return 0
}

func (s *session) contexts() []repositories.AudioContext {
	var out []repositories.AudioContext
	if s.input != nil {
		out = append(out, s.input)
	}
	if s.output != nil {
		out = append(out, s.output)
	}
	return out
}
