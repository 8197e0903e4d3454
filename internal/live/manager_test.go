package live

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/monitor"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

func newTestManager(t *testing.T, f *fixture, resolver CredentialResolver, mutate func(*Config)) *Manager {
	t.Helper()
	config := DefaultConfig()
	config.SystemInstruction = "persona"
	if mutate != nil {
		mutate(&config)
	}
	m, err := NewManager(config, f.platform(), f.dialer, resolver, zaptest.NewLogger(t),
		WithMonitorOptions(monitor.WithTicker(neverTicks)),
		WithTicker(neverTicks),
	)
	require.NoError(t, err)
	t.Cleanup(m.Disconnect)
	return m
}

func okResolver() CredentialResolver {
	return fakeResolver{key: "AIzaSyExampleKey"}
}

func stateIs(m *Manager, state entities.SessionState) func() bool {
	return func() bool { return m.Snapshot().State == state }
}

func TestManager_ConnectStreamAndDisconnect(t *testing.T) {
	f := newFixture()
	m := newTestManager(t, f, okResolver(), nil)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, entities.SessionStateConnecting, m.Snapshot().State)

	cfg := f.dialer.config
	assert.Equal(t, "AIzaSyExampleKey", cfg.APIKey)
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, DefaultVoiceName, cfg.VoiceName)
	assert.Equal(t, "persona", cfg.SystemInstruction)
	assert.Equal(t, []string{repositories.ResponseModalityAudio}, cfg.ResponseModalities)

	// suspended contexts are resumed during connect
	assert.Equal(t, 1, f.device.input.resumeCount())
	assert.Equal(t, 1, f.device.output.resumeCount())
	assert.Equal(t, 24000, f.device.output.SampleRate())

	plays, _ := f.background.counts()
	assert.Equal(t, 1, plays)
	assert.Equal(t, 0.01, f.background.clip.Volume)
	assert.True(t, f.background.clip.Loop)

	ch := f.dialer.last()
	ch.events <- repositories.LiveEvent{Type: repositories.LiveEventOpen}
	require.Eventually(t, stateIs(m, entities.SessionStateConnected), waitFor, tick)

	// one 4096 sample frame captured at 48 kHz goes out at 16 kHz
	f.stream.samples <- make([]float32, 4096)
	select {
	case blob := <-ch.sent:
		assert.Equal(t, "audio/pcm;rate=16000", blob.MIMEType)
		raw, err := base64.StdEncoding.DecodeString(blob.Data)
		require.NoError(t, err)
		assert.Len(t, raw, 1365*2)
	case <-time.After(waitFor):
		t.Fatal("Expected an audio frame to be sent")
	}

	ch.events <- repositories.LiveEvent{
		Type:    repositories.LiveEventMessage,
		Message: &repositories.LiveMessage{Audio: []repositories.MediaBlob{audioBlob(2400, 0.5)}},
	}
	require.Eventually(t, stateIs(m, entities.SessionStateSpeaking), waitFor, tick)
	assert.True(t, m.Snapshot().Speaking)

	sources := f.device.output.played()
	require.Len(t, sources, 1)
	sources[0].finish()
	require.Eventually(t, stateIs(m, entities.SessionStateConnected), waitFor, tick)
	assert.False(t, m.Snapshot().Speaking)

	m.Disconnect()
	snap := m.Snapshot()
	assert.Equal(t, entities.SessionStateIdle, snap.State)
	assert.Zero(t, snap.Volume)
	assert.False(t, snap.Speaking)

	assert.True(t, ch.isClosed())
	assert.True(t, f.stream.isStopped())
	assert.True(t, f.device.input.isClosed())
	assert.True(t, f.device.output.isClosed())
	requests, releases := f.wakeLock.counts()
	assert.Equal(t, requests, releases)
	_, pauses := f.background.counts()
	assert.Equal(t, 1, pauses)
}

func TestManager_MissingCredentialFailsBeforeAcquiring(t *testing.T) {
	f := newFixture()
	m := newTestManager(t, f, fakeResolver{err: ErrCredentialMissing}, nil)

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrCredentialMissing)

	assert.Zero(t, f.mic.openCount())
	assert.Zero(t, f.device.openedCount())
	requests, _ := f.wakeLock.counts()
	assert.Zero(t, requests)
	assert.Zero(t, f.dialer.dialCount())

	snap := m.Snapshot()
	assert.Equal(t, entities.SessionStateErrored, snap.State)
	assert.Equal(t, "Chave API não encontrada.", snap.Error)
}

func TestManager_UnsupportedMicrophone(t *testing.T) {
	f := newFixture()
	platform := f.platform()
	platform.Microphone = nil

	m, err := NewManager(DefaultConfig(), platform, f.dialer, okResolver(), zaptest.NewLogger(t),
		WithMonitorOptions(monitor.WithTicker(neverTicks)), WithTicker(neverTicks))
	require.NoError(t, err)

	err = m.Connect(context.Background())
	require.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, "Seu dispositivo não suporta acesso ao microfone ou não é seguro (HTTPS).", m.Snapshot().Error)

	requests, releases := f.wakeLock.counts()
	assert.Equal(t, 1, requests)
	assert.Equal(t, 1, releases)
}

func TestManager_PartialFailureReleasesEverything(t *testing.T) {
	f := newFixture()
	f.device.outputErr = errBoom
	m := newTestManager(t, f, okResolver(), nil)

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, errBoom)

	assert.True(t, f.device.input.isClosed())
	assert.True(t, f.stream.isStopped())
	requests, releases := f.wakeLock.counts()
	assert.Equal(t, 1, requests)
	assert.Equal(t, 1, releases)
	plays, pauses := f.background.counts()
	assert.Equal(t, plays, pauses)
	assert.Zero(t, f.dialer.dialCount())

	snap := m.Snapshot()
	assert.Equal(t, entities.SessionStateErrored, snap.State)
	assert.Equal(t, "Erro ao iniciar sessão.", snap.Error)

	m.Disconnect()
	assert.Equal(t, entities.SessionStateIdle, m.Snapshot().State)
	assert.Empty(t, m.Snapshot().Error)
}

func TestManager_DialFailureIsClassified(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{"auth", errors.New("websocket: bad handshake (HTTP 403)"), "Acesso negado. Verifique sua chave API."},
		{"not found", errors.New("HTTP 404: model not found"), "Modelo de voz indisponível."},
		{"generic", errors.New("network unreachable"), "Erro: network unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.dialer.err = tt.err
			m := newTestManager(t, f, okResolver(), nil)

			err := m.Connect(context.Background())
			require.Error(t, err)

			var remote *RemoteError
			require.ErrorAs(t, err, &remote)
			assert.Equal(t, tt.message, m.Snapshot().Error)

			assert.True(t, f.device.output.isClosed())
			assert.True(t, f.stream.isStopped())
		})
	}
}

func TestManager_DecodeErrorDropsBufferOnly(t *testing.T) {
	f := newFixture()
	m := newTestManager(t, f, okResolver(), nil)
	require.NoError(t, m.Connect(context.Background()))

	ch := f.dialer.last()
	ch.events <- repositories.LiveEvent{Type: repositories.LiveEventOpen}
	ch.events <- repositories.LiveEvent{
		Type: repositories.LiveEventMessage,
		Message: &repositories.LiveMessage{Audio: []repositories.MediaBlob{
			{Data: "%%% not base64", MIMEType: "audio/pcm;rate=24000"},
			{Data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), MIMEType: "audio/pcm;rate=24000"},
			audioBlob(240, 0.25),
		}},
	}

	require.Eventually(t, stateIs(m, entities.SessionStateSpeaking), waitFor, tick)
	assert.Len(t, f.device.output.played(), 1)
	assert.Empty(t, m.Snapshot().Error)
}

func TestManager_InterruptStopsPlayback(t *testing.T) {
	f := newFixture()
	m := newTestManager(t, f, okResolver(), nil)
	require.NoError(t, m.Connect(context.Background()))

	ch := f.dialer.last()
	ch.events <- repositories.LiveEvent{Type: repositories.LiveEventOpen}
	ch.events <- repositories.LiveEvent{
		Type:    repositories.LiveEventMessage,
		Message: &repositories.LiveMessage{Audio: []repositories.MediaBlob{audioBlob(2400, 0.5), audioBlob(2400, 0.5)}},
	}
	require.Eventually(t, stateIs(m, entities.SessionStateSpeaking), waitFor, tick)

	starts := func() []float64 {
		f.device.output.playMu.Lock()
		defer f.device.output.playMu.Unlock()
		return append([]float64(nil), f.device.output.starts...)
	}
	assert.Equal(t, []float64{0, 0.1}, starts())

	ch.events <- repositories.LiveEvent{
		Type:    repositories.LiveEventMessage,
		Message: &repositories.LiveMessage{Interrupted: true},
	}
	require.Eventually(t, stateIs(m, entities.SessionStateConnected), waitFor, tick)

	for _, src := range f.device.output.played() {
		assert.True(t, src.stopped)
	}
	assert.False(t, m.Snapshot().Speaking)
}

func TestManager_RemoteErrorTearsDown(t *testing.T) {
	f := newFixture()
	m := newTestManager(t, f, okResolver(), nil)
	require.NoError(t, m.Connect(context.Background()))

	ch := f.dialer.last()
	ch.events <- repositories.LiveEvent{Type: repositories.LiveEventOpen}
	require.Eventually(t, stateIs(m, entities.SessionStateConnected), waitFor, tick)

	ch.events <- repositories.LiveEvent{Type: repositories.LiveEventError, Err: errors.New("websocket: close 1008 (policy violation): PERMISSION_DENIED")}
	require.Eventually(t, stateIs(m, entities.SessionStateErrored), waitFor, tick)
	assert.Equal(t, "Acesso negado. Verifique sua chave API.", m.Snapshot().Error)

	require.Eventually(t, func() bool {
		requests, releases := f.wakeLock.counts()
		return requests == releases && f.stream.isStopped() && f.device.input.isClosed() && ch.isClosed()
	}, waitFor, tick)
}

func TestManager_RemoteCloseEndsInClosed(t *testing.T) {
	f := newFixture()
	m := newTestManager(t, f, okResolver(), nil)
	require.NoError(t, m.Connect(context.Background()))

	ch := f.dialer.last()
	ch.events <- repositories.LiveEvent{Type: repositories.LiveEventOpen}
	ch.events <- repositories.LiveEvent{Type: repositories.LiveEventClose, Reason: "bye"}
	require.Eventually(t, stateIs(m, entities.SessionStateClosed), waitFor, tick)
	assert.Empty(t, m.Snapshot().Error)

	// a new connect waits for the previous teardown
	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, ch.isClosed())
	assert.Equal(t, 2, f.dialer.dialCount())
}

func TestManager_DisconnectIsIdempotent(t *testing.T) {
	f := newFixture()
	m := newTestManager(t, f, okResolver(), nil)

	m.Disconnect()
	m.Disconnect()
	assert.Equal(t, entities.SessionStateIdle, m.Snapshot().State)

	require.NoError(t, m.Connect(context.Background()))
	m.Disconnect()
	m.Disconnect()
	assert.Equal(t, entities.SessionStateIdle, m.Snapshot().State)
	_, pauses := f.background.counts()
	assert.Equal(t, 1, pauses)
}

func TestManager_ConnectPolicy(t *testing.T) {
	t.Run("reject", func(t *testing.T) {
		f := newFixture()
		m := newTestManager(t, f, okResolver(), func(c *Config) { c.ConnectPolicy = ConnectPolicyReject })
		require.NoError(t, m.Connect(context.Background()))
		assert.ErrorIs(t, m.Connect(context.Background()), ErrSessionActive)
		assert.Equal(t, 1, f.dialer.dialCount())
	})

	t.Run("replace", func(t *testing.T) {
		f := newFixture()
		m := newTestManager(t, f, okResolver(), nil)
		require.NoError(t, m.Connect(context.Background()))
		first := f.dialer.last()

		require.NoError(t, m.Connect(context.Background()))
		assert.True(t, first.isClosed())
		assert.Equal(t, 2, f.dialer.dialCount())
		assert.Equal(t, entities.SessionStateConnecting, m.Snapshot().State)
	})
}

func TestManager_VisibilityRecovery(t *testing.T) {
	f := newFixture()
	m := newTestManager(t, f, okResolver(), nil)
	require.NoError(t, m.Connect(context.Background()))

	f.device.input.setState(repositories.ContextStateSuspended)
	f.visibility.ch <- repositories.VisibilityHidden
	f.visibility.ch <- repositories.VisibilityVisible

	require.Eventually(t, func() bool {
		requests, _ := f.wakeLock.counts()
		return f.device.input.resumeCount() == 2 && requests == 2
	}, waitFor, tick)
	assert.Equal(t, 1, f.device.output.resumeCount())
}

func TestManager_SubscribeReceivesTransitions(t *testing.T) {
	f := newFixture()
	m := newTestManager(t, f, okResolver(), nil)

	var mu sync.Mutex
	var states []entities.SessionState
	unsubscribe := m.Subscribe(func(s entities.SessionSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 || states[len(states)-1] != s.State {
			states = append(states, s.State)
		}
	})

	require.NoError(t, m.Connect(context.Background()))
	f.dialer.last().events <- repositories.LiveEvent{Type: repositories.LiveEventOpen}
	require.Eventually(t, stateIs(m, entities.SessionStateConnected), waitFor, tick)
	m.Disconnect()
	unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []entities.SessionState{
		entities.SessionStateConnecting,
		entities.SessionStateConnected,
		entities.SessionStateIdle,
	}, states)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrCredentialMissing, "Chave API não encontrada."},
		{ErrUnsupported, "Seu dispositivo não suporta acesso ao microfone ou não é seguro (HTTPS)."},
		{&RemoteError{Kind: RemoteErrorGeneric}, "Erro na conexão."},
		{ClassifyRemoteError(errors.New("code 401")), "Acesso negado. Verifique sua chave API."},
		{ClassifyRemoteError(errors.New("NOT_FOUND")), "Modelo de voz indisponível."},
		{errBoom, "Erro ao iniciar sessão."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UserMessage(tt.err))
	}
}
