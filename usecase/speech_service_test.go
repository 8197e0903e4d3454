package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

type fakeStream struct {
	rate    int
	samples chan []float32
	mu      sync.Mutex
	stopped bool
}

func newFakeStream(rate int) *fakeStream {
	return &fakeStream{rate: rate, samples: make(chan []float32, 8)}
}

func (f *fakeStream) SampleRate() int           { return f.rate }
func (f *fakeStream) Samples() <-chan []float32 { return f.samples }
func (f *fakeStream) Stop() error               { f.mu.Lock(); f.stopped = true; f.mu.Unlock(); return nil }
func (f *fakeStream) isStopped() bool           { f.mu.Lock(); defer f.mu.Unlock(); return f.stopped }

type fakeMicrophone struct {
	stream *fakeStream
	err    error
}

func (f *fakeMicrophone) OpenMicrophone(ctx context.Context, constraints repositories.MicrophoneConstraints) (repositories.MediaStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

type fakeRecognizer struct {
	mu     sync.Mutex
	chunks [][]byte
	eou    chan struct{}
	text   string
	endErr error
	ended  bool
}

func (f *fakeRecognizer) Stream(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, data)
	return nil
}

func (f *fakeRecognizer) EndOfUtterance() <-chan struct{} { return f.eou }

func (f *fakeRecognizer) End() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
	return f.text, f.endErr
}

type fakeSTT struct {
	recognizer *fakeRecognizer
	config     repositories.AudioConfig
}

func (f *fakeSTT) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	f.config = config
	return f.recognizer, nil
}

type fakeSynthesizer struct {
	voices    []entities.Voice
	voicesErr error
	spoken    []repositories.Utterance
	cancelled int
}

func (f *fakeSynthesizer) Voices(ctx context.Context) ([]entities.Voice, error) {
	return f.voices, f.voicesErr
}

func (f *fakeSynthesizer) Speak(ctx context.Context, u repositories.Utterance) error {
	f.spoken = append(f.spoken, u)
	return nil
}

func (f *fakeSynthesizer) Cancel() { f.cancelled++ }

type listenResult struct {
	mu      sync.Mutex
	results []string
	errs    []error
	ends    int
}

func (r *listenResult) callbacks() ListenCallbacks {
	return ListenCallbacks{
		OnResult: func(text string) { r.mu.Lock(); r.results = append(r.results, text); r.mu.Unlock() },
		OnEnd:    func() { r.mu.Lock(); r.ends++; r.mu.Unlock() },
		OnError:  func(err error) { r.mu.Lock(); r.errs = append(r.errs, err); r.mu.Unlock() },
	}
}

func waitDone(t *testing.T, handle *ListenHandle) {
	t.Helper()
	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("recognition did not end")
	}
}

func TestSpeechService_ListenDeliversSingleResult(t *testing.T) {
	stream := newFakeStream(48000)
	recognizer := &fakeRecognizer{eou: make(chan struct{}), text: "Ler Salmo 91"}
	stt := &fakeSTT{recognizer: recognizer}
	service := NewSpeechService(SpeechConfig{}, stt, &fakeMicrophone{stream: stream}, nil, nil, zaptest.NewLogger(t))

	stream.samples <- make([]float32, 4800)
	close(stream.samples)

	var result listenResult
	handle := service.StartListening(context.Background(), result.callbacks())
	require.NotNil(t, handle)
	waitDone(t, handle)

	assert.Equal(t, []string{"Ler Salmo 91"}, result.results)
	assert.Empty(t, result.errs)
	assert.Equal(t, 1, result.ends)

	assert.Equal(t, repositories.AudioConfig{
		SampleRate:      16000,
		Encoding:        "LINEAR16",
		Language:        "pt-BR",
		SingleUtterance: true,
		InterimResults:  false,
	}, stt.config)
	require.Len(t, recognizer.chunks, 1)
	assert.Len(t, recognizer.chunks[0], 1600*2)
	assert.True(t, recognizer.ended)
	assert.True(t, stream.isStopped())
}

func TestSpeechService_EndOfUtteranceStopsFeeding(t *testing.T) {
	stream := newFakeStream(16000)
	recognizer := &fakeRecognizer{eou: make(chan struct{}), text: "O que é fé?"}
	close(recognizer.eou)
	service := NewSpeechService(SpeechConfig{}, &fakeSTT{recognizer: recognizer}, &fakeMicrophone{stream: stream}, nil, nil, zaptest.NewLogger(t))

	var result listenResult
	handle := service.StartListening(context.Background(), result.callbacks())
	waitDone(t, handle)

	assert.Equal(t, []string{"O que é fé?"}, result.results)
	assert.Equal(t, 1, result.ends)
}

func TestSpeechService_ListenErrors(t *testing.T) {
	t.Run("unsupported", func(t *testing.T) {
		service := NewSpeechService(SpeechConfig{}, nil, nil, nil, nil, zaptest.NewLogger(t))

		var result listenResult
		handle := service.StartListening(context.Background(), result.callbacks())

		assert.Nil(t, handle)
		require.Len(t, result.errs, 1)
		assert.ErrorIs(t, result.errs[0], ErrRecognitionUnsupported)
		assert.Zero(t, result.ends)
	})

	t.Run("microphone refused", func(t *testing.T) {
		errDenied := errors.New("permission denied")
		recognizer := &fakeRecognizer{eou: make(chan struct{})}
		service := NewSpeechService(SpeechConfig{}, &fakeSTT{recognizer: recognizer}, &fakeMicrophone{err: errDenied}, nil, nil, zaptest.NewLogger(t))

		var result listenResult
		handle := service.StartListening(context.Background(), result.callbacks())
		waitDone(t, handle)

		require.Len(t, result.errs, 1)
		assert.ErrorIs(t, result.errs[0], errDenied)
		assert.Empty(t, result.results)
		assert.Equal(t, 1, result.ends)
	})

	t.Run("no speech", func(t *testing.T) {
		stream := newFakeStream(16000)
		close(stream.samples)
		recognizer := &fakeRecognizer{eou: make(chan struct{}), endErr: errors.New("no speech detected in audio")}
		service := NewSpeechService(SpeechConfig{}, &fakeSTT{recognizer: recognizer}, &fakeMicrophone{stream: stream}, nil, nil, zaptest.NewLogger(t))

		var result listenResult
		handle := service.StartListening(context.Background(), result.callbacks())
		waitDone(t, handle)

		assert.Len(t, result.errs, 1)
		assert.Empty(t, result.results)
		assert.Equal(t, 1, result.ends)
	})
}

func TestSpeechService_StopEndsWithoutResult(t *testing.T) {
	stream := newFakeStream(16000)
	recognizer := &fakeRecognizer{eou: make(chan struct{}), text: "ignored"}
	service := NewSpeechService(SpeechConfig{}, &fakeSTT{recognizer: recognizer}, &fakeMicrophone{stream: stream}, nil, nil, zaptest.NewLogger(t))

	var result listenResult
	handle := service.StartListening(context.Background(), result.callbacks())
	service.StopListening()
	waitDone(t, handle)

	assert.Empty(t, result.results)
	assert.Empty(t, result.errs)
	assert.Equal(t, 1, result.ends)
	assert.True(t, stream.isStopped())
}

func TestSpeechService_Speak(t *testing.T) {
	voices := []entities.Voice{
		{ID: "en", Name: "Google US English", Lang: "en-US"},
		{ID: "pt-local", Name: "Luciana", Lang: "pt-BR"},
		{ID: "pt-google", Name: "Google português do Brasil", Lang: "pt-BR"},
	}
	synth := &fakeSynthesizer{voices: voices}
	service := NewSpeechService(SpeechConfig{}, nil, nil, synth, nil, zaptest.NewLogger(t))

	require.NoError(t, service.Speak(context.Background(), "## Salmo 23\n**O Senhor** é o *meu* pastor - nada me faltará", 0))

	require.Len(t, synth.spoken, 1)
	u := synth.spoken[0]
	assert.Equal(t, "Salmo 23\nO Senhor é o meu pastor   nada me faltará", u.Text)
	assert.Equal(t, "pt-BR", u.Lang)
	assert.Equal(t, 0.9, u.Rate)
	assert.Equal(t, 0.95, u.Pitch)
	require.NotNil(t, u.Voice)
	assert.Equal(t, "pt-google", u.Voice.ID)
	assert.Equal(t, 1, synth.cancelled)

	require.NoError(t, service.Speak(context.Background(), "oi", 1.2))
	assert.Equal(t, 1.2, synth.spoken[1].Rate)
	assert.Equal(t, 2, synth.cancelled)
}

func TestSpeechService_SpeakDisabledIsNoop(t *testing.T) {
	settings := NewSettingsService(entities.DefaultSettings(), zaptest.NewLogger(t))
	disabled := settings.Get()
	disabled.VoiceEnabled = false
	_, err := settings.Update(disabled)
	require.NoError(t, err)

	synth := &fakeSynthesizer{}
	service := NewSpeechService(SpeechConfig{}, nil, nil, synth, settings, zaptest.NewLogger(t))

	require.NoError(t, service.Speak(context.Background(), "oi", 1))
	assert.Empty(t, synth.spoken)
	assert.Zero(t, synth.cancelled)
}

func TestSpeechService_SpeakWithoutSynthesizer(t *testing.T) {
	service := NewSpeechService(SpeechConfig{}, nil, nil, nil, nil, zaptest.NewLogger(t))
	assert.ErrorIs(t, service.Speak(context.Background(), "oi", 1), ErrSynthesisUnsupported)
}

func TestSelectVoice(t *testing.T) {
	tests := []struct {
		name   string
		voices []entities.Voice
		want   string
	}{
		{
			name:   "prefers marked voice",
			voices: []entities.Voice{{ID: "a", Name: "Luciana", Lang: "pt-BR"}, {ID: "b", Name: "Google pt", Lang: "pt-PT"}},
			want:   "b",
		},
		{
			name:   "falls back to first portuguese voice",
			voices: []entities.Voice{{ID: "a", Name: "Google English", Lang: "en-US"}, {ID: "b", Name: "Joana", Lang: "pt"}},
			want:   "b",
		},
		{
			name:   "no portuguese voice",
			voices: []entities.Voice{{ID: "a", Name: "Google English", Lang: "en-US"}, {ID: "b", Name: "broken", Lang: "??"}},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectVoice(tt.voices, "pt-BR", "Google")
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}
