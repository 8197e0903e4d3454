package usecase

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/audio"
)

const (
	DefaultSpeechLanguage   = "pt-BR"
	DefaultSpeechRate       = 0.9
	DefaultSpeechPitch      = 0.95
	DefaultVoiceQualityMark = "Google"
	recognitionEncoding     = "LINEAR16"
	recognitionSampleRateHz = audio.SampleRate16kHz
)

var (
	// ErrRecognitionUnsupported is reported when no recognizer or microphone is available
	ErrRecognitionUnsupported = errors.New("speech recognition not supported")
	// ErrSynthesisUnsupported is returned when no synthesizer is available
	ErrSynthesisUnsupported = errors.New("speech synthesis not supported")
)

var headingPattern = regexp.MustCompile(`(?m)^#+\s`)

// SpeechConfig holds the speech helper configuration
type SpeechConfig struct {
	Language     string
	DefaultRate  float64
	Pitch        float64
	QualityMark  string
	SampleRateHz int
}

// DefaultSpeechConfig returns the pt-BR speech configuration
func DefaultSpeechConfig() SpeechConfig {
	return SpeechConfig{
		Language:     DefaultSpeechLanguage,
		DefaultRate:  DefaultSpeechRate,
		Pitch:        DefaultSpeechPitch,
		QualityMark:  DefaultVoiceQualityMark,
		SampleRateHz: recognitionSampleRateHz,
	}
}

// ListenCallbacks receive the outcome of a recognition session
type ListenCallbacks struct {
	OnResult func(text string)
	OnEnd    func()
	OnError  func(err error)
}

// ListenHandle controls a running recognition session
type ListenHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the recognition session. OnEnd still fires.
func (h *ListenHandle) Stop() {
	if h == nil {
		return
	}
	h.cancel()
}

// Done is closed after OnEnd has fired
func (h *ListenHandle) Done() <-chan struct{} {
	return h.done
}

// SpeechService drives speech recognition and synthesis for one client.
// Any of stt, microphone or synthesizer may be nil when the client lacks it.
type SpeechService struct {
	config      SpeechConfig
	stt         repositories.SpeechToText
	microphone  repositories.Microphone
	synthesizer repositories.SpeechSynthesizer
	settings    *SettingsService
	logger      *zap.Logger

	mu        sync.Mutex
	listening *ListenHandle
}

// NewSpeechService creates a new speech service
func NewSpeechService(
	config SpeechConfig,
	stt repositories.SpeechToText,
	microphone repositories.Microphone,
	synthesizer repositories.SpeechSynthesizer,
	settings *SettingsService,
	logger *zap.Logger,
) *SpeechService {
	defaults := DefaultSpeechConfig()
	if config.Language == "" {
		config.Language = defaults.Language
	}
	if config.DefaultRate <= 0 {
		config.DefaultRate = defaults.DefaultRate
	}
	if config.Pitch <= 0 {
		config.Pitch = defaults.Pitch
	}
	if config.QualityMark == "" {
		config.QualityMark = defaults.QualityMark
	}
	if config.SampleRateHz <= 0 {
		config.SampleRateHz = defaults.SampleRateHz
	}

	return &SpeechService{
		config:      config,
		stt:         stt,
		microphone:  microphone,
		synthesizer: synthesizer,
		settings:    settings,
		logger:      logger,
	}
}

// StartListening opens one single-utterance recognition session. It returns
// nil after reporting ErrRecognitionUnsupported when recognition is unavailable.
// A previous session still running is stopped first.
func (s *SpeechService) StartListening(ctx context.Context, callbacks ListenCallbacks) *ListenHandle {
	if s.stt == nil || s.microphone == nil {
		s.logger.Warn("Speech recognition not supported")
		if callbacks.OnError != nil {
			callbacks.OnError(ErrRecognitionUnsupported)
		}
		return nil
	}

	listenCtx, cancel := context.WithCancel(ctx)
	handle := &ListenHandle{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	previous := s.listening
	s.listening = handle
	s.mu.Unlock()

	if previous != nil {
		previous.Stop()
		<-previous.done
	}

	go s.listen(listenCtx, handle, callbacks)
	return handle
}

// StopListening stops the current recognition session, if any
func (s *SpeechService) StopListening() {
	s.mu.Lock()
	handle := s.listening
	s.mu.Unlock()
	handle.Stop()
}

func (s *SpeechService) listen(ctx context.Context, handle *ListenHandle, callbacks ListenCallbacks) {
	defer close(handle.done)
	defer handle.cancel()
	defer func() {
		s.mu.Lock()
		if s.listening == handle {
			s.listening = nil
		}
		s.mu.Unlock()
		if callbacks.OnEnd != nil {
			callbacks.OnEnd()
		}
	}()

	text, err := s.recognize(ctx)
	if ctx.Err() != nil {
		s.logger.Debug("Recognition stopped")
		return
	}
	if err != nil {
		s.logger.Warn("Speech recognition failed", zap.Error(err))
		if callbacks.OnError != nil {
			callbacks.OnError(err)
		}
		return
	}
	if text != "" && callbacks.OnResult != nil {
		callbacks.OnResult(text)
	}
}

func (s *SpeechService) recognize(ctx context.Context) (string, error) {
	stream, err := s.microphone.OpenMicrophone(ctx, repositories.MicrophoneConstraints{
		ChannelCount:     1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	})
	if err != nil {
		return "", err
	}
	defer stream.Stop()

	recognizer, err := s.stt.InitTranscribeStreaming(ctx, repositories.AudioConfig{
		SampleRate:      s.config.SampleRateHz,
		Encoding:        recognitionEncoding,
		Language:        s.config.Language,
		SingleUtterance: true,
		InterimResults:  false,
	})
	if err != nil {
		return "", err
	}

	streamErr := s.feed(ctx, stream, recognizer)
	text, err := recognizer.End()
	if streamErr != nil {
		return "", streamErr
	}
	return text, err
}

func (s *SpeechService) feed(ctx context.Context, stream repositories.MediaStream, recognizer repositories.SpeechToTextStreaming) error {
	samples := stream.Samples()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-recognizer.EndOfUtterance():
			return nil
		case chunk, ok := <-samples:
			if !ok {
				return nil
			}
			chunk = audio.Downsample(chunk, stream.SampleRate(), s.config.SampleRateHz)
			if err := recognizer.Stream(audio.EncodePCM16(chunk)); err != nil {
				return err
			}
		}
	}
}

// Speak cancels any current utterance and speaks text. It does nothing
// when voice is disabled in settings. A non-positive rate uses the default.
func (s *SpeechService) Speak(ctx context.Context, text string, rate float64) error {
	if s.settings != nil && !s.settings.Get().VoiceEnabled {
		return nil
	}
	if s.synthesizer == nil {
		return ErrSynthesisUnsupported
	}

	s.synthesizer.Cancel()

	if rate <= 0 {
		rate = s.config.DefaultRate
	}

	voices, err := s.synthesizer.Voices(ctx)
	if err != nil {
		s.logger.Warn("Failed to list voices", zap.Error(err))
	}

	utterance := repositories.Utterance{
		Text:  StripMarkdown(text),
		Lang:  s.config.Language,
		Rate:  rate,
		Pitch: s.config.Pitch,
		Voice: SelectVoice(voices, s.config.Language, s.config.QualityMark),
	}
	return s.synthesizer.Speak(ctx, utterance)
}

// StopSpeaking cancels the current utterance
func (s *SpeechService) StopSpeaking() {
	if s.synthesizer != nil {
		s.synthesizer.Cancel()
	}
}

// StripMarkdown removes emphasis markers and headings and turns dashes into spaces
func StripMarkdown(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "*", "")
	text = headingPattern.ReplaceAllString(text, "")
	return strings.ReplaceAll(text, "-", " ")
}

// SelectVoice picks a voice speaking lang's base language, preferring names
// that contain mark. It returns nil when no voice speaks the language.
func SelectVoice(voices []entities.Voice, lang, mark string) *entities.Voice {
	target, err := language.Parse(lang)
	if err != nil {
		return nil
	}
	targetBase, _ := target.Base()

	var fallback *entities.Voice
	for i := range voices {
		tag, err := language.Parse(voices[i].Lang)
		if err != nil {
			continue
		}
		if base, _ := tag.Base(); base != targetBase {
			continue
		}
		if mark != "" && strings.Contains(voices[i].Name, mark) {
			return &voices[i]
		}
		if fallback == nil {
			fallback = &voices[i]
		}
	}
	return fallback
}
