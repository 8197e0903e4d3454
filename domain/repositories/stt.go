package repositories

import "context"

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// InitTranscribeStreaming initializes a streaming transcription session
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate      int    `json:"sample_rate"`
	Encoding        string `json:"encoding"`
	Language        string `json:"language"`
	SingleUtterance bool   `json:"single_utterance"`
	InterimResults  bool   `json:"interim_results"`
}

type SpeechToTextStreaming interface {
	Stream(data []byte) error
	// EndOfUtterance is closed once the recognizer decides the speaker is done
	EndOfUtterance() <-chan struct{}
	End() (string, error)
}
