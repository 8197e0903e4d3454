package repositories

import (
	"context"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
)

// SynthesisOptions tunes a single text-to-speech request
type SynthesisOptions struct {
	VoiceID  string
	Language string
	Speed    float64
	// Pitch is applied by the playing client, 1 leaves the voice unchanged
	Pitch float64
}

type TextToSpeech interface {
	// ConvertTextToSpeech streams 16-bit PCM at SampleRate
	ConvertTextToSpeech(ctx context.Context, text string, opts SynthesisOptions) (<-chan []byte, error)
	SampleRate() int
	Voices(ctx context.Context) ([]entities.Voice, error)
}

// Utterance is a request to speak text with a given voice
type Utterance struct {
	Text  string
	Lang  string
	Rate  float64
	Pitch float64
	Voice *entities.Voice
}

// SpeechSynthesizer speaks utterances on a client
type SpeechSynthesizer interface {
	Voices(ctx context.Context) ([]entities.Voice, error)
	Speak(ctx context.Context, u Utterance) error
	Cancel()
}
