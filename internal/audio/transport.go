package audio

import (
	"encoding/base64"
	"fmt"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

// TransportMIMEType tags every outbound microphone frame
const TransportMIMEType = "audio/pcm;rate=16000"

// EncodeForTransport encodes samples captured at 16 kHz as base64 PCM16
func EncodeForTransport(samples []float32) repositories.MediaBlob {
	return repositories.MediaBlob{
		Data:     base64.StdEncoding.EncodeToString(EncodePCM16(samples)),
		MIMEType: TransportMIMEType,
	}
}

// DecodeFromTransport turns a base64 PCM16 payload into a playable chunk
func DecodeFromTransport(b64 string, sampleRate, channels int) (*entities.AudioChunk, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", ErrMalformedAudio, sampleRate)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrMalformedAudio, err)
	}
	data, err := DecodePCM16(raw, channels)
	if err != nil {
		return nil, err
	}
	return &entities.AudioChunk{Data: data, SampleRate: sampleRate}, nil
}
