package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

func newTestTTS(t *testing.T, baseURL string) *ElevenLabsTTS {
	t.Helper()
	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "test-api-key", APIBaseURL: baseURL, ChunkSize: 4}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}
	return tts
}

func TestNewElevenLabsTTS(t *testing.T) {
	logger := zaptest.NewLogger(t)

	// Test without API key
	os.Unsetenv("ELEVEN_LABS_API_KEY")
	config := NewElevenLabsConfigFromEnv()
	_, err := NewElevenLabsTTS(config, logger)
	if err == nil {
		t.Error("Expected error when API key is not set")
	}

	// Test with API key
	t.Setenv("ELEVEN_LABS_API_KEY", "test-api-key")

	config = NewElevenLabsConfigFromEnv()
	tts, err := NewElevenLabsTTS(config, logger)
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}

	if tts.apiKey != "test-api-key" {
		t.Errorf("Expected API key 'test-api-key', got '%s'", tts.apiKey)
	}
	if tts.voiceID != defaultVoiceID {
		t.Errorf("Expected default voice ID '%s', got '%s'", defaultVoiceID, tts.voiceID)
	}
	if tts.SampleRate() != 24000 {
		t.Errorf("Expected sample rate 24000, got %d", tts.SampleRate())
	}
}

func TestValidateElevenLabsConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  ElevenLabsConfig
		wantErr bool
	}{
		{"valid", ElevenLabsConfig{APIKey: "k"}, false},
		{"pcm 16000", ElevenLabsConfig{APIKey: "k", OutputFormat: "pcm_16000"}, false},
		{"missing key", ElevenLabsConfig{}, true},
		{"mp3 output", ElevenLabsConfig{APIKey: "k", OutputFormat: "mp3_44100_128"}, true},
		{"bad stability", ElevenLabsConfig{APIKey: "k", Stability: 1.5}, true},
		{"bad clarity", ElevenLabsConfig{APIKey: "k", Clarity: -0.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateElevenLabsConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateElevenLabsConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestElevenLabsTTS_ConvertTextToSpeech_EmptyText(t *testing.T) {
	tts := newTestTTS(t, "http://127.0.0.1:0")

	ctx := context.Background()
	if _, err := tts.ConvertTextToSpeech(ctx, "", repositories.SynthesisOptions{}); err == nil {
		t.Error("Expected error for empty text")
	}
	if _, err := tts.ConvertTextToSpeech(ctx, "   ", repositories.SynthesisOptions{}); err == nil {
		t.Error("Expected error for whitespace-only text")
	}
}

func TestElevenLabsTTS_ConvertTextToSpeech_Streams(t *testing.T) {
	var got ElevenLabsRequest
	var path, format, key string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		format = r.URL.Query().Get("output_format")
		key = r.Header.Get("xi-api-key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "audio/pcm")
		w.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	}))
	defer server.Close()

	tts := newTestTTS(t, server.URL)
	stream, err := tts.ConvertTextToSpeech(context.Background(), "O Senhor é o meu pastor", repositories.SynthesisOptions{
		VoiceID:  "voice-pt",
		Language: "pt-BR",
		Speed:    0.9,
	})
	if err != nil {
		t.Fatalf("ConvertTextToSpeech() error = %v", err)
	}

	total := 0
	for chunk := range stream {
		if len(chunk) > 4 {
			t.Errorf("chunk of %d bytes exceeds chunk size", len(chunk))
		}
		total += len(chunk)
	}
	if total != 10 {
		t.Errorf("received %d bytes, want 10", total)
	}

	if path != "/text-to-speech/voice-pt/stream" {
		t.Errorf("path = %q", path)
	}
	if format != "pcm_24000" {
		t.Errorf("output_format = %q", format)
	}
	if key != "test-api-key" {
		t.Errorf("xi-api-key = %q", key)
	}
	if got.VoiceSettings.Speed != 0.9 {
		t.Errorf("speed = %v, want 0.9", got.VoiceSettings.Speed)
	}
	if got.LanguageCode != "pt" {
		t.Errorf("language_code = %q, want pt", got.LanguageCode)
	}
	if got.ModelID != defaultModelID {
		t.Errorf("model_id = %q", got.ModelID)
	}
}

func TestElevenLabsTTS_ConvertTextToSpeech_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid_api_key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	tts := newTestTTS(t, server.URL)
	if _, err := tts.ConvertTextToSpeech(context.Background(), "oi", repositories.SynthesisOptions{}); err == nil {
		t.Error("Expected error for unauthorized response")
	}
}

func TestElevenLabsTTS_Voices(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"voices":[
			{"voice_id":"a","name":"Rachel","labels":{"accent":"american"}},
			{"voice_id":"b","name":"Lia","verified_languages":[{"language":"pt","locale":"pt-BR"}]},
			{"voice_id":"c","name":"Ana","labels":{"language":"pt"}}
		]}`))
	}))
	defer server.Close()

	tts := newTestTTS(t, server.URL)
	voices, err := tts.Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices() error = %v", err)
	}
	if len(voices) != 3 {
		t.Fatalf("got %d voices, want 3", len(voices))
	}
	if voices[1].Lang != "pt-BR" || voices[2].Lang != "pt" || voices[0].Lang != "" {
		t.Errorf("unexpected voice languages: %+v", voices)
	}

	if _, err := tts.Voices(context.Background()); err != nil {
		t.Fatalf("Voices() error = %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("voices fetched %d times, want 1", n)
	}
}

func TestClampSpeed(t *testing.T) {
	tests := map[float64]float64{0: 0, 0.5: 0.7, 0.9: 0.9, 1.5: 1.2}
	for in, want := range tests {
		if got := clampSpeed(in); got != want {
			t.Errorf("clampSpeed(%v) = %v, want %v", in, got, want)
		}
	}
}

// Integration test - only runs if ELEVEN_LABS_API_KEY is set with real API key
func TestElevenLabsTTS_ConvertTextToSpeech_Integration(t *testing.T) {
	apiKey := os.Getenv("ELEVEN_LABS_API_KEY")
	if apiKey == "" || apiKey == "test-api-key" {
		t.Skip("Skipping integration test - set ELEVEN_LABS_API_KEY environment variable with real API key")
	}

	tts, err := NewElevenLabsTTS(NewElevenLabsConfigFromEnv(), zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	audioChan, err := tts.ConvertTextToSpeech(ctx, "O Senhor é o meu pastor, nada me faltará.", repositories.SynthesisOptions{
		Language: "pt-BR",
		Speed:    0.9,
	})
	if err != nil {
		t.Fatalf("Failed to convert text to speech: %v", err)
	}

	totalBytes := 0
	for chunk := range audioChan {
		totalBytes += len(chunk)
	}
	if totalBytes == 0 {
		t.Error("No audio data received")
	}
	t.Logf("Integration test completed: received %d total bytes", totalBytes)
}
