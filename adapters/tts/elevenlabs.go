package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

const (
	defaultAPIBaseURL   = "https://api.elevenlabs.io/v1"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM"   // Rachel voice
	defaultChunkSize    = 1024                     // Size of audio chunks to stream
	defaultOutputFormat = "pcm_24000"              // PCM format matching the playback context
	defaultModelID      = "eleven_multilingual_v2" // Speaks pt-BR
	defaultStability    = 0.5                      // Default voice stability
	defaultClarity      = 0.75                     // Default voice clarity/similarity_boost
	defaultVoicesTTL    = 10 * time.Minute
	minSpeed            = 0.7
	maxSpeed            = 1.2
)

// ElevenLabsConfig holds configuration for the ElevenLabsTTS adapter
// Required fields:
// - APIKey: Your Eleven Labs API key
// Optional fields with defaults:
// - APIBaseURL: The base URL for the Eleven Labs API (default: "https://api.elevenlabs.io/v1")
// - VoiceID: The voice used when a request names none (default: "21m00Tcm4TlvDq8ikWAM")
// - ModelID: The model ID to use (default: "eleven_multilingual_v2")
// - OutputFormat: A pcm_<rate> output format (default: "pcm_24000")
// - ChunkSize: The size of audio chunks to stream (default: 1024)
// - Stability: Voice stability value between 0 and 1 (default: 0.5)
// - Clarity: Voice clarity/similarity boost value between 0 and 1 (default: 0.75)
type ElevenLabsConfig struct {
	APIKey       string  // Required: Your Eleven Labs API key
	APIBaseURL   string  // Optional: The base URL for the Eleven Labs API
	VoiceID      string  // Optional: The fallback voice ID
	ModelID      string  // Optional: The model ID to use
	OutputFormat string  // Optional: The output format
	ChunkSize    int     // Optional: The size of audio chunks to stream
	Stability    float64 // Optional: Voice stability value between 0 and 1
	Clarity      float64 // Optional: Voice clarity/similarity boost value between 0 and 1
}

// ElevenLabsTTS implements TextToSpeech interface using Eleven Labs API
type ElevenLabsTTS struct {
	apiKey       string
	apiBaseURL   string
	voiceID      string
	modelID      string
	outputFormat string
	sampleRate   int
	chunkSize    int
	stability    float64
	clarity      float64
	client       *http.Client
	logger       *zap.Logger

	voicesMu      sync.Mutex
	voices        []entities.Voice
	voicesFetched time.Time
}

// Ensure ElevenLabsTTS implements the TextToSpeech interface
var _ repositories.TextToSpeech = (*ElevenLabsTTS)(nil)

// ElevenLabsVoiceSettings represents voice settings for Eleven Labs API
type ElevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
}

// ElevenLabsRequest represents the request payload for Eleven Labs TTS API
type ElevenLabsRequest struct {
	Text                   string                  `json:"text"`
	ModelID                string                  `json:"model_id"`
	LanguageCode           string                  `json:"language_code,omitempty"`
	VoiceSettings          ElevenLabsVoiceSettings `json:"voice_settings"`
	ApplyTextNormalization string                  `json:"apply_text_normalization,omitempty"`
}

type elevenLabsVoice struct {
	VoiceID           string            `json:"voice_id"`
	Name              string            `json:"name"`
	Labels            map[string]string `json:"labels"`
	VerifiedLanguages []struct {
		Language string `json:"language"`
		Locale   string `json:"locale"`
	} `json:"verified_languages"`
}

// ValidateElevenLabsConfig validates the ElevenLabsConfig
func ValidateElevenLabsConfig(config ElevenLabsConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("eleven labs API key is required")
	}

	// Validate stability is in the valid range
	if config.Stability != 0 && (config.Stability < 0 || config.Stability > 1) {
		return fmt.Errorf("stability must be between 0 and 1, got %f", config.Stability)
	}

	// Validate clarity is in the valid range
	if config.Clarity != 0 && (config.Clarity < 0 || config.Clarity > 1) {
		return fmt.Errorf("clarity must be between 0 and 1, got %f", config.Clarity)
	}

	// Validate chunk size is reasonable if specified
	if config.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}

	if config.OutputFormat != "" {
		if _, err := pcmSampleRate(config.OutputFormat); err != nil {
			return err
		}
	}

	return nil
}

// NewElevenLabsTTS creates a new Eleven Labs TTS instance
func NewElevenLabsTTS(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsTTS, error) {
	// Validate required configuration
	if err := ValidateElevenLabsConfig(config); err != nil {
		return nil, err
	}

	// Apply defaults where needed
	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
		logger.Info("Using default API base URL", zap.String("apiBaseURL", apiBaseURL))
	}

	voiceID := config.VoiceID
	if voiceID == "" {
		voiceID = defaultVoiceID
		logger.Info("Using default voice ID", zap.String("voiceID", voiceID))
	}

	modelID := config.ModelID
	if modelID == "" {
		modelID = defaultModelID
		logger.Info("Using default model ID", zap.String("modelID", modelID))
	}

	outputFormat := config.OutputFormat
	if outputFormat == "" {
		outputFormat = defaultOutputFormat
		logger.Info("Using default output format", zap.String("outputFormat", outputFormat))
	}
	sampleRate, _ := pcmSampleRate(outputFormat)

	chunkSize := config.ChunkSize
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
		logger.Info("Using default chunk size", zap.Int("chunkSize", chunkSize))
	}

	// Use provided stability/clarity or defaults
	stability := config.Stability
	if stability == 0 {
		stability = defaultStability
		logger.Info("Using default stability", zap.Float64("stability", stability))
	}

	clarity := config.Clarity
	if clarity == 0 {
		clarity = defaultClarity
		logger.Info("Using default clarity", zap.Float64("clarity", clarity))
	}

	return &ElevenLabsTTS{
		apiKey:       config.APIKey,
		apiBaseURL:   strings.TrimRight(apiBaseURL, "/"),
		voiceID:      voiceID,
		modelID:      modelID,
		outputFormat: outputFormat,
		sampleRate:   sampleRate,
		chunkSize:    chunkSize,
		stability:    stability,
		clarity:      clarity,
		client:       &http.Client{Timeout: 60 * time.Second},
		logger:       logger,
	}, nil
}

// SampleRate returns the rate of the streamed PCM
func (e *ElevenLabsTTS) SampleRate() int {
	return e.sampleRate
}

// ConvertTextToSpeech streams 16-bit mono PCM for text. The channel is closed
// when the stream ends, fails, or ctx is cancelled.
func (e *ElevenLabsTTS) ConvertTextToSpeech(ctx context.Context, text string, opts repositories.SynthesisOptions) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	voiceID := opts.VoiceID
	if voiceID == "" {
		voiceID = e.voiceID
	}

	e.logger.Info("Converting text to speech",
		zap.Int("textLength", len(text)),
		zap.String("voiceID", voiceID),
		zap.String("modelID", e.modelID),
		zap.Float64("speed", opts.Speed))

	request := ElevenLabsRequest{
		Text:                   text,
		ModelID:                e.modelID,
		LanguageCode:           languageCode(opts.Language),
		ApplyTextNormalization: "auto",
		VoiceSettings: ElevenLabsVoiceSettings{
			Stability:       e.stability,
			SimilarityBoost: e.clarity,
			UseSpeakerBoost: true,
			Speed:           clampSpeed(opts.Speed),
		},
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s&enable_logging=false",
		e.apiBaseURL, voiceID, e.outputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/pcm")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("eleven labs API returned error %d: %s", resp.StatusCode, string(errorBody))
	}

	audioChan := make(chan []byte, 10)
	go e.stream(ctx, resp.Body, audioChan)
	return audioChan, nil
}

func (e *ElevenLabsTTS) stream(ctx context.Context, body io.ReadCloser, audioChan chan<- []byte) {
	defer close(audioChan)
	defer body.Close()

	buffer := make([]byte, e.chunkSize)
	totalBytes := 0
	chunkCount := 0

	for {
		n, err := body.Read(buffer)
		if n > 0 {
			totalBytes += n
			chunkCount++

			chunk := make([]byte, n)
			copy(chunk, buffer[:n])

			select {
			case audioChan <- chunk:
			case <-ctx.Done():
				e.logger.Debug("Speech stream cancelled", zap.Int("totalBytes", totalBytes))
				return
			}
		}

		if err == io.EOF {
			e.logger.Debug("Finished streaming audio data",
				zap.Int("totalChunks", chunkCount),
				zap.Int("totalBytes", totalBytes))
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Error("Error reading response body", zap.Error(err))
			}
			return
		}
	}
}

// Voices lists the account's voices. The list is cached for a few minutes.
func (e *ElevenLabsTTS) Voices(ctx context.Context) ([]entities.Voice, error) {
	e.voicesMu.Lock()
	defer e.voicesMu.Unlock()

	if e.voices != nil && time.Since(e.voicesFetched) < defaultVoicesTTL {
		return e.voices, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.apiBaseURL+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API returned error %d: %s", resp.StatusCode, string(errorBody))
	}

	var voicesResponse struct {
		Voices []elevenLabsVoice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&voicesResponse); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	voices := make([]entities.Voice, 0, len(voicesResponse.Voices))
	for _, v := range voicesResponse.Voices {
		voices = append(voices, entities.Voice{ID: v.VoiceID, Name: v.Name, Lang: v.lang()})
	}

	e.voices = voices
	e.voicesFetched = time.Now()
	e.logger.Info("Retrieved available voices", zap.Int("count", len(voices)))
	return voices, nil
}

// lang prefers a verified locale, then the language label
func (v elevenLabsVoice) lang() string {
	for _, l := range v.VerifiedLanguages {
		if l.Locale != "" {
			return l.Locale
		}
		if l.Language != "" {
			return l.Language
		}
	}
	return v.Labels["language"]
}

// languageCode reduces a BCP 47 tag to the ISO 639-1 code the API accepts
func languageCode(tag string) string {
	code, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(code)
}

func clampSpeed(speed float64) float64 {
	switch {
	case speed <= 0:
		return 0
	case speed < minSpeed:
		return minSpeed
	case speed > maxSpeed:
		return maxSpeed
	}
	return speed
}

func pcmSampleRate(format string) (int, error) {
	rate, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("output format must be pcm_<rate>, got %q", format)
	}
	parsed, err := strconv.Atoi(rate)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid pcm sample rate in %q", format)
	}
	return parsed, nil
}

// NewElevenLabsConfigFromEnv creates a new ElevenLabsConfig from environment variables
func NewElevenLabsConfigFromEnv() ElevenLabsConfig {
	config := ElevenLabsConfig{
		APIKey:       os.Getenv("ELEVEN_LABS_API_KEY"),
		APIBaseURL:   os.Getenv("ELEVEN_LABS_API_BASE_URL"),
		VoiceID:      os.Getenv("ELEVEN_LABS_VOICE_ID"),
		ModelID:      os.Getenv("ELEVEN_LABS_MODEL_ID"),
		OutputFormat: os.Getenv("ELEVEN_LABS_OUTPUT_FORMAT"),
	}

	// Parse numeric values from environment
	if chunkSizeStr := os.Getenv("ELEVEN_LABS_CHUNK_SIZE"); chunkSizeStr != "" {
		if chunkSize, err := strconv.Atoi(chunkSizeStr); err == nil && chunkSize > 0 {
			config.ChunkSize = chunkSize
		}
	}

	if stabilityStr := os.Getenv("ELEVEN_LABS_STABILITY"); stabilityStr != "" {
		if stability, err := strconv.ParseFloat(stabilityStr, 64); err == nil && stability >= 0 && stability <= 1 {
			config.Stability = stability
		}
	}

	if clarityStr := os.Getenv("ELEVEN_LABS_CLARITY"); clarityStr != "" {
		if clarity, err := strconv.ParseFloat(clarityStr, 64); err == nil && clarity >= 0 && clarity <= 1 {
			config.Clarity = clarity
		}
	}

	return config
}
