package llm

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"google.golang.org/genai"
)

const (
	defaultModel          = "gemini-3-flash-preview"
	defaultTemperature    = 0.7
	defaultTimeoutSeconds = 30
	defaultRetryBackoff   = time.Second
	maxAttempts           = 3
)

// GeminiConfig holds the configuration of the Gemini chat adapter
type GeminiConfig struct {
	// APIKey pins the key. When empty the key is resolved on every chat.
	APIKey string
	Model  string
	// Temperature falls back to the default when nil. Zero is a valid setting.
	Temperature     *float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int
	TimeoutSeconds  int
	SystemPrompt    string
	// BaseURL overrides the API endpoint
	BaseURL string
	// RetryBackoff is multiplied by the attempt number between retries
	RetryBackoff time.Duration
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	// Validate temperature is in the valid range
	if t := config.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", *t)
	}

	// Validate topP is in the valid range
	if config.TopP != 0 && (config.TopP < 0 || config.TopP > 1) {
		return fmt.Errorf("topP must be between 0 and 1, got %f", config.TopP)
	}

	// Validate topK is positive if specified
	if config.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", config.TopK)
	}

	// Validate timeout is reasonable if specified
	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}

	return nil
}

// NewGeminiConfigFromEnv creates a Gemini chat configuration from environment variables
func NewGeminiConfigFromEnv() GeminiConfig {
	config := GeminiConfig{
		Model:   os.Getenv("CHAT_MODEL"),
		BaseURL: os.Getenv("GEMINI_BASE_URL"),
	}

	if temp := os.Getenv("CHAT_TEMPERATURE"); temp != "" {
		if parsed, err := strconv.ParseFloat(temp, 32); err == nil {
			config.Temperature = genai.Ptr(float32(parsed))
		}
	}

	if timeout := os.Getenv("CHAT_TIMEOUT_SECONDS"); timeout != "" {
		if parsed, err := strconv.Atoi(timeout); err == nil {
			config.TimeoutSeconds = parsed
		}
	}

	return config
}
