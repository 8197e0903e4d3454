package llm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

// KeySource yields the API key for a chat
type KeySource interface {
	Resolve(ctx context.Context) (string, error)
}

// GeminiLLM implements the LargeLanguageModel interface using Google's Gemini API
type GeminiLLM struct {
	config GeminiConfig
	keys   KeySource
	logger *zap.Logger

	mu        sync.Mutex
	client    *genai.Client
	clientKey string
}

var _ repositories.LargeLanguageModel = (*GeminiLLM)(nil)

// NewGeminiLLM creates a new Gemini LLM instance. Keys are resolved lazily so
// a key saved at runtime is picked up by the next chat.
func NewGeminiLLM(config GeminiConfig, keys KeySource, logger *zap.Logger) (*GeminiLLM, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}
	if config.APIKey == "" && keys == nil {
		return nil, fmt.Errorf("an API key or key source is required")
	}

	if config.Model == "" {
		config.Model = defaultModel
		logger.Info("Using default model", zap.String("model", config.Model))
	}
	if config.Temperature == nil {
		config.Temperature = genai.Ptr(float32(defaultTemperature))
		logger.Info("Using default temperature", zap.Float32("temperature", *config.Temperature))
	}
	if config.TimeoutSeconds == 0 {
		config.TimeoutSeconds = defaultTimeoutSeconds
		logger.Info("Using default timeoutSeconds", zap.Int("timeoutSeconds", config.TimeoutSeconds))
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaultRetryBackoff
	}

	return &GeminiLLM{
		config: config,
		keys:   keys,
		logger: logger,
	}, nil
}

// GenerateChat creates a chat session with history
func (g *GeminiLLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	client, err := g.clientFor(ctx)
	if err != nil {
		return nil, err
	}
	return NewGeminiChatSession(client, g.config, g.logger, history), nil
}

// clientFor returns a client for the current key, reusing it while the key is unchanged
func (g *GeminiLLM) clientFor(ctx context.Context) (*genai.Client, error) {
	key := g.config.APIKey
	if key == "" {
		resolved, err := g.keys.Resolve(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve API key: %w", err)
		}
		key = resolved
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil && g.clientKey == key {
		return g.client, nil
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	if g.config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: g.config.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	g.client = client
	g.clientKey = key
	return client, nil
}
