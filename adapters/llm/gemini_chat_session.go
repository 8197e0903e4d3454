package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

// GeminiChatSession implements the ChatSession interface
type GeminiChatSession struct {
	client          *genai.Client
	logger          *zap.Logger
	model           string
	temperature     *float32
	topP            float32
	topK            float32
	maxOutputTokens int
	timeoutSeconds  int
	retryBackoff    time.Duration
	systemPrompt    string
	history         []*genai.Content
}

// NewGeminiChatSession creates a new chat session with config and history.
// The config is expected to be defaulted by NewGeminiLLM.
func NewGeminiChatSession(client *genai.Client, config GeminiConfig, logger *zap.Logger, history []repositories.ChatMessage) *GeminiChatSession {
	return &GeminiChatSession{
		client:          client,
		logger:          logger,
		model:           config.Model,
		temperature:     config.Temperature,
		topP:            config.TopP,
		topK:            config.TopK,
		maxOutputTokens: config.MaxOutputTokens,
		timeoutSeconds:  config.TimeoutSeconds,
		retryBackoff:    config.RetryBackoff,
		systemPrompt:    config.SystemPrompt,
		history:         convertRepositoryToGeminiFormat(history),
	}
}

// generateContentConfig builds the request settings of the session
func (s *GeminiChatSession) generateContentConfig() *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature: s.temperature,
	}
	if s.topP > 0 {
		config.TopP = genai.Ptr(s.topP)
	}
	if s.topK > 0 {
		config.TopK = genai.Ptr(s.topK)
	}
	if s.maxOutputTokens > 0 {
		config.MaxOutputTokens = int32(s.maxOutputTokens)
	}
	if s.systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(s.systemPrompt, genai.RoleUser)
	}
	return config
}

// SendMessage sends a message and gets a response, updating the history.
// A response without text yields an empty Content and no error.
func (s *GeminiChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	contents := make([]*genai.Content, 0, len(s.history)+1)
	contents = append(contents, s.history...)

	userContent := genai.NewContentFromText(message.Content, genai.RoleUser)
	contents = append(contents, userContent)

	config := s.generateContentConfig()

	// Add timeout to context if not already set
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeoutSeconds)*time.Second)
	defer cancel()

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err = s.client.Models.GenerateContent(ctx, s.model, contents, config)
		if err == nil || !retryable(err) {
			break
		}

		s.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return repositories.ChatMessage{}, fmt.Errorf("failed to generate content: %w", ctx.Err())
			case <-time.After(time.Duration(attempt+1) * s.retryBackoff):
			}
		}
	}

	if err != nil {
		s.logger.Error("Failed to send message in chat session", zap.Error(err))
		return repositories.ChatMessage{}, fmt.Errorf("failed to generate content: %w", err)
	}

	responseText := extractText(response)
	if responseText == "" {
		s.logger.Warn("Empty response in chat session")
		return repositories.ChatMessage{Role: repositories.ModelRole}, nil
	}

	s.history = append(s.history, userContent, genai.NewContentFromText(responseText, genai.RoleModel))

	s.logger.Info("Chat session message processed",
		zap.Int("message_length", len(message.Content)),
		zap.Int("response_length", len(responseText)),
		zap.Int("history_length", len(s.history)))

	return repositories.ChatMessage{
		Role:    repositories.ModelRole,
		Content: responseText,
	}, nil
}

// retryable reports whether a failed request may succeed when sent again.
// Client errors other than timeouts and rate limits are final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		return true
	}

	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code < 400 || code >= 500
}

// History returns the current conversation history
func (s *GeminiChatSession) History() ([]repositories.ChatMessage, error) {
	return convertGeminiToRepositoryFormat(s.history), nil
}

// extractText joins the text parts of the first candidate
func extractText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 {
		return ""
	}
	candidate := response.Candidates[0]
	if candidate.Content == nil {
		return ""
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil && part.Text != "" {
			text.WriteString(part.Text)
		}
	}
	return text.String()
}

// convertRepositoryToGeminiFormat converts repository messages to Gemini format
func convertRepositoryToGeminiFormat(messages []repositories.ChatMessage) []*genai.Content {
	var contents []*genai.Content

	for _, msg := range messages {
		var role genai.Role
		switch msg.Role {
		case repositories.ModelRole:
			role = genai.RoleModel
		default:
			role = genai.RoleUser
		}

		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	return contents
}

// convertGeminiToRepositoryFormat converts Gemini content to repository messages
func convertGeminiToRepositoryFormat(contents []*genai.Content) []repositories.ChatMessage {
	var messages []repositories.ChatMessage

	for _, content := range contents {
		role := repositories.UserRole
		if content.Role == string(genai.RoleModel) {
			role = repositories.ModelRole
		}

		var text strings.Builder
		for _, part := range content.Parts {
			if part != nil && part.Text != "" {
				text.WriteString(part.Text)
			}
		}

		if text.Len() > 0 {
			messages = append(messages, repositories.ChatMessage{
				Role:    role,
				Content: text.String(),
			})
		}
	}

	return messages
}
