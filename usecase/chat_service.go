package usecase

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/metrics"
)

const (
	// ChatHistoryWindow is the number of trailing messages sent as context
	ChatHistoryWindow = 6

	ChatFallbackReply = "Desculpe, não consegui processar sua mensagem. Tente novamente."
	ChatErrorReply    = "Houve um erro de conexão. Por favor, verifique sua internet e tente novamente."
)

// Chat turn outcomes reported to metrics
const (
	chatOutcomeOK    = "ok"
	chatOutcomeEmpty = "empty"
	chatOutcomeError = "error"
)

// ChatService answers text chat turns
type ChatService struct {
	llm     repositories.LargeLanguageModel
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewChatService creates a new chat service. metrics may be nil.
func NewChatService(llm repositories.LargeLanguageModel, m *metrics.Metrics, logger *zap.Logger) *ChatService {
	return &ChatService{llm: llm, metrics: m, logger: logger}
}

// SendTurn sends text with the trailing history window and returns the reply.
// Failures are reported as a localized reply, never as an error.
func (s *ChatService) SendTurn(ctx context.Context, history []entities.Message, text string) string {
	chatSession, err := s.llm.GenerateChat(ctx, toChatHistory(history))
	if err != nil {
		s.logger.Error("Failed to create chat session", zap.Error(err))
		s.metrics.RecordChatTurn(chatOutcomeError)
		s.metrics.RecordError("chat", "session")
		return ChatErrorReply
	}

	reply, err := chatSession.SendMessage(ctx, repositories.ChatMessage{
		Role:    repositories.UserRole,
		Content: text,
	})
	if err != nil {
		s.logger.Error("Error communicating with chat model", zap.Error(err))
		s.metrics.RecordChatTurn(chatOutcomeError)
		s.metrics.RecordError("chat", "send")
		return ChatErrorReply
	}

	if strings.TrimSpace(reply.Content) == "" {
		s.logger.Warn("Chat model returned no text")
		s.metrics.RecordChatTurn(chatOutcomeEmpty)
		return ChatFallbackReply
	}

	s.metrics.RecordChatTurn(chatOutcomeOK)
	return reply.Content
}

// Reply runs SendTurn and wraps the answer as a new assistant message
func (s *ChatService) Reply(ctx context.Context, history []entities.Message, text string) entities.Message {
	return entities.NewMessage(entities.MessageRoleAssistant, s.SendTurn(ctx, history, text))
}

func toChatHistory(history []entities.Message) []repositories.ChatMessage {
	if len(history) > ChatHistoryWindow {
		history = history[len(history)-ChatHistoryWindow:]
	}

	messages := make([]repositories.ChatMessage, 0, len(history))
	for _, msg := range history {
		role := repositories.ModelRole
		if msg.IsUser() {
			role = repositories.UserRole
		}
		messages = append(messages, repositories.ChatMessage{Role: role, Content: msg.Text})
	}
	return messages
}
