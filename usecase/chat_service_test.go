package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/metrics"
)

type fakeLLM struct {
	history  []repositories.ChatMessage
	sent     []repositories.ChatMessage
	reply    string
	chatErr  error
	replyErr error
}

func (f *fakeLLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	f.history = history
	return f, nil
}

func (f *fakeLLM) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	f.sent = append(f.sent, message)
	if f.replyErr != nil {
		return repositories.ChatMessage{}, f.replyErr
	}
	return repositories.ChatMessage{Role: repositories.ModelRole, Content: f.reply}, nil
}

func (f *fakeLLM) History() ([]repositories.ChatMessage, error) {
	return append(f.history, f.sent...), nil
}

func conversation(n int) []entities.Message {
	history := make([]entities.Message, 0, n)
	for i := 0; i < n; i++ {
		role := entities.MessageRoleUser
		if i%2 == 1 {
			role = entities.MessageRoleAssistant
		}
		history = append(history, entities.NewMessage(role, fmt.Sprintf("msg-%d", i)))
	}
	return history
}

func TestChatService_SendTurnUsesTrailingWindow(t *testing.T) {
	llm := &fakeLLM{reply: "Que alegria ouvir isso."}
	service := NewChatService(llm, nil, zaptest.NewLogger(t))

	reply := service.SendTurn(context.Background(), conversation(9), "O que é fé?")

	assert.Equal(t, "Que alegria ouvir isso.", reply)
	require.Len(t, llm.history, ChatHistoryWindow)
	assert.Equal(t, "msg-3", llm.history[0].Content)
	assert.Equal(t, repositories.ModelRole, llm.history[0].Role)
	assert.Equal(t, "msg-8", llm.history[5].Content)
	assert.Equal(t, repositories.UserRole, llm.history[5].Role)
	require.Len(t, llm.sent, 1)
	assert.Equal(t, repositories.ChatMessage{Role: repositories.UserRole, Content: "O que é fé?"}, llm.sent[0])
}

func TestChatService_ShortHistoryIsSentWhole(t *testing.T) {
	llm := &fakeLLM{reply: "ok"}
	service := NewChatService(llm, nil, zaptest.NewLogger(t))

	service.SendTurn(context.Background(), conversation(2), "oi")
	assert.Len(t, llm.history, 2)

	service.SendTurn(context.Background(), nil, "oi")
	assert.Empty(t, llm.history)
}

func TestChatService_Failures(t *testing.T) {
	tests := []struct {
		name    string
		llm     *fakeLLM
		want    string
		outcome string
	}{
		{
			name:    "empty reply",
			llm:     &fakeLLM{reply: "  "},
			want:    ChatFallbackReply,
			outcome: chatOutcomeEmpty,
		},
		{
			name:    "send error",
			llm:     &fakeLLM{replyErr: errors.New("deadline exceeded")},
			want:    ChatErrorReply,
			outcome: chatOutcomeError,
		},
		{
			name:    "session error",
			llm:     &fakeLLM{chatErr: errors.New("API key not valid")},
			want:    ChatErrorReply,
			outcome: chatOutcomeError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.NewMetrics("test")
			service := NewChatService(tt.llm, m, zaptest.NewLogger(t))

			assert.Equal(t, tt.want, service.SendTurn(context.Background(), conversation(1), "oi"))
			assert.Equal(t, 1.0, testutil.ToFloat64(m.ChatTurnsTotal.WithLabelValues(tt.outcome)))
		})
	}
}

func TestChatService_Reply(t *testing.T) {
	service := NewChatService(&fakeLLM{reply: "Fique tranquilo."}, nil, zaptest.NewLogger(t))

	msg := service.Reply(context.Background(), nil, "Estou ansioso")

	assert.Equal(t, entities.MessageRoleAssistant, msg.Role)
	assert.Equal(t, "Fique tranquilo.", msg.Text)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())
}
