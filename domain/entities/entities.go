package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MessageRole identifies who authored a chat message
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message represents a single turn in the text chat
type Message struct {
	ID        string      `json:"id" bson:"_id"`
	Role      MessageRole `json:"role" bson:"role"`
	Text      string      `json:"text" bson:"text"`
	Timestamp time.Time   `json:"timestamp" bson:"timestamp"`
}

// NewMessage creates a message with a fresh ID stamped with the current time
func NewMessage(role MessageRole, text string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// IsUser reports whether the message was authored by the user.
// Anything else is treated as an assistant turn.
func (m Message) IsUser() bool {
	return m.Role == MessageRoleUser
}

// DailyVerse is the verse highlighted on the home screen
type DailyVerse struct {
	Reference string `json:"reference"`
	Text      string `json:"text"`
}

// Domain validation methods
func (m *Message) Validate() error {
	if m.Role == "" {
		return errors.New("role is required")
	}
	return nil
}

func (d *Device) Validate() error {
	if d.SerialNumber == "" {
		return errors.New("serial number is required")
	}
	if d.Model == "" {
		return errors.New("model is required")
	}
	return nil
}
