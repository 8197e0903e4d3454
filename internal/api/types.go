package api

import (
	"time"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
)

// DeviceAuthRequest represents the request payload for device authentication
type DeviceAuthRequest struct {
	SerialNumber string `json:"serial_number" validate:"required"`
	SecretKey    string `json:"secret_key" validate:"required"`
}

// DeviceAuthResponse represents the response payload for device authentication
type DeviceAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	DeviceID  string    `json:"device_id"`
}

// ChatRequest carries the conversation so far and the new user text
type ChatRequest struct {
	History []entities.Message `json:"history"`
	Text    string             `json:"text"`
}

type ChatResponse struct {
	Message entities.Message `json:"message"`
}

type CredentialRequest struct {
	Key string `json:"key"`
}

// CredentialStatusResponse tells where the access key is resolved from.
// The key itself is never returned.
type CredentialStatusResponse struct {
	Configured bool   `json:"configured"`
	Source     string `json:"source,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
