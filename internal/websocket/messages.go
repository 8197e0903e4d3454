package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Device to server message types
const (
	MessageTypeHello          MessageType = "hello"
	MessageTypeLiveConnect    MessageType = "live_connect"
	MessageTypeLiveDisconnect MessageType = "live_disconnect"
	MessageTypeMicResult      MessageType = "mic_result"
	MessageTypeWakeLockResult MessageType = "wake_lock_result"
	MessageTypeContextState   MessageType = "context_state"
	MessageTypeVisibility     MessageType = "visibility"
	MessageTypeListenStart    MessageType = "listen_start"
	MessageTypeListenStop     MessageType = "listen_stop"
	MessageTypeSpeak          MessageType = "speak"
	MessageTypeStopSpeaking   MessageType = "stop_speaking"
	MessageTypePing           MessageType = "ping"
)

// Server to device message types
const (
	MessageTypeState         MessageType = "state"
	MessageTypeVolume        MessageType = "volume"
	MessageTypeMicOpen       MessageType = "mic_open"
	MessageTypeMicClose      MessageType = "mic_close"
	MessageTypeContextOpen   MessageType = "context_open"
	MessageTypeContextResume MessageType = "context_resume"
	MessageTypeContextClose  MessageType = "context_close"
	MessageTypePlay          MessageType = "play"
	MessageTypeStop          MessageType = "stop"
	MessageTypeWakeLock      MessageType = "wake_lock"
	MessageTypeKeepAlive     MessageType = "keep_alive"
	MessageTypeTranscript    MessageType = "transcript"
	MessageTypeListenEnd     MessageType = "listen_end"
	MessageTypeListenError   MessageType = "listen_error"
	MessageTypePong          MessageType = "pong"
	MessageTypeError         MessageType = "error"
)

// Error codes sent in error messages
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeHelloRequired  = "hello_required"
	ErrorCodeRateLimited    = "rate_limited"
	ErrorCodeSpeakFailed    = "speak_failed"
	ErrorCodeLiveFailed     = "live_failed"
)

// Operations of wake_lock and keep_alive messages
const (
	OpRequest = "request"
	OpRelease = "release"
	OpPlay    = "play"
	OpPause   = "pause"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// Capabilities are the platform features a device offers
type Capabilities struct {
	Microphone      bool `json:"microphone"`
	WakeLock        bool `json:"wake_lock"`
	SpeechSynthesis bool `json:"speech_synthesis"`
	BackgroundAudio bool `json:"background_audio"`
}

// HelloMessage opens the protocol. SampleRate is the native capture rate.
type HelloMessage struct {
	BaseMessage
	SampleRate   int          `json:"sample_rate"`
	Capabilities Capabilities `json:"capabilities"`
}

// MicResultMessage answers a mic_open request
type MicResultMessage struct {
	BaseMessage
	RequestID  string `json:"request_id"`
	Granted    bool   `json:"granted"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Error      string `json:"error,omitempty"`
}

// WakeLockResultMessage answers a wake lock request
type WakeLockResultMessage struct {
	BaseMessage
	RequestID string `json:"request_id"`
	Granted   bool   `json:"granted"`
	Error     string `json:"error,omitempty"`
}

// ContextStateMessage reports a device audio context state change
type ContextStateMessage struct {
	BaseMessage
	Context string                    `json:"context"`
	State   repositories.ContextState `json:"state"`
}

// VisibilityMessage reports the foreground state of the device
type VisibilityMessage struct {
	BaseMessage
	State repositories.Visibility `json:"state"`
}

// SpeakMessage asks the server to read text aloud
type SpeakMessage struct {
	BaseMessage
	Text string  `json:"text"`
	Rate float64 `json:"rate,omitempty"`
}

// StateMessage mirrors the live session snapshot
type StateMessage struct {
	BaseMessage
	State    string `json:"state"`
	Speaking bool   `json:"speaking"`
	Error    string `json:"error,omitempty"`
}

// VolumeMessage carries the smoothed output level
type VolumeMessage struct {
	BaseMessage
	Value float64 `json:"value"`
}

// MicOpenMessage asks the device to open its microphone
type MicOpenMessage struct {
	BaseMessage
	RequestID   string                             `json:"request_id"`
	Constraints repositories.MicrophoneConstraints `json:"constraints"`
}

// ContextMessage opens, resumes or closes a device audio context
type ContextMessage struct {
	BaseMessage
	Context    string `json:"context"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// PlayMessage schedules base64 little-endian PCM16 on an output context.
// StartAt is in seconds on the context clock, which starts at context_open.
type PlayMessage struct {
	BaseMessage
	ID         string  `json:"id"`
	Context    string  `json:"context"`
	StartAt    float64 `json:"start_at"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Pitch      float64 `json:"pitch,omitempty"`
	Data       string  `json:"data"`
}

// StopMessage cuts a scheduled buffer short
type StopMessage struct {
	BaseMessage
	ID string `json:"id"`
}

// WakeLockMessage requests or releases the screen wake lock
type WakeLockMessage struct {
	BaseMessage
	Op        string `json:"op"`
	RequestID string `json:"request_id,omitempty"`
}

// KeepAliveMessage plays or pauses the background keep-alive clip
type KeepAliveMessage struct {
	BaseMessage
	Op       string  `json:"op"`
	Clip     string  `json:"clip,omitempty"`
	MIMEType string  `json:"mime_type,omitempty"`
	Volume   float64 `json:"volume,omitempty"`
	Loop     bool    `json:"loop,omitempty"`
}

// TranscriptMessage carries a recognized utterance
type TranscriptMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// ParseMessage decodes a text frame into its typed message.
// Messages without a payload decode to *BaseMessage.
func ParseMessage(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	var msg interface{}
	switch base.Type {
	case MessageTypeHello:
		msg = &HelloMessage{}
	case MessageTypeMicResult:
		msg = &MicResultMessage{}
	case MessageTypeWakeLockResult:
		msg = &WakeLockResultMessage{}
	case MessageTypeContextState:
		msg = &ContextStateMessage{}
	case MessageTypeVisibility:
		msg = &VisibilityMessage{}
	case MessageTypeSpeak:
		msg = &SpeakMessage{}
	case MessageTypeLiveConnect, MessageTypeLiveDisconnect, MessageTypeListenStart,
		MessageTypeListenStop, MessageTypeStopSpeaking, MessageTypePing:
		return &base, nil
	case "":
		return nil, fmt.Errorf("message missing type field")
	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("invalid %s message: %w", base.Type, err)
	}
	if err := validateMessage(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func validateMessage(msg interface{}) error {
	switch m := msg.(type) {
	case *HelloMessage:
		if m.SampleRate < 8000 || m.SampleRate > 192000 {
			return fmt.Errorf("sample_rate must be between 8000 and 192000")
		}
	case *MicResultMessage:
		if m.RequestID == "" {
			return fmt.Errorf("request_id is required")
		}
		if m.SampleRate < 0 {
			return fmt.Errorf("sample_rate must not be negative")
		}
	case *WakeLockResultMessage:
		if m.RequestID == "" {
			return fmt.Errorf("request_id is required")
		}
	case *ContextStateMessage:
		if m.Context == "" {
			return fmt.Errorf("context is required")
		}
		switch m.State {
		case repositories.ContextStateRunning, repositories.ContextStateSuspended, repositories.ContextStateClosed:
		default:
			return fmt.Errorf("state must be one of: running, suspended, closed")
		}
	case *VisibilityMessage:
		if m.State != repositories.VisibilityVisible && m.State != repositories.VisibilityHidden {
			return fmt.Errorf("state must be one of: visible, hidden")
		}
	case *SpeakMessage:
		if m.Text == "" {
			return fmt.Errorf("text is required")
		}
		if m.Rate < 0 {
			return fmt.Errorf("rate must not be negative")
		}
	}
	return nil
}

// NewErrorMessage creates a standardized error message
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: BaseMessage{Type: MessageTypeError},
		Code:        code,
		Message:     message,
	}
}
