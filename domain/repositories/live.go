package repositories

import "context"

// ResponseModalityAudio asks the remote model to answer with speech only
const ResponseModalityAudio = "AUDIO"

// LiveConfig configures a bidirectional streaming connection to the remote model
type LiveConfig struct {
	APIKey             string
	Model              string
	VoiceName          string
	SystemInstruction  string
	ResponseModalities []string
}

// LiveDialer opens streaming connections to a remote conversational model
type LiveDialer interface {
	Dial(ctx context.Context, config LiveConfig) (LiveChannel, error)
}

// LiveChannel is an open streaming connection. Events is closed after the
// final close or error event.
type LiveChannel interface {
	Events() <-chan LiveEvent
	SendRealtimeInput(ctx context.Context, media MediaBlob) error
	Close() error
}

// LiveEventType enumerates channel lifecycle events
type LiveEventType string

const (
	LiveEventOpen    LiveEventType = "open"
	LiveEventMessage LiveEventType = "message"
	LiveEventClose   LiveEventType = "close"
	LiveEventError   LiveEventType = "error"
)

// LiveEvent is a single lifecycle event of a LiveChannel
type LiveEvent struct {
	Type    LiveEventType
	Message *LiveMessage
	Reason  string
	Err     error
}

// LiveMessage is the content of a server message
type LiveMessage struct {
	Audio        []MediaBlob
	Text         string
	Interrupted  bool
	TurnComplete bool
}

// MediaBlob is base64 encoded media with its mime type
type MediaBlob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}
