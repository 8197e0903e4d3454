// Package gemini connects to the Gemini Live bidirectional streaming API.
package gemini

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

// DefaultLiveURL is the Gemini Live websocket endpoint
const DefaultLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Model audio turns are large
	maxMessageSize = 16 * 1024 * 1024

	defaultDialTimeout = 30 * time.Second
	eventBuffer        = 64
	sendBuffer         = 256
)

// ErrChannelClosed is returned when sending on a closed channel
var ErrChannelClosed = errors.New("live channel closed")

// LiveDialerConfig holds the configuration of the live dialer
type LiveDialerConfig struct {
	URL         string
	DialTimeout time.Duration
}

// NewLiveDialerConfigFromEnv creates a configuration from environment variables
func NewLiveDialerConfigFromEnv() LiveDialerConfig {
	url := os.Getenv("GEMINI_LIVE_URL")
	if url == "" {
		url = DefaultLiveURL
	}
	return LiveDialerConfig{URL: url, DialTimeout: defaultDialTimeout}
}

// LiveDialer opens Gemini Live channels
type LiveDialer struct {
	config LiveDialerConfig
	logger *zap.Logger
}

var _ repositories.LiveDialer = (*LiveDialer)(nil)

// NewLiveDialer creates a new Gemini Live dialer
func NewLiveDialer(config LiveDialerConfig, logger *zap.Logger) *LiveDialer {
	if config.URL == "" {
		config.URL = DefaultLiveURL
		logger.Info("Using default Gemini Live URL")
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaultDialTimeout
	}
	return &LiveDialer{config: config, logger: logger}
}

// Dial connects and sends the setup message. The channel emits an open
// event once the server acknowledges the setup.
func (d *LiveDialer) Dial(ctx context.Context, config repositories.LiveConfig) (repositories.LiveChannel, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	headers := http.Header{}
	headers.Set("x-goog-api-key", config.APIKey)

	dialer := websocket.Dialer{
		HandshakeTimeout: d.config.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}

	conn, resp, err := dialer.DialContext(ctx, d.config.URL, headers)
	if err != nil {
		if resp != nil {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			d.logger.Error("Gemini Live dial failed",
				zap.Int("status", resp.StatusCode),
				zap.Error(err))
			return nil, fmt.Errorf("failed to connect to Gemini Live (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to Gemini Live: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	conn.SetReadLimit(maxMessageSize)

	setup, err := json.Marshal(newSetupMessage(config))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to marshal setup message: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, setup); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send setup message: %w", err)
	}

	ch := &liveChannel{
		conn:   conn,
		logger: d.logger,
		events: make(chan repositories.LiveEvent, eventBuffer),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	go ch.writePump()
	go ch.readPump()

	d.logger.Info("Gemini Live channel dialed", zap.String("model", config.Model))
	return ch, nil
}

func newSetupMessage(config repositories.LiveConfig) setupMessage {
	model := config.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	modalities := config.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{repositories.ResponseModalityAudio}
	}

	msg := setupMessage{Setup: setup{
		Model:            model,
		GenerationConfig: generationConfig{ResponseModalities: modalities},
	}}
	if config.VoiceName != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: config.VoiceName}},
		}
	}
	if config.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []Part{{Text: config.SystemInstruction}}}
	}
	return msg
}

// liveChannel is an open Gemini Live connection
type liveChannel struct {
	conn   *websocket.Conn
	logger *zap.Logger

	events chan repositories.LiveEvent
	send   chan []byte

	done      chan struct{}
	closeOnce sync.Once
	local     atomic.Bool
}

var _ repositories.LiveChannel = (*liveChannel)(nil)

func (c *liveChannel) Events() <-chan repositories.LiveEvent {
	return c.events
}

// SendRealtimeInput queues one media chunk for the write pump
func (c *liveChannel) SendRealtimeInput(ctx context.Context, media repositories.MediaBlob) error {
	data, err := json.Marshal(realtimeInputMessage{
		RealtimeInput: realtimeInput{MediaChunks: []repositories.MediaBlob{media}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal realtime input: %w", err)
	}

	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the channel with a normal closure. No further events are
// emitted after a local close.
func (c *liveChannel) Close() error {
	c.local.Store(true)
	c.shutdown()
	return nil
}

func (c *liveChannel) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump turns server frames into events
func (c *liveChannel) readPump() {
	defer close(c.events)
	defer c.shutdown()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.local.Load() {
				return
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && (closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
				c.logger.Info("Gemini Live closed by server", zap.String("reason", closeErr.Text))
				c.emit(repositories.LiveEvent{Type: repositories.LiveEventClose, Reason: closeErr.Text})
				return
			}
			c.logger.Error("Gemini Live read failed", zap.Error(err))
			c.emit(repositories.LiveEvent{Type: repositories.LiveEventError, Err: err, Reason: err.Error()})
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Ignoring malformed server message", zap.Error(err))
			continue
		}

		if msg.SetupComplete != nil {
			c.emit(repositories.LiveEvent{Type: repositories.LiveEventOpen})
		}
		if msg.ServerContent != nil {
			c.emit(repositories.LiveEvent{
				Type:    repositories.LiveEventMessage,
				Message: toLiveMessage(msg.ServerContent),
			})
		}
	}
}

func (c *liveChannel) emit(event repositories.LiveEvent) {
	select {
	case c.events <- event:
	case <-c.done:
	}
}

// writePump serialises writes and keeps the connection alive with pings
func (c *liveChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("Failed to write realtime input", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("Ping failed", zap.Error(err))
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func toLiveMessage(sc *ServerContent) *repositories.LiveMessage {
	msg := &repositories.LiveMessage{
		Interrupted:  sc.Interrupted,
		TurnComplete: sc.TurnComplete,
	}
	if sc.ModelTurn == nil {
		return msg
	}

	var text strings.Builder
	for _, part := range sc.ModelTurn.Parts {
		if part.InlineData != nil && part.InlineData.Data != "" {
			if part.InlineData.MimeType == "" || strings.HasPrefix(part.InlineData.MimeType, "audio/") {
				msg.Audio = append(msg.Audio, repositories.MediaBlob{
					Data:     part.InlineData.Data,
					MIMEType: part.InlineData.MimeType,
				})
			}
		}
		text.WriteString(part.Text)
	}
	msg.Text = text.String()
	return msg
}
