package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/audio"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/live"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/usecase"
)

var errClientClosed = errors.New("device connection closed")

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub. After
// hello it acts as the platform of a live session and of speech services.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Never closed; writers select on ctx.
	send chan WriteData

	// Device ID for this client
	deviceID string

	logger *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	limiter *rate.Limiter
	volume  *rate.Sometimes

	// set once by hello
	helloOnce   sync.Once
	ready       chan struct{}
	caps        Capabilities
	sampleRate  int
	manager     *live.Manager
	speech      *usecase.SpeechService
	synth       *deviceSynthesizer
	unsubscribe func()

	visibility chan repositories.Visibility

	pendingMu sync.Mutex
	pending   map[string]chan interface{}

	streamsMu sync.Mutex
	streams   map[*remoteStream]struct{}

	contextsMu sync.Mutex
	contexts   map[string]*remoteContext
	contextSeq int

	stateMu  sync.Mutex
	last     entities.SessionSnapshot
	hasState bool
}

func newClient(hub *Hub, conn *websocket.Conn, deviceID string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(hub.ctx)
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan WriteData, 256),
		deviceID:   deviceID,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		limiter:    rate.NewLimiter(rate.Limit(hub.config.InboundRate), hub.config.InboundBurst),
		volume:     &rate.Sometimes{Interval: hub.config.VolumeInterval},
		ready:      make(chan struct{}),
		visibility: make(chan repositories.Visibility, 8),
		pending:    make(map[string]chan interface{}),
		streams:    make(map[*remoteStream]struct{}),
		contexts:   make(map[string]*remoteContext),
	}
}

// readPump pumps messages from the websocket connection to the client.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			// microphone frames arrive at the capture cadence and are not limited
			if !c.limiter.Allow() {
				c.hub.metrics.RecordRateLimitHit()
				c.sendError(ErrorCodeRateLimited, "too many messages")
				continue
			}
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processMicrophoneFrame(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the client to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				c.cancel()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// sendJSON queues a text frame. It fails once the connection is closing.
func (c *Client) sendJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	select {
	case <-c.ctx.Done():
		return errClientClosed
	default:
	}

	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		return nil
	case <-c.ctx.Done():
		return errClientClosed
	}
}

func (c *Client) sendError(code, message string) {
	if err := c.sendJSON(NewErrorMessage(code, message)); err != nil {
		c.logger.Debug("Failed to send error message", zap.String("code", code), zap.Error(err))
	}
}

// request sends a message carrying a fresh request id and waits for the
// device's answer with the same id
func (c *Client) request(ctx context.Context, build func(id string) interface{}) (interface{}, error) {
	id := uuid.New().String()
	answer := make(chan interface{}, 1)

	c.pendingMu.Lock()
	c.pending[id] = answer
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.sendJSON(build(id)); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.hub.config.RequestTimeout)
	defer cancel()

	select {
	case resp := <-answer:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, errClientClosed
	}
}

func (c *Client) resolve(id string, msg interface{}) {
	c.pendingMu.Lock()
	answer, ok := c.pending[id]
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("Answer for unknown request", zap.String("requestID", id))
		return
	}
	select {
	case answer <- msg:
	default:
	}
}

// processMessage processes incoming messages from the device
func (c *Client) processMessage(message []byte) {
	msg, err := ParseMessage(message)
	if err != nil {
		c.logger.Warn("Invalid message", zap.Error(err))
		c.sendError(ErrorCodeInvalidMessage, err.Error())
		return
	}

	if hello, ok := msg.(*HelloMessage); ok {
		c.handleHello(hello)
		return
	}

	select {
	case <-c.ready:
	default:
		c.sendError(ErrorCodeHelloRequired, "hello must be the first message")
		return
	}

	switch m := msg.(type) {
	case *MicResultMessage:
		c.resolve(m.RequestID, m)
	case *WakeLockResultMessage:
		c.resolve(m.RequestID, m)
	case *ContextStateMessage:
		c.updateContextState(m.Context, m.State)
	case *VisibilityMessage:
		select {
		case c.visibility <- m.State:
		default:
			c.logger.Warn("Visibility channel full, dropping change", zap.String("state", string(m.State)))
		}
	case *SpeakMessage:
		go c.handleSpeak(m)
	case *BaseMessage:
		c.handleCommand(m.Type)
	}
}

func (c *Client) handleCommand(t MessageType) {
	switch t {
	case MessageTypeLiveConnect:
		go c.handleLiveConnect()
	case MessageTypeLiveDisconnect:
		go c.manager.Disconnect()
	case MessageTypeListenStart:
		c.speech.StartListening(c.ctx, usecase.ListenCallbacks{
			OnResult: func(text string) {
				c.sendJSON(&TranscriptMessage{BaseMessage: BaseMessage{Type: MessageTypeTranscript}, Text: text})
			},
			OnEnd: func() {
				c.sendJSON(&BaseMessage{Type: MessageTypeListenEnd})
			},
			OnError: func(err error) {
				c.sendJSON(NewErrorMessageOfType(MessageTypeListenError, listenErrorCode(err), err.Error()))
			},
		})
	case MessageTypeListenStop:
		c.speech.StopListening()
	case MessageTypeStopSpeaking:
		c.speech.StopSpeaking()
	case MessageTypePing:
		c.sendJSON(&BaseMessage{Type: MessageTypePong})
	}
}

func (c *Client) handleHello(hello *HelloMessage) {
	first := false
	c.helloOnce.Do(func() {
		first = true
		c.caps = hello.Capabilities
		c.sampleRate = hello.SampleRate
		platform := c.platform()

		manager, err := c.hub.services.NewLiveManager(platform, c.logger)
		if err != nil {
			c.logger.Error("Failed to create live manager", zap.Error(err))
			c.sendError(ErrorCodeLiveFailed, "live sessions unavailable")
			c.cancel()
			return
		}
		c.manager = manager
		c.unsubscribe = manager.Subscribe(c.onSnapshot)

		var synthesizer repositories.SpeechSynthesizer
		if c.hub.services.TTS != nil {
			c.synth = &deviceSynthesizer{client: c, tts: c.hub.services.TTS, logger: c.logger}
			synthesizer = c.synth
		}
		c.speech = usecase.NewSpeechService(
			c.hub.services.Speech,
			c.hub.services.STT,
			platform.Microphone,
			synthesizer,
			c.hub.services.Settings,
			c.logger,
		)

		c.logger.Info("Device ready",
			zap.Int("sampleRate", hello.SampleRate),
			zap.Bool("microphone", hello.Capabilities.Microphone),
			zap.Bool("wakeLock", hello.Capabilities.WakeLock),
			zap.Bool("speechSynthesis", hello.Capabilities.SpeechSynthesis),
			zap.Bool("backgroundAudio", hello.Capabilities.BackgroundAudio))
		close(c.ready)
		c.onSnapshot(manager.Snapshot())
	})

	if !first {
		c.sendError(ErrorCodeInvalidMessage, "hello already received")
	}
}

func (c *Client) handleLiveConnect() {
	if err := c.manager.Connect(c.ctx); err != nil {
		c.logger.Warn("Live connect failed", zap.Error(err))
		if errors.Is(err, live.ErrSessionActive) {
			c.sendError(ErrorCodeLiveFailed, live.UserMessage(err))
		}
	}
}

func (c *Client) handleSpeak(m *SpeakMessage) {
	if err := c.speech.Speak(c.ctx, m.Text, m.Rate); err != nil {
		c.logger.Warn("Speak failed", zap.Error(err))
		c.sendError(ErrorCodeSpeakFailed, err.Error())
	}
}

// processMicrophoneFrame decodes little-endian float32 samples for open streams
func (c *Client) processMicrophoneFrame(data []byte) {
	samples, err := audio.Float32FromBytes(data)
	if err != nil {
		c.logger.Warn("Malformed microphone frame", zap.Int("size", len(data)), zap.Error(err))
		c.hub.metrics.RecordDecodeError()
		return
	}
	c.deliverSamples(samples)
}

// onSnapshot forwards live session changes. Volume alone is throttled.
func (c *Client) onSnapshot(snap entities.SessionSnapshot) {
	c.stateMu.Lock()
	changed := !c.hasState ||
		snap.State != c.last.State ||
		snap.Speaking != c.last.Speaking ||
		snap.Error != c.last.Error
	volumeChanged := c.hasState && snap.Volume != c.last.Volume
	c.last = snap
	c.hasState = true
	c.stateMu.Unlock()

	if changed {
		c.sendJSON(&StateMessage{
			BaseMessage: BaseMessage{Type: MessageTypeState},
			State:       string(snap.State),
			Speaking:    snap.Speaking,
			Error:       snap.Error,
		})
	}
	if !volumeChanged {
		return
	}
	if snap.Volume == 0 {
		c.sendVolume(0)
		return
	}
	c.volume.Do(func() {
		c.sendVolume(snap.Volume)
	})
}

func (c *Client) sendVolume(v float64) {
	c.sendJSON(&VolumeMessage{BaseMessage: BaseMessage{Type: MessageTypeVolume}, Value: v})
}

// close releases everything the device connection holds. It is safe to call
// more than once and from any goroutine.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.cancel()

		// waits for a hello in flight and blocks later ones
		c.helloOnce.Do(func() {})
		if c.manager != nil {
			c.unsubscribe()
			c.manager.Disconnect()
		}
		if c.speech != nil {
			c.speech.StopListening()
			c.speech.StopSpeaking()
		}
		if c.synth != nil {
			c.synth.close(context.Background())
		}
		c.closeStreams()

		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
		c.logger.Info("Device connection closed")
	})
}

// NewErrorMessageOfType creates an error message under a specific type
func NewErrorMessageOfType(t MessageType, code, message string) *ErrorMessage {
	msg := NewErrorMessage(code, message)
	msg.Type = t
	return msg
}

func listenErrorCode(err error) string {
	switch {
	case errors.Is(err, usecase.ErrRecognitionUnsupported):
		return "unsupported"
	case errors.Is(err, live.ErrPermissionDenied):
		return "permission_denied"
	}
	return "recognition_failed"
}
