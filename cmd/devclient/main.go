// Command devclient simulates a phone against a running server. It
// authenticates, opens the device socket and answers the platform requests
// the server makes, streaming a synthetic tone as microphone audio.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/api"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/audio"
	ws "github.com/Johtaguerrero/Biblia-Responde-2.1/internal/websocket"
)

const (
	captureRate = 48000
	frameSize   = audio.DefaultFrameSize
	toneHz      = 440.0
)

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	serial := flag.String("serial", os.Getenv("DEVICE_SERIAL"), "device serial number")
	secret := flag.String("secret", os.Getenv("DEVICE_SECRET"), "device secret key")
	speak := flag.String("speak", "", "text to read aloud after connecting")
	liveSession := flag.Bool("live", false, "start a live conversation")
	denyMic := flag.Bool("deny-mic", false, "refuse microphone access")
	duration := flag.Duration("duration", 15*time.Second, "how long to stay connected")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	token, err := authenticate(ctx, *server, *serial, *secret)
	if err != nil {
		logger.Fatal("Authentication failed", zap.Error(err))
	}
	logger.Info("Authenticated", zap.String("device_id", token.DeviceID), zap.Time("expires_at", token.ExpiresAt))

	d, err := dial(ctx, *server, token.Token, logger)
	if err != nil {
		logger.Fatal("WebSocket connection failed", zap.Error(err))
	}
	defer d.conn.Close()
	d.denyMic = *denyMic

	go d.readLoop(ctx)

	if err := d.send(ws.HelloMessage{
		BaseMessage: ws.BaseMessage{Type: ws.MessageTypeHello},
		SampleRate:  captureRate,
		Capabilities: ws.Capabilities{
			Microphone:      true,
			WakeLock:        true,
			SpeechSynthesis: true,
			BackgroundAudio: true,
		},
	}); err != nil {
		logger.Fatal("Failed to send hello", zap.Error(err))
	}

	if *speak != "" {
		d.send(ws.SpeakMessage{BaseMessage: ws.BaseMessage{Type: ws.MessageTypeSpeak}, Text: *speak})
	}
	if *liveSession {
		d.send(ws.BaseMessage{Type: ws.MessageTypeLiveConnect})
	}

	<-ctx.Done()
	if *liveSession {
		d.send(ws.BaseMessage{Type: ws.MessageTypeLiveDisconnect})
		time.Sleep(500 * time.Millisecond)
	}

	d.mu.Lock()
	logger.Info("Done",
		zap.Int("buffers_received", d.played),
		zap.Int("frames_sent", d.framesSent))
	d.mu.Unlock()
}

func authenticate(ctx context.Context, server, serial, secret string) (*api.DeviceAuthResponse, error) {
	body, err := json.Marshal(api.DeviceAuthRequest{SerialNumber: serial, SecretKey: secret})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/v1/device/auth", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Message)
	}

	var token api.DeviceAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode auth response: %w", err)
	}
	return &token, nil
}

type device struct {
	conn    *websocket.Conn
	logger  *zap.Logger
	denyMic bool

	writeMu sync.Mutex

	mu         sync.Mutex
	micCancel  context.CancelFunc
	played     int
	framesSent int
}

func dial(ctx context.Context, server, token string, logger *zap.Logger) (*device, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return &device{conn: conn, logger: logger}, nil
}

func (d *device) send(v interface{}) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteJSON(v)
}

func (d *device) sendBinary(data []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (d *device) readLoop(ctx context.Context) {
	for {
		_, data, err := d.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Warn("Connection closed", zap.Error(err))
			}
			return
		}

		var base ws.BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			d.logger.Warn("Unreadable message", zap.Error(err))
			continue
		}
		d.handle(ctx, base.Type, data)
	}
}

func (d *device) handle(ctx context.Context, t ws.MessageType, data []byte) {
	switch t {
	case ws.MessageTypeState:
		var msg ws.StateMessage
		json.Unmarshal(data, &msg)
		d.logger.Info("State", zap.String("state", msg.State), zap.Bool("speaking", msg.Speaking), zap.String("error", msg.Error))

	case ws.MessageTypeVolume:
		var msg ws.VolumeMessage
		json.Unmarshal(data, &msg)
		d.logger.Debug("Volume", zap.Float64("value", msg.Value))

	case ws.MessageTypeMicOpen:
		var msg ws.MicOpenMessage
		json.Unmarshal(data, &msg)
		d.answerMic(ctx, msg)

	case ws.MessageTypeMicClose:
		d.mu.Lock()
		if d.micCancel != nil {
			d.micCancel()
			d.micCancel = nil
		}
		d.mu.Unlock()
		d.logger.Info("Microphone closed")

	case ws.MessageTypeWakeLock:
		var msg ws.WakeLockMessage
		json.Unmarshal(data, &msg)
		if msg.Op == ws.OpRequest {
			d.send(ws.WakeLockResultMessage{
				BaseMessage: ws.BaseMessage{Type: ws.MessageTypeWakeLockResult},
				RequestID:   msg.RequestID,
				Granted:     true,
			})
		}
		d.logger.Info("Wake lock", zap.String("op", msg.Op))

	case ws.MessageTypeContextOpen, ws.MessageTypeContextClose:
		var msg ws.ContextMessage
		json.Unmarshal(data, &msg)
		d.logger.Info(string(t), zap.String("context", msg.Context), zap.Int("sample_rate", msg.SampleRate))

	case ws.MessageTypeContextResume:
		var msg ws.ContextMessage
		json.Unmarshal(data, &msg)
		d.send(ws.ContextStateMessage{
			BaseMessage: ws.BaseMessage{Type: ws.MessageTypeContextState},
			Context:     msg.Context,
			State:       repositories.ContextStateRunning,
		})

	case ws.MessageTypePlay:
		var msg ws.PlayMessage
		json.Unmarshal(data, &msg)
		d.mu.Lock()
		d.played++
		d.mu.Unlock()
		d.logger.Debug("Play", zap.String("context", msg.Context), zap.Float64("start_at", msg.StartAt))

	case ws.MessageTypeTranscript:
		var msg ws.TranscriptMessage
		json.Unmarshal(data, &msg)
		d.logger.Info("Transcript", zap.String("text", msg.Text))

	case ws.MessageTypeError, ws.MessageTypeListenError:
		var msg ws.ErrorMessage
		json.Unmarshal(data, &msg)
		d.logger.Warn("Server error", zap.String("code", msg.Code), zap.String("message", msg.Message))

	default:
		d.logger.Debug("Message", zap.String("type", string(t)))
	}
}

func (d *device) answerMic(ctx context.Context, msg ws.MicOpenMessage) {
	if d.denyMic {
		d.send(ws.MicResultMessage{
			BaseMessage: ws.BaseMessage{Type: ws.MessageTypeMicResult},
			RequestID:   msg.RequestID,
			Error:       "NotAllowedError",
		})
		return
	}

	d.send(ws.MicResultMessage{
		BaseMessage: ws.BaseMessage{Type: ws.MessageTypeMicResult},
		RequestID:   msg.RequestID,
		Granted:     true,
		SampleRate:  captureRate,
	})
	d.logger.Info("Microphone granted", zap.Int("sample_rate", captureRate))

	micCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	if d.micCancel != nil {
		d.micCancel()
	}
	d.micCancel = cancel
	d.mu.Unlock()

	go d.streamTone(micCtx)
}

// streamTone sends a sine tone in real time, one frame per tick
func (d *device) streamTone(ctx context.Context) {
	frameSeconds := float64(frameSize) / captureRate
	interval := time.Duration(frameSeconds * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	frame := make([]float32, frameSize)
	var n int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for i := range frame {
			frame[i] = float32(0.2 * math.Sin(2*math.Pi*toneHz*float64(n)/captureRate))
			n++
		}
		if err := d.sendBinary(audio.Float32ToBytes(frame)); err != nil {
			return
		}
		d.mu.Lock()
		d.framesSent++
		d.mu.Unlock()
	}
}
