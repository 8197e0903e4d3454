package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/live"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/metrics"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for microphone frames
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// devices authenticate with a bearer token, not cookies
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Config tunes the device bridge
type Config struct {
	// InboundRate and InboundBurst limit control messages read from one device
	InboundRate  float64 `yaml:"inbound_rate"`
	InboundBurst int     `yaml:"inbound_burst"`
	// VolumeInterval is the minimum spacing of volume messages
	VolumeInterval time.Duration `yaml:"volume_interval"`
	// RequestTimeout bounds mic and wake lock requests
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultConfig returns the bridge defaults
func DefaultConfig() Config {
	return Config{
		InboundRate:    200,
		InboundBurst:   400,
		VolumeInterval: 100 * time.Millisecond,
		RequestTimeout: 30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.InboundRate <= 0 {
		c.InboundRate = defaults.InboundRate
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = defaults.InboundBurst
	}
	if c.VolumeInterval <= 0 {
		c.VolumeInterval = defaults.VolumeInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
}

// LiveManagerFactory creates the live session manager of one device
type LiveManagerFactory func(platform repositories.Platform, logger *zap.Logger) (*live.Manager, error)

// Services are shared by every device connection. STT and TTS may be nil
// when the server runs without them.
type Services struct {
	NewLiveManager LiveManagerFactory
	STT            repositories.SpeechToText
	TTS            repositories.TextToSpeech
	Settings       *usecase.SettingsService
	Speech         usecase.SpeechConfig
}

// Hub maintains the set of active device connections.
type Hub struct {
	// Registered clients by device id.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	// ctx outlives the upgrade request and ends when Run returns
	ctx    context.Context
	cancel context.CancelFunc

	config   Config
	services Services
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(config Config, services Services, m *metrics.Metrics, logger *zap.Logger) *Hub {
	config.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		config:     config,
		services:   services,
		metrics:    m,
		logger:     logger,
	}
}

// Run starts the hub's main loop. It closes every connection when ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			previous := h.clients[client.deviceID]
			h.clients[client.deviceID] = client
			h.mu.Unlock()

			if previous != nil {
				h.logger.Info("Replacing device connection", zap.String("deviceID", client.deviceID))
				go previous.close()
			} else {
				h.metrics.DeviceConnected(1)
			}
			h.logger.Info("Client registered", zap.String("deviceID", client.deviceID))

		case client := <-h.unregister:
			h.mu.Lock()
			current, ok := h.clients[client.deviceID]
			if ok && current == client {
				delete(h.clients, client.deviceID)
			}
			h.mu.Unlock()

			if ok && current == client {
				h.metrics.DeviceConnected(-1)
				h.logger.Info("Client unregistered", zap.String("deviceID", client.deviceID))
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) shutdown() {
	h.cancel()

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, id)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.close()
		}(client)
	}
	wg.Wait()
	h.metrics.DeviceConnected(-len(clients))
	h.logger.Info("Hub stopped", zap.Int("closedClients", len(clients)))
}

// ActiveDevices returns the number of connected devices
func (h *Hub) ActiveDevices() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client returns the connection of a device, if any
func (h *Hub) Client(deviceID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[deviceID]
	return c, ok
}

// HandleWebSocketWithAuth handles websocket requests with pre-authenticated device ID
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, deviceID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(hub, conn, deviceID, logger.With(zap.String("deviceID", deviceID)))

	select {
	case hub.register <- client:
	case <-hub.ctx.Done():
		client.close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}
