package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/auth"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/credentials"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/metrics"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/persona"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/websocket"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/usecase"
)

// Dependencies are the services behind the HTTP routes. Chat, Settings and
// Credentials may be nil, in which case their routes are not registered.
type Dependencies struct {
	Hub         *websocket.Hub
	Devices     repositories.DeviceRepository
	Tokens      *auth.TokenIssuer
	Chat        *usecase.ChatService
	Settings    *usecase.SettingsService
	Credentials *credentials.Resolver
	Metrics     *metrics.Metrics
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	if deps.Metrics != nil {
		e.Use(requestMetrics(deps.Metrics))
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"service": "biblia-responde",
			"devices": deps.Hub.ActiveDevices(),
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	// Device APIs
	v1.POST("/device/auth", func(c echo.Context) error {
		return deviceAuth(c, deps.Devices, deps.Tokens, logger)
	})

	v1.GET("/home", func(c echo.Context) error {
		return c.JSON(http.StatusOK, persona.NewHome())
	})

	if deps.Chat != nil {
		v1.POST("/chat", func(c echo.Context) error {
			return chat(c, deps.Chat, logger)
		})
	}

	if deps.Settings != nil {
		v1.GET("/settings", func(c echo.Context) error {
			return c.JSON(http.StatusOK, deps.Settings.Get())
		})
		v1.PUT("/settings", func(c echo.Context) error {
			return updateSettings(c, deps.Settings, logger)
		})
	}

	if deps.Credentials != nil {
		v1.GET("/credentials", func(c echo.Context) error {
			return credentialStatus(c, deps.Credentials, logger)
		})
		v1.PUT("/credentials", func(c echo.Context) error {
			return saveCredential(c, deps.Credentials, logger)
		})
		v1.DELETE("/credentials", func(c echo.Context) error {
			return clearCredential(c, deps.Credentials, logger)
		})
	}

	// WebSocket endpoint with JWT validation
	e.GET("/ws", func(c echo.Context) error {
		return websocketWithAuth(c, deps.Hub, deps.Tokens, logger)
	})
}

func requestMetrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				status = httpErr.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.RecordRequest(c.Request().Method, route, status, time.Since(start))
			return err
		}
	}
}

func deviceAuth(c echo.Context, devices repositories.DeviceRepository, tokens *auth.TokenIssuer, logger *zap.Logger) error {
	var req DeviceAuthRequest

	// Bind and validate request
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind device auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.SerialNumber == "" || req.SecretKey == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Serial number and secret key are required",
		})
	}

	device, err := devices.ValidateDevice(req.SerialNumber, req.SecretKey)
	if err != nil {
		logger.Warn("Device authentication failed",
			zap.String("serial_number", req.SerialNumber),
			zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid device credentials",
		})
	}

	token, err := tokens.GenerateDeviceToken(device.ID)
	if err != nil {
		logger.Error("Failed to generate device token",
			zap.String("device_id", device.ID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	logger.Info("Device authenticated successfully",
		zap.String("device_id", device.ID),
		zap.String("serial_number", device.SerialNumber))

	return c.JSON(http.StatusOK, DeviceAuthResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(tokens.TTL()),
		DeviceID:  device.ID,
	})
}

func chat(c echo.Context, service *usecase.ChatService, logger *zap.Logger) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		logger.Warn("Failed to bind chat request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Text is required",
		})
	}

	reply := service.Reply(c.Request().Context(), req.History, text)
	return c.JSON(http.StatusOK, ChatResponse{Message: reply})
}

func updateSettings(c echo.Context, service *usecase.SettingsService, logger *zap.Logger) error {
	var settings entities.Settings
	if err := c.Bind(&settings); err != nil {
		logger.Warn("Failed to bind settings", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	updated, err := service.Update(settings)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_settings",
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, updated)
}

func credentialStatus(c echo.Context, resolver *credentials.Resolver, logger *zap.Logger) error {
	source, err := resolver.Source(c.Request().Context())
	if err != nil {
		logger.Error("Failed to resolve access key", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "credential_store_error",
			Message: "Failed to read the access key",
		})
	}
	return c.JSON(http.StatusOK, CredentialStatusResponse{
		Configured: source != credentials.SourceNone,
		Source:     string(source),
	})
}

func saveCredential(c echo.Context, resolver *credentials.Resolver, logger *zap.Logger) error {
	var req CredentialRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if err := resolver.Save(c.Request().Context(), req.Key); err != nil {
		if errors.Is(err, credentials.ErrInvalidKey) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_key",
				Message: credentials.UserMessage(err),
			})
		}
		logger.Error("Failed to save access key", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "credential_store_error",
			Message: "Failed to store the access key",
		})
	}
	return c.NoContent(http.StatusNoContent)
}

func clearCredential(c echo.Context, resolver *credentials.Resolver, logger *zap.Logger) error {
	if err := resolver.Clear(c.Request().Context()); err != nil {
		logger.Error("Failed to clear access key", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "credential_store_error",
			Message: "Failed to clear the access key",
		})
	}
	return c.NoContent(http.StatusNoContent)
}

// websocketWithAuth handles WebSocket connections with JWT authentication
func websocketWithAuth(c echo.Context, hub *websocket.Hub, tokens *auth.TokenIssuer, logger *zap.Logger) error {
	// Extract JWT token from Authorization header only
	var token string
	authHeader := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimSpace(authHeader[len("Bearer "):])
	}

	if token == "" {
		logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required in Authorization header",
		})
	}

	claims, err := tokens.ValidateToken(token)
	if err != nil {
		logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	// Verify this is a device token
	if claims.Role != auth.RoleDevice {
		logger.Warn("WebSocket connection rejected: invalid role",
			zap.String("role", claims.Role))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "invalid_role",
			Message: "Only device tokens are allowed for WebSocket connections",
		})
	}

	logger.Info("WebSocket connection authenticated",
		zap.String("device_id", claims.DeviceID),
		zap.String("role", claims.Role))

	return websocket.HandleWebSocketWithAuth(hub, c, claims.DeviceID, logger)
}
