package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/adapters"
	filecreds "github.com/Johtaguerrero/Biblia-Responde-2.1/adapters/credentials"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/adapters/gemini"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/adapters/llm"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/adapters/mongo"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/adapters/redis"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/adapters/stt"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/adapters/tts"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/api"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/auth"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/config"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/credentials"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/live"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/metrics"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/persona"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/websocket"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/usecase"
)

func main() {
	// Initialize logger
	logger := newLogger(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server exited")
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(logger)
	if err != nil {
		return err
	}

	m := metrics.NewMetrics(cfg.Metrics.Namespace)

	// Initialize adapters
	store, closeStore, err := newCredentialStore(ctx, cfg.Credentials, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	resolver := credentials.NewResolver(store, logger)

	dialer := gemini.NewLiveDialer(gemini.NewLiveDialerConfigFromEnv(), logger)

	liveConfig := live.NewConfigFromEnv()
	liveConfig.SystemInstruction = persona.SystemPrompt
	liveConfig.KeepAliveEnabled = cfg.Live.KeepAlive
	if cfg.Live.Model != "" {
		liveConfig.Model = cfg.Live.Model
	}
	if cfg.Live.Voice != "" {
		liveConfig.VoiceName = cfg.Live.Voice
	}
	if cfg.Live.ConnectPolicy != "" {
		liveConfig.ConnectPolicy = live.ConnectPolicy(cfg.Live.ConnectPolicy)
	}
	if err := live.ValidateConfig(&liveConfig, logger); err != nil {
		return fmt.Errorf("invalid live configuration: %w", err)
	}

	chatConfig := llm.NewGeminiConfigFromEnv()
	chatConfig.SystemPrompt = persona.SystemPrompt
	if cfg.Chat.Model != "" {
		chatConfig.Model = cfg.Chat.Model
	}
	if cfg.Chat.Temperature != nil {
		chatConfig.Temperature = cfg.Chat.Temperature
	}
	chatModel, err := llm.NewGeminiLLM(chatConfig, resolver, logger)
	if err != nil {
		return fmt.Errorf("failed to create chat model: %w", err)
	}

	var speechToText repositories.SpeechToText
	if cfg.Speech.Recognition == config.RecognitionGoogle {
		speechToText = stt.NewGoogleSpeechToText(logger)
	}

	var textToSpeech repositories.TextToSpeech
	elevenLabs, err := tts.NewElevenLabsTTS(tts.NewElevenLabsConfigFromEnv(), logger)
	if err != nil {
		logger.Warn("Speech synthesis disabled", zap.Error(err))
	} else {
		textToSpeech = elevenLabs
	}

	// Initialize usecase services
	chatService := usecase.NewChatService(chatModel, m, logger)
	settingsService := usecase.NewSettingsService(cfg.Settings, logger)

	devices := adapters.NewMemoryDeviceRepository()
	if err := devices.Seed(ctx, cfg.Seeds()); err != nil {
		return err
	}
	if len(cfg.Devices) == 0 {
		logger.Warn("No devices configured, device authentication will always fail")
	}

	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	hub := websocket.NewHub(cfg.Device, websocket.Services{
		NewLiveManager: func(platform repositories.Platform, logger *zap.Logger) (*live.Manager, error) {
			return live.NewManager(liveConfig, platform, dialer, resolver, logger, live.WithMetrics(m))
		},
		STT:      speechToText,
		TTS:      textToSpeech,
		Settings: settingsService,
		Speech: usecase.SpeechConfig{
			Language:    cfg.Speech.Language,
			DefaultRate: cfg.Speech.Rate,
			Pitch:       cfg.Speech.Pitch,
		},
	}, m, logger)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, api.Dependencies{
		Hub:         hub,
		Devices:     devices,
		Tokens:      tokens,
		Chat:        chatService,
		Settings:    settingsService,
		Credentials: resolver,
		Metrics:     m,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Server started", zap.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newCredentialStore(ctx context.Context, cfg config.CredentialsConfig, logger *zap.Logger) (repositories.CredentialStore, func(), error) {
	switch cfg.Store {
	case config.StoreMongo:
		client, err := mongo.NewClient(ctx, cfg.Mongo, logger)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Close(closeCtx)
		}
		return mongo.NewCredentialStore(client.Database), closeFn, nil

	case config.StoreRedis:
		client, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		var opts []redis.Option
		if cfg.Redis.Prefix != "" {
			opts = append(opts, redis.WithPrefix(cfg.Redis.Prefix))
		}
		return redis.NewCredentialStore(client, opts...), func() { client.Close() }, nil

	default:
		store, err := filecreds.NewFileStore(cfg.File, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}
