package live

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/audio"
)

// ConnectPolicy decides what Connect does while a session is active
type ConnectPolicy string

const (
	// ConnectPolicyReplace tears down the active session before connecting
	ConnectPolicyReplace ConnectPolicy = "replace"
	// ConnectPolicyReject refuses to connect with ErrSessionActive
	ConnectPolicyReject ConnectPolicy = "reject"
)

const (
	DefaultModel                   = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoiceName               = "Kore"
	DefaultVisibilityCheckInterval = 5 * time.Second
	DefaultKeepAliveVolume         = 0.01
	DefaultAnalyserFFTSize         = audio.DefaultFFTSize
)

// Config holds the live session configuration
type Config struct {
	Model             string
	VoiceName         string
	SystemInstruction string

	// InputSampleRate is the rate the remote model expects microphone audio at
	InputSampleRate int
	// OutputSampleRate is the rate of model audio
	OutputSampleRate int
	// FrameSize is the number of captured samples per transmitted frame
	FrameSize int

	// InputResampling downsamples captured audio to InputSampleRate. When
	// disabled the device is expected to capture at InputSampleRate.
	InputResampling bool
	// KeepAliveEnabled plays a silent looped clip while connected
	KeepAliveEnabled bool
	KeepAliveVolume  float64
	// VisibilityRecovery resumes suspended contexts and re-requests the wake
	// lock when the client returns to the foreground
	VisibilityRecovery      bool
	VisibilityCheckInterval time.Duration

	AnalyserFFTSize int
	ConnectPolicy   ConnectPolicy
}

// DefaultConfig returns the configuration used by the mobile client
func DefaultConfig() Config {
	return Config{
		Model:                   DefaultModel,
		VoiceName:               DefaultVoiceName,
		InputSampleRate:         audio.SampleRate16kHz,
		OutputSampleRate:        audio.SampleRate24kHz,
		FrameSize:               audio.DefaultFrameSize,
		InputResampling:         true,
		KeepAliveEnabled:        true,
		KeepAliveVolume:         DefaultKeepAliveVolume,
		VisibilityRecovery:      true,
		VisibilityCheckInterval: DefaultVisibilityCheckInterval,
		AnalyserFFTSize:         DefaultAnalyserFFTSize,
		ConnectPolicy:           ConnectPolicyReplace,
	}
}

// ValidateConfig validates the live configuration and fills defaults
func ValidateConfig(config *Config, logger *zap.Logger) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	defaults := DefaultConfig()

	if config.Model == "" {
		config.Model = defaults.Model
		logger.Info("Using default live model", zap.String("model", config.Model))
	}
	if config.VoiceName == "" {
		config.VoiceName = defaults.VoiceName
		logger.Info("Using default voice", zap.String("voice", config.VoiceName))
	}
	if config.InputSampleRate <= 0 {
		config.InputSampleRate = defaults.InputSampleRate
	}
	if config.OutputSampleRate <= 0 {
		config.OutputSampleRate = defaults.OutputSampleRate
	}
	if config.FrameSize <= 0 {
		config.FrameSize = defaults.FrameSize
	}
	if config.KeepAliveVolume <= 0 {
		config.KeepAliveVolume = defaults.KeepAliveVolume
	}
	if config.KeepAliveVolume > 1 {
		return fmt.Errorf("keep-alive volume must be at most 1, got %v", config.KeepAliveVolume)
	}
	if config.VisibilityCheckInterval <= 0 {
		config.VisibilityCheckInterval = defaults.VisibilityCheckInterval
	}
	if config.AnalyserFFTSize <= 0 {
		config.AnalyserFFTSize = defaults.AnalyserFFTSize
	}

	switch config.ConnectPolicy {
	case "":
		config.ConnectPolicy = defaults.ConnectPolicy
	case ConnectPolicyReplace, ConnectPolicyReject:
	default:
		return fmt.Errorf("unsupported connect policy: %s", config.ConnectPolicy)
	}

	return nil
}

// NewConfigFromEnv creates a live configuration from environment variables
func NewConfigFromEnv() Config {
	config := DefaultConfig()
	config.Model = getEnvOrDefault("LIVE_MODEL", config.Model)
	config.VoiceName = getEnvOrDefault("LIVE_VOICE", config.VoiceName)
	config.ConnectPolicy = ConnectPolicy(getEnvOrDefault("LIVE_CONNECT_POLICY", string(config.ConnectPolicy)))
	config.KeepAliveEnabled = getEnvBool("LIVE_KEEP_ALIVE", config.KeepAliveEnabled)
	config.InputResampling = getEnvBool("LIVE_INPUT_RESAMPLING", config.InputResampling)
	config.VisibilityRecovery = getEnvBool("LIVE_VISIBILITY_RECOVERY", config.VisibilityRecovery)
	return config
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
