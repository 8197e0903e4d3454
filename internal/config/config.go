// Package config loads the server configuration from .env, an optional YAML
// file named by CONFIG_FILE, and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/adapters/mongo"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/websocket"
)

// Credential store backends
const (
	StoreFile  = "file"
	StoreMongo = "mongo"
	StoreRedis = "redis"
)

// Speech recognition backends
const (
	RecognitionGoogle = "google"
	RecognitionNone   = "none"
)

// Config is the full server configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Devices     []DeviceSeed      `yaml:"devices"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Live        LiveConfig        `yaml:"live"`
	Chat        ChatConfig        `yaml:"chat"`
	Speech      SpeechConfig      `yaml:"speech"`
	Device      websocket.Config  `yaml:"device"`
	Settings    entities.Settings `yaml:"settings"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// DeviceSeed is a device allowed to authenticate
type DeviceSeed struct {
	ID           string `yaml:"id"`
	SerialNumber string `yaml:"serial_number"`
	SecretKey    string `yaml:"secret_key"`
	Model        string `yaml:"model"`
}

type CredentialsConfig struct {
	Store string       `yaml:"store"`
	File  string       `yaml:"file"`
	Mongo mongo.Config `yaml:"mongo"`
	Redis RedisConfig  `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type LiveConfig struct {
	Model         string `yaml:"model"`
	Voice         string `yaml:"voice"`
	ConnectPolicy string `yaml:"connect_policy"`
	KeepAlive     bool   `yaml:"keep_alive"`
}

type ChatConfig struct {
	Model       string   `yaml:"model"`
	Temperature *float32 `yaml:"temperature"`
}

type SpeechConfig struct {
	Recognition string  `yaml:"recognition"`
	Language    string  `yaml:"language"`
	Rate        float64 `yaml:"rate"`
	Pitch       float64 `yaml:"pitch"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Credentials: CredentialsConfig{
			Store: StoreFile,
			File:  "data/credentials.json",
		},
		Live: LiveConfig{
			KeepAlive: true,
		},
		Speech: SpeechConfig{
			Recognition: RecognitionGoogle,
		},
		Device:   websocket.DefaultConfig(),
		Settings: entities.DefaultSettings(),
		Log:      LogConfig{Level: "info"},
		Metrics:  MetricsConfig{Namespace: "biblia_responde"},
	}
}

// Load reads .env, CONFIG_FILE and the environment, then validates the result
func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", zap.Error(err))
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
		logger.Info("Loaded config file", zap.String("path", path))
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile merges a YAML file over the current values
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides values from environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("PORT", &c.Server.Port)
	dur("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	dur("TOKEN_TTL", &c.Auth.TokenTTL)

	str("CREDENTIAL_STORE", &c.Credentials.Store)
	str("CREDENTIAL_FILE", &c.Credentials.File)
	str("MONGODB_URI", &c.Credentials.Mongo.URI)
	str("MONGODB_DATABASE", &c.Credentials.Mongo.Database)
	str("REDIS_ADDR", &c.Credentials.Redis.Addr)
	str("REDIS_PASSWORD", &c.Credentials.Redis.Password)

	str("LIVE_MODEL", &c.Live.Model)
	str("LIVE_VOICE", &c.Live.Voice)
	str("LIVE_CONNECT_POLICY", &c.Live.ConnectPolicy)
	boolean("LIVE_KEEP_ALIVE", &c.Live.KeepAlive)
	str("CHAT_MODEL", &c.Chat.Model)
	str("SPEECH_RECOGNITION", &c.Speech.Recognition)

	str("LOG_LEVEL", &c.Log.Level)
	str("METRICS_NAMESPACE", &c.Metrics.Namespace)

	// a single device from the environment, handy for development
	var seed DeviceSeed
	str("DEVICE_SERIAL", &seed.SerialNumber)
	str("DEVICE_SECRET", &seed.SecretKey)
	if seed.SerialNumber != "" || seed.SecretKey != "" {
		c.Devices = append(c.Devices, seed)
	}

	return errors.Join(errs...)
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (JWT_SECRET) is required")
	}

	for i, d := range c.Devices {
		if d.SerialNumber == "" || d.SecretKey == "" {
			return fmt.Errorf("devices[%d]: serial_number and secret_key are required", i)
		}
	}

	switch c.Credentials.Store {
	case StoreFile:
		if c.Credentials.File == "" {
			return errors.New("credentials.file is required for the file store")
		}
	case StoreMongo:
	case StoreRedis:
		if c.Credentials.Redis.Addr == "" {
			return errors.New("credentials.redis.addr is required for the redis store")
		}
	default:
		return fmt.Errorf("credentials.store must be one of file, mongo, redis, got %q", c.Credentials.Store)
	}

	switch c.Speech.Recognition {
	case RecognitionGoogle, RecognitionNone:
	default:
		return fmt.Errorf("speech.recognition must be google or none, got %q", c.Speech.Recognition)
	}

	if err := c.Settings.Validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}

// Seeds converts the configured devices to entities
func (c *Config) Seeds() []entities.Device {
	devices := make([]entities.Device, 0, len(c.Devices))
	for _, d := range c.Devices {
		devices = append(devices, entities.Device{
			ID:           d.ID,
			SerialNumber: d.SerialNumber,
			SecretKey:    d.SecretKey,
			Model:        d.Model,
		})
	}
	return devices
}
