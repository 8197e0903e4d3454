package usecase

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
)

// SettingsService holds the process-wide user preferences
type SettingsService struct {
	mu       sync.RWMutex
	settings entities.Settings
	logger   *zap.Logger
}

// NewSettingsService creates a settings service seeded with initial.
// Invalid initial settings fall back to the defaults.
func NewSettingsService(initial entities.Settings, logger *zap.Logger) *SettingsService {
	if err := initial.Validate(); err != nil {
		logger.Warn("Using default settings", zap.Error(err))
		initial = entities.DefaultSettings()
	}
	return &SettingsService{settings: initial, logger: logger}
}

// Get returns the current settings
func (s *SettingsService) Get() entities.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update validates and replaces the settings
func (s *SettingsService) Update(settings entities.Settings) (entities.Settings, error) {
	if err := settings.Validate(); err != nil {
		return entities.Settings{}, fmt.Errorf("invalid settings: %w", err)
	}

	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()

	s.logger.Info("Settings updated",
		zap.String("fontSize", string(settings.FontSize)),
		zap.Float64("voiceSpeed", settings.VoiceSpeed),
		zap.Bool("highContrast", settings.HighContrast),
		zap.Bool("voiceEnabled", settings.VoiceEnabled))
	return settings, nil
}
