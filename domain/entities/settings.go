package entities

import "fmt"

// FontSize is the reading size preference
type FontSize string

const (
	FontSizeSmall  FontSize = "small"
	FontSizeMedium FontSize = "medium"
	FontSizeLarge  FontSize = "large"
)

// Voice speed presets offered by the settings screen
const (
	VoiceSpeedSlow   = 0.8
	VoiceSpeedNormal = 1.0
	VoiceSpeedFast   = 1.2
)

// Settings holds process-wide user preferences
type Settings struct {
	FontSize     FontSize `json:"fontSize" yaml:"font_size"`
	VoiceSpeed   float64  `json:"voiceSpeed" yaml:"voice_speed"`
	HighContrast bool     `json:"highContrast" yaml:"high_contrast"`
	VoiceEnabled bool     `json:"voiceEnabled" yaml:"voice_enabled"`
}

// DefaultSettings returns the preferences tuned for elderly readers
func DefaultSettings() Settings {
	return Settings{
		FontSize:     FontSizeLarge,
		VoiceSpeed:   VoiceSpeedSlow,
		HighContrast: false,
		VoiceEnabled: true,
	}
}

func (s *Settings) Validate() error {
	switch s.FontSize {
	case FontSizeSmall, FontSizeMedium, FontSizeLarge:
	default:
		return fmt.Errorf("font size must be one of small, medium, large, got %q", s.FontSize)
	}
	if s.VoiceSpeed <= 0 {
		return fmt.Errorf("voice speed must be positive, got %f", s.VoiceSpeed)
	}
	return nil
}
