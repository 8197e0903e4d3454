package repositories

import (
	"context"
	"errors"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
)

// ErrCredentialNotFound is returned when no value is stored under a key
var ErrCredentialNotFound = errors.New("credential not found")

// CredentialStore persists string credentials under well-known keys
type CredentialStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// DeviceRepository defines data access methods for devices
type DeviceRepository interface {
	Create(ctx context.Context, device *entities.Device) error
	GetByID(ctx context.Context, id string) (*entities.Device, error)
	// ValidateDevice validates device credentials for authentication
	ValidateDevice(serialNumber, secret string) (*entities.Device, error)
}
