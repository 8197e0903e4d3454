package adapters

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/entities"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

var (
	ErrDeviceNotFound      = errors.New("device not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrDuplicateSerial     = errors.New("device with this serial number already exists")
	errDeviceSerialMissing = errors.New("serial number cannot be empty")
	errDeviceSecretMissing = errors.New("secret key cannot be empty")
)

// MemoryDeviceRepository keeps paired devices in memory. Devices are seeded
// from configuration at startup.
type MemoryDeviceRepository struct {
	mu      sync.RWMutex
	devices map[string]*entities.Device // id -> device mapping
	serials map[string]*entities.Device // serial_number -> device mapping
}

var _ repositories.DeviceRepository = (*MemoryDeviceRepository)(nil)

// NewMemoryDeviceRepository creates a new in-memory device repository
func NewMemoryDeviceRepository() *MemoryDeviceRepository {
	return &MemoryDeviceRepository{
		devices: make(map[string]*entities.Device),
		serials: make(map[string]*entities.Device),
	}
}

// Seed registers devices, stopping at the first invalid or duplicate one
func (m *MemoryDeviceRepository) Seed(ctx context.Context, devices []entities.Device) error {
	for i := range devices {
		device := devices[i]
		if err := m.Create(ctx, &device); err != nil {
			return fmt.Errorf("failed to seed device %q: %w", device.SerialNumber, err)
		}
	}
	return nil
}

// ValidateDevice validates device credentials (serial number + secret)
// This method is used for device authentication
func (m *MemoryDeviceRepository) ValidateDevice(serialNumber, secret string) (*entities.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	device, exists := m.serials[serialNumber]
	if !exists {
		return nil, ErrDeviceNotFound
	}
	if subtle.ConstantTimeCompare([]byte(device.SecretKey), []byte(secret)) != 1 {
		return nil, ErrInvalidCredentials
	}

	deviceCopy := *device
	return &deviceCopy, nil
}

// Create implements DeviceRepository interface
func (m *MemoryDeviceRepository) Create(ctx context.Context, device *entities.Device) error {
	if device == nil {
		return errors.New("device cannot be nil")
	}
	if device.SerialNumber == "" {
		return errDeviceSerialMissing
	}
	if device.SecretKey == "" {
		return errDeviceSecretMissing
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.serials[device.SerialNumber]; exists {
		return ErrDuplicateSerial
	}

	// Generate ID if not provided
	if device.ID == "" {
		device.ID = uuid.New().String()
	}

	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	deviceCopy := *device
	m.devices[device.ID] = &deviceCopy
	m.serials[device.SerialNumber] = &deviceCopy
	return nil
}

// GetByID implements DeviceRepository interface
func (m *MemoryDeviceRepository) GetByID(ctx context.Context, id string) (*entities.Device, error) {
	if id == "" {
		return nil, errors.New("device ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	device, exists := m.devices[id]
	if !exists {
		return nil, ErrDeviceNotFound
	}

	// Return a copy to prevent external modifications
	deviceCopy := *device
	return &deviceCopy, nil
}

// Count returns the number of registered devices
func (m *MemoryDeviceRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}
