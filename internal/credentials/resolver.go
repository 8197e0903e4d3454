// Package credentials resolves the access key of the remote model.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

// StorageKey is the key the access key is persisted under
const StorageKey = "gemini_api_key"

// minKeyLength is the length a manually entered key must exceed
const minKeyLength = 10

// EnvKeys are checked in order before the store
var EnvKeys = []string{"GEMINI_API_KEY", "API_KEY"}

var (
	// ErrMissing means neither the environment nor the store holds a key
	ErrMissing = errors.New("access key not found")
	// ErrInvalidKey means a manually entered key was rejected
	ErrInvalidKey = errors.New("access key is too short")
)

// Source tells where a resolved key came from
type Source string

const (
	SourceNone  Source = ""
	SourceEnv   Source = "env"
	SourceStore Source = "store"
)

// Resolver looks the access key up in the environment, then in the store
type Resolver struct {
	store     repositories.CredentialStore
	logger    *zap.Logger
	lookupEnv func(string) (string, bool)
}

// NewResolver creates a resolver backed by store. A nil store only consults the environment.
func NewResolver(store repositories.CredentialStore, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:     store,
		logger:    logger,
		lookupEnv: os.LookupEnv,
	}
}

// Resolve returns the access key or ErrMissing
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	key, _, err := r.resolve(ctx)
	return key, err
}

// Source reports where the key would be resolved from
func (r *Resolver) Source(ctx context.Context) (Source, error) {
	_, source, err := r.resolve(ctx)
	if errors.Is(err, ErrMissing) {
		return SourceNone, nil
	}
	return source, err
}

func (r *Resolver) resolve(ctx context.Context) (string, Source, error) {
	for _, name := range EnvKeys {
		if value, ok := r.lookupEnv(name); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), SourceEnv, nil
		}
	}

	if r.store == nil {
		return "", SourceNone, ErrMissing
	}

	value, err := r.store.Get(ctx, StorageKey)
	if err != nil {
		if errors.Is(err, repositories.ErrCredentialNotFound) {
			return "", SourceNone, ErrMissing
		}
		return "", SourceNone, fmt.Errorf("failed to read stored access key: %w", err)
	}
	if value == "" {
		return "", SourceNone, ErrMissing
	}
	return value, SourceStore, nil
}

// Save validates a manually entered key and persists it
func (r *Resolver) Save(ctx context.Context, key string) error {
	key, err := ValidateManualKey(key)
	if err != nil {
		return err
	}
	if r.store == nil {
		return fmt.Errorf("no credential store configured")
	}
	if err := r.store.Set(ctx, StorageKey, key); err != nil {
		return fmt.Errorf("failed to store access key: %w", err)
	}
	r.logger.Info("Access key stored")
	return nil
}

// Clear removes the persisted key
func (r *Resolver) Clear(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.Delete(ctx, StorageKey); err != nil && !errors.Is(err, repositories.ErrCredentialNotFound) {
		return fmt.Errorf("failed to delete access key: %w", err)
	}
	r.logger.Info("Access key cleared")
	return nil
}

// ValidateManualKey trims key and requires it to be longer than ten characters
func ValidateManualKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if len(key) <= minKeyLength {
		return "", ErrInvalidKey
	}
	return key, nil
}

// UserMessage returns the pt-BR message for a rejected key
func UserMessage(err error) string {
	if errors.Is(err, ErrInvalidKey) {
		return "Por favor, insira uma chave API válida."
	}
	if errors.Is(err, ErrMissing) {
		return "Chave API não encontrada."
	}
	return ""
}
