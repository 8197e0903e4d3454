// Package redis stores credentials in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

// DefaultPrefix namespaces credential keys
const DefaultPrefix = "biblia-responde"

// CredentialStore keeps each credential as a plain string value under prefix:credential:key
type CredentialStore struct {
	client *redis.Client
	prefix string
}

var _ repositories.CredentialStore = (*CredentialStore)(nil)

// Option configures a CredentialStore.
type Option func(*CredentialStore)

// WithPrefix sets the key prefix for Redis keys.
func WithPrefix(prefix string) Option {
	return func(s *CredentialStore) {
		s.prefix = prefix
	}
}

// NewCredentialStore creates a Redis-backed credential store
func NewCredentialStore(client *redis.Client, opts ...Option) *CredentialStore {
	store := &CredentialStore{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// NewClient connects to addr and verifies the connection
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (s *CredentialStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", repositories.ErrCredentialNotFound
		}
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return value, nil
}

func (s *CredentialStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *CredentialStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (s *CredentialStore) key(key string) string {
	return s.prefix + ":credential:" + key
}
