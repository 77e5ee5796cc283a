package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/formflow/model"
)

// RedisMirror mirrors submissions into a Redis cache, one key per path.
type RedisMirror struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisMirror creates a Redis mirror. A zero ttl keeps entries until they
// are removed.
func NewRedisMirror(client redis.Cmdable, prefix string, ttl time.Duration) *RedisMirror {
	if prefix == "" {
		prefix = "formflow:mirror:"
	}
	return &RedisMirror{client: client, prefix: prefix, ttl: ttl}
}

// Name implements Mirror.
func (m *RedisMirror) Name() string { return "redis" }

// Put implements Mirror.
func (m *RedisMirror) Put(ctx context.Context, p string, data []byte) error {
	if err := m.client.Set(ctx, m.prefix+p, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", m.prefix+p, err)
	}
	return nil
}

// Get implements Mirror.
func (m *RedisMirror) Get(ctx context.Context, p string) ([]byte, error) {
	data, err := m.client.Get(ctx, m.prefix+p).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.NewNotFoundError(fmt.Sprintf("mirror entry %q not found", p))
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", m.prefix+p, err)
	}
	return data, nil
}

// Remove implements Mirror.
func (m *RedisMirror) Remove(ctx context.Context, p string) error {
	if err := m.client.Del(ctx, m.prefix+p).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", m.prefix+p, err)
	}
	return nil
}
