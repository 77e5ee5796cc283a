package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/formflow/model"
)

// RedisStateStore is a Redis-backed StateStore. Each session is one JSON
// value; updates use WATCH/MULTI so a concurrent writer surfaces as CONFLICT.
type RedisStateStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStateStore creates a new Redis-backed state store. A zero ttl keeps
// sessions until they are deleted.
func NewRedisStateStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStateStore {
	if prefix == "" {
		prefix = "formflow:session:"
	}
	return &RedisStateStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStateStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Create persists a new session state.
func (s *RedisStateStore) Create(ctx context.Context, state model.FlowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(state.SessionID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %q: %w", s.key(state.SessionID), err)
	}
	if !ok {
		return model.NewConflictError(fmt.Sprintf("session %q already exists", state.SessionID))
	}
	return nil
}

// Get retrieves a session state.
func (s *RedisStateStore) Get(ctx context.Context, sessionID string) (model.FlowState, error) {
	return s.get(ctx, s.client, sessionID)
}

func (s *RedisStateStore) get(ctx context.Context, c redis.Cmdable, sessionID string) (model.FlowState, error) {
	raw, err := c.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.FlowState{}, model.NewNotFoundError(fmt.Sprintf("session %q not found", sessionID))
	}
	if err != nil {
		return model.FlowState{}, fmt.Errorf("redis get %q: %w", s.key(sessionID), err)
	}
	var state model.FlowState
	if err := json.Unmarshal(raw, &state); err != nil {
		return model.FlowState{}, fmt.Errorf("unmarshal state %q: %w", sessionID, err)
	}
	return state, nil
}

// Update persists an updated state with optimistic locking.
func (s *RedisStateStore) Update(ctx context.Context, state model.FlowState) error {
	key := s.key(state.SessionID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := s.get(ctx, tx, state.SessionID)
		if err != nil {
			return err
		}
		if existing.Version != state.Version {
			return model.NewConflictError(
				fmt.Sprintf("session %q version conflict (expected %d, got %d)", state.SessionID, state.Version, existing.Version),
			)
		}

		stored := state
		stored.Version++
		stored.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshal state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return model.NewConflictError(fmt.Sprintf("session %q was modified concurrently", state.SessionID))
	}
	return err
}

// Delete removes a session state.
func (s *RedisStateStore) Delete(ctx context.Context, sessionID string) error {
	n, err := s.client.Del(ctx, s.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("redis del %q: %w", s.key(sessionID), err)
	}
	if n == 0 {
		return model.NewNotFoundError(fmt.Sprintf("session %q not found", sessionID))
	}
	return nil
}
