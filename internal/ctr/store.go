package ctr

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StagedKey is the cache hash holding staged click/impression events.
const StagedKey = "ctr:events"

// EventStore is the fast-cache surface used by the stager and the migrator.
// Values are session maps keyed first by composite key, then by session id.
type EventStore interface {
	// GetSessions loads the session map staged under one composite key.
	// A missing key yields a nil map and no error.
	GetSessions(ctx context.Context, key string) (map[string]SessionLog, error)

	// PutSessions overwrites the session map staged under one composite key.
	PutSessions(ctx context.Context, key string, sessions map[string]SessionLog) error

	// All loads the entire staged hash.
	All(ctx context.Context) (map[string]map[string]SessionLog, error)

	// Replace atomically swaps the staged hash for the retained events and
	// refreshes the TTL. An empty retained set just deletes the hash.
	Replace(ctx context.Context, retained map[string]map[string]SessionLog, ttl time.Duration) error
}

// RedisEventStore implements EventStore on a redis hash.
type RedisEventStore struct {
	client *redis.Client
}

// NewRedisEventStore creates a new RedisEventStore.
func NewRedisEventStore(client *redis.Client) *RedisEventStore {
	return &RedisEventStore{client: client}
}

// GetSessions loads the session map staged under one composite key.
func (s *RedisEventStore) GetSessions(ctx context.Context, key string) (map[string]SessionLog, error) {
	raw, err := s.client.HGet(ctx, StagedKey, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read staged key %s: %w", key, err)
	}

	var sessions map[string]SessionLog
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode staged key %s: %w", key, err)
	}
	return sessions, nil
}

// PutSessions overwrites the session map staged under one composite key.
func (s *RedisEventStore) PutSessions(ctx context.Context, key string, sessions map[string]SessionLog) error {
	raw, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("failed to encode staged key %s: %w", key, err)
	}
	if err := s.client.HSet(ctx, StagedKey, key, raw).Err(); err != nil {
		return fmt.Errorf("failed to write staged key %s: %w", key, err)
	}
	return nil
}

// All loads the entire staged hash.
func (s *RedisEventStore) All(ctx context.Context) (map[string]map[string]SessionLog, error) {
	fields, err := s.client.HGetAll(ctx, StagedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read staged events: %w", err)
	}

	all := make(map[string]map[string]SessionLog, len(fields))
	for key, raw := range fields {
		var sessions map[string]SessionLog
		if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
			return nil, fmt.Errorf("failed to decode staged key %s: %w", key, err)
		}
		all[key] = sessions
	}
	return all, nil
}

// Replace swaps the staged hash for the retained events. The delete and the
// rewrite run in one pipeline; events staged by concurrent writers in that
// window are lost, which the migration design accepts.
func (s *RedisEventStore) Replace(ctx context.Context, retained map[string]map[string]SessionLog, ttl time.Duration) error {
	encoded := make(map[string]interface{}, len(retained))
	for key, sessions := range retained {
		raw, err := json.Marshal(sessions)
		if err != nil {
			return fmt.Errorf("failed to encode staged key %s: %w", key, err)
		}
		encoded[key] = raw
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, StagedKey)
	if len(encoded) > 0 {
		pipe.HSet(ctx, StagedKey, encoded)
		pipe.Expire(ctx, StagedKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to replace staged events: %w", err)
	}
	return nil
}
