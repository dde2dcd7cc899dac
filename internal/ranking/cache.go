package ranking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keys for the published rankings.
const (
	RankingsKey        = "of:rankings"
	RankingsStagingKey = "of:rankings:staging"
)

// RecordStore is the fast read-path surface for ranking records. The staging
// operations back the full-publish atomic swap.
type RecordStore interface {
	// Put overwrites one entry's live record (targeted publish).
	Put(ctx context.Context, entryID int64, rec *Record) error

	// Get loads one entry's live record. Missing entries yield (nil, nil).
	Get(ctx context.Context, entryID int64) (*Record, error)

	// GetMulti loads the live records for the given entries. Missing entries
	// are absent from the result.
	GetMulti(ctx context.Context, entryIDs []int64) (map[int64]*Record, error)

	// ClearStaging deletes the staging location.
	ClearStaging(ctx context.Context) error

	// PutStaging writes records into the staging location and applies the TTL.
	PutStaging(ctx context.Context, records map[int64]*Record, ttl time.Duration) error

	// Promote atomically renames the staging location over the live one.
	// On failure the previous live data stays intact.
	Promote(ctx context.Context) error

	// PurgePattern deletes all keys matching the pattern and returns how
	// many were removed. Used to invalidate derived listing caches.
	PurgePattern(ctx context.Context, pattern string) (int64, error)
}

// RedisRecordStore implements RecordStore on redis hashes.
type RedisRecordStore struct {
	client *redis.Client
}

// NewRedisRecordStore creates a new RedisRecordStore.
func NewRedisRecordStore(client *redis.Client) *RedisRecordStore {
	return &RedisRecordStore{client: client}
}

// Put overwrites one entry's live record.
func (s *RedisRecordStore) Put(ctx context.Context, entryID int64, rec *Record) error {
	raw, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, RankingsKey, strconv.FormatInt(entryID, 10), raw).Err(); err != nil {
		return fmt.Errorf("failed to write ranking record for entry %d: %w", entryID, err)
	}
	return nil
}

// Get loads one entry's live record.
func (s *RedisRecordStore) Get(ctx context.Context, entryID int64) (*Record, error) {
	raw, err := s.client.HGet(ctx, RankingsKey, strconv.FormatInt(entryID, 10)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ranking record for entry %d: %w", entryID, err)
	}
	return DecodeRecord([]byte(raw))
}

// GetMulti loads the live records for the given entries.
func (s *RedisRecordStore) GetMulti(ctx context.Context, entryIDs []int64) (map[int64]*Record, error) {
	if len(entryIDs) == 0 {
		return map[int64]*Record{}, nil
	}

	fields := make([]string, len(entryIDs))
	for i, id := range entryIDs {
		fields[i] = strconv.FormatInt(id, 10)
	}
	values, err := s.client.HMGet(ctx, RankingsKey, fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ranking records: %w", err)
	}

	records := make(map[int64]*Record, len(entryIDs))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		rec, err := DecodeRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		records[entryIDs[i]] = rec
	}
	return records, nil
}

// ClearStaging deletes the staging location.
func (s *RedisRecordStore) ClearStaging(ctx context.Context) error {
	if err := s.client.Del(ctx, RankingsStagingKey).Err(); err != nil {
		return fmt.Errorf("failed to clear ranking staging: %w", err)
	}
	return nil
}

// PutStaging writes records into the staging location and applies the TTL.
// The TTL survives the later rename onto the live key.
func (s *RedisRecordStore) PutStaging(ctx context.Context, records map[int64]*Record, ttl time.Duration) error {
	if len(records) == 0 {
		return nil
	}

	encoded := make(map[string]interface{}, len(records))
	for entryID, rec := range records {
		raw, err := EncodeRecord(rec)
		if err != nil {
			return err
		}
		encoded[strconv.FormatInt(entryID, 10)] = raw
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, RankingsStagingKey, encoded)
	pipe.Expire(ctx, RankingsStagingKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to stage ranking records: %w", err)
	}
	return nil
}

// Promote atomically renames the staging location over the live one.
func (s *RedisRecordStore) Promote(ctx context.Context) error {
	if err := s.client.Rename(ctx, RankingsStagingKey, RankingsKey).Err(); err != nil {
		return fmt.Errorf("failed to promote staged rankings: %w", err)
	}
	return nil
}

// PurgePattern deletes all keys matching the pattern.
func (s *RedisRecordStore) PurgePattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("failed to purge key %s: %w", iter.Val(), err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan for pattern %s: %w", pattern, err)
	}
	return deleted, nil
}
