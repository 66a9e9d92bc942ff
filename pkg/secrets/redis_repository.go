package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "twofa:secret:"

// RedisSecretRepository implements SecretRepository on Redis. Each
// record is stored as a JSON blob under one key, so every Put replaces
// the whole record atomically.
type RedisSecretRepository struct {
	client redis.UniversalClient
}

// NewRedisSecretRepository creates a Redis-backed secret repository.
func NewRedisSecretRepository(client redis.UniversalClient) *RedisSecretRepository {
	return &RedisSecretRepository{client: client}
}

func redisKey(key Key) string {
	return redisKeyPrefix + key.AccountID + ":" + key.Provider
}

func (r *RedisSecretRepository) Get(ctx context.Context, key Key) (SecretRecord, error) {
	data, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return SecretRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return SecretRecord{}, fmt.Errorf("failed to get secret record: %w", err)
	}

	var record SecretRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return SecretRecord{}, fmt.Errorf("failed to unmarshal secret record: %w", err)
	}
	return record, nil
}

func (r *RedisSecretRepository) Put(ctx context.Context, record SecretRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal secret record: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(record.Key()), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to put secret record: %w", err)
	}
	return nil
}

func (r *RedisSecretRepository) Delete(ctx context.Context, key Key) error {
	deleted, err := r.client.Del(ctx, redisKey(key)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete secret record: %w", err)
	}
	if deleted == 0 {
		return ErrRecordNotFound
	}
	return nil
}
