package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/totem-tech/messaging/internal/config"
)

// NewRedisClient creates a Redis client from config and verifies the
// connection.
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisStore persists one collection as a Redis hash plus a list that keeps
// insertion order. All clients of the same Redis see mutations immediately.
type RedisStore struct {
	client redis.Cmdable
	name   string
}

// Redis key layout per collection.
const (
	redisHashPrefix  = "coll:"
	redisOrderSuffix = ":order"
)

// setScript inserts or replaces a field, appending the key to the order list
// only when it is new. Atomic so concurrent writers cannot duplicate order
// entries.
var setScript = redis.NewScript(`
	local hashKey = KEYS[1]
	local orderKey = KEYS[2]
	local field = ARGV[1]
	local value = ARGV[2]

	if redis.call('HEXISTS', hashKey, field) == 0 then
		redis.call('RPUSH', orderKey, field)
	end
	redis.call('HSET', hashKey, field, value)
	return 1
`)

// delScript removes a field and its order entry.
var delScript = redis.NewScript(`
	local hashKey = KEYS[1]
	local orderKey = KEYS[2]
	local field = ARGV[1]

	redis.call('HDEL', hashKey, field)
	redis.call('LREM', orderKey, 1, field)
	return 1
`)

// NewRedisStore creates a store for the named collection.
func NewRedisStore(client redis.Cmdable, name string) *RedisStore {
	return &RedisStore{client: client, name: name}
}

// hashKey returns the Redis hash key for this collection.
func (s *RedisStore) hashKey() string {
	return redisHashPrefix + s.name
}

// orderKey returns the Redis list key tracking insertion order.
func (s *RedisStore) orderKey() string {
	return redisHashPrefix + s.name + redisOrderSuffix
}

// Get returns the value for key.
func (s *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	value, err := s.client.HGet(ctx, s.hashKey(), key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed for %s/%s: %w", s.name, key, err)
	}
	return json.RawMessage(value), true, nil
}

// Set inserts or replaces the value for key.
func (s *RedisStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	err := setScript.Run(ctx, s.client, []string{s.hashKey(), s.orderKey()}, key, string(value)).Err()
	if err != nil {
		return fmt.Errorf("redis set failed for %s/%s: %w", s.name, key, err)
	}
	return nil
}

// Delete removes the key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	err := delScript.Run(ctx, s.client, []string{s.hashKey(), s.orderKey()}, key).Err()
	if err != nil {
		return fmt.Errorf("redis delete failed for %s/%s: %w", s.name, key, err)
	}
	return nil
}

// GetAll returns all entries in insertion order.
func (s *RedisStore) GetAll(ctx context.Context) ([]Entry, error) {
	keys, err := s.client.LRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis order read failed for %s: %w", s.name, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, s.hashKey(), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis bulk read failed for %s: %w", s.name, err)
	}

	entries := make([]Entry, 0, len(keys))
	for i, key := range keys {
		value, ok := values[i].(string)
		if !ok {
			// Order entry without a hash field, skip.
			continue
		}
		entries = append(entries, Entry{Key: key, Value: json.RawMessage(value)})
	}
	return entries, nil
}

// Search returns entries matching the criteria.
func (s *RedisStore) Search(ctx context.Context, criteria map[string]string, opts SearchOptions) ([]Entry, error) {
	entries, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return searchEntries(entries, criteria, opts)
}

// Close is a no-op; the shared client is closed by its owner.
func (s *RedisStore) Close() error {
	return nil
}
