package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient wraps redis.Client
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(host, port, password string) *RedisClient {
	addr := fmt.Sprintf("%s:%s", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0, // use default DB
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️  Failed to connect to Redis at %s: %v", addr, err)
		return nil
	}

	log.Printf("✅ Connected to Redis at %s", addr)
	return &RedisClient{client: client}
}

// Set stores a value in Redis with expiration
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("redis client not initialized")
	}

	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, key, jsonBytes, expiration).Err()
}

// Get retrieves a value from Redis
func (r *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("redis client not initialized")
	}

	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(val), dest)
}

// SetNX stores a raw string value only if the key does not already exist.
// Returns true when the key was set.
func (r *RedisClient) SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("redis client not initialized")
	}
	return r.client.SetNX(ctx, key, value, expiration).Result()
}

// Eval runs a Lua script against the given keys
func (r *RedisClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("redis client not initialized")
	}
	return r.client.Eval(ctx, script, keys, args...).Result()
}

// IncrBy increments a counter key by delta, setting the expiration when the
// key is first created
func (r *RedisClient) IncrBy(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("redis client not initialized")
	}

	count, err := r.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, err
	}
	if count == delta && expiration > 0 {
		_ = r.client.Expire(ctx, key, expiration).Err()
	}
	return count, nil
}

// ScanPrefix returns all keys matching the given prefix
func (r *RedisClient) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("redis client not initialized")
	}

	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// Delete removes a key from Redis
func (r *RedisClient) Delete(ctx context.Context, key string) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return r.client.Del(ctx, key).Err()
}

// Exists checks if a key exists in Redis
func (r *RedisClient) Exists(ctx context.Context, key string) bool {
	if r == nil || r.client == nil {
		return false
	}

	result, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false
	}

	return result > 0
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	if r != nil && r.client != nil {
		return r.client.Close()
	}
	return nil
}
