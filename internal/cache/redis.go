package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Cache on a Redis backend. Capacity bounds are
// delegated to the server; TTL uses native key expiry.
type Redis struct {
	client *redis.Client
	prefix string

	hits   int64
	misses int64
	puts   int64

	ttl          time.Duration
	modelVersion string
}

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	Prefix       string
	TTL          time.Duration
	ModelVersion string
}

// NewRedis creates a Redis-backed response cache and verifies the
// connection.
func NewRedis(config *RedisConfig) (*Redis, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		MaxRetries: config.MaxRetries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := config.Prefix
	if prefix == "" {
		prefix = "secscore"
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Redis{
		client:       client,
		prefix:       prefix,
		ttl:          ttl,
		modelVersion: config.ModelVersion,
	}, nil
}

func (c *Redis) makeKey(key string) string {
	return c.prefix + ":" + key
}

// Get retrieves a cached value, rewriting a stale model version tag
// before returning. Redis errors are treated as misses.
func (c *Redis) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	redisKey := c.makeKey(key)

	data, err := c.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Corrupted entry: drop and report a miss.
		_ = c.client.Del(ctx, redisKey)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	if env.ModelVersion != c.modelVersion {
		env.Value = rewriteModelVersion(env.Value, c.modelVersion)
		env.ModelVersion = c.modelVersion
		if updated, err := json.Marshal(env); err == nil {
			if ttl, err := c.client.TTL(ctx, redisKey).Result(); err == nil && ttl > 0 {
				_ = c.client.Set(ctx, redisKey, updated, ttl).Err()
			}
		}
	}

	atomic.AddInt64(&c.hits, 1)
	return env.Value, true
}

// Put stores a value with the configured TTL.
func (c *Redis) Put(ctx context.Context, key string, value json.RawMessage) error {
	data, err := json.Marshal(envelope{Value: value, ModelVersion: c.modelVersion})
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}

	if err := c.client.Set(ctx, c.makeKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	atomic.AddInt64(&c.puts, 1)
	return nil
}

// Delete removes a cached value.
func (c *Redis) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.makeKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Stats returns cache statistics. Size is not tracked for the Redis
// backend.
func (c *Redis) Stats() *Stats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return &Stats{
		Hits:    hits,
		Misses:  misses,
		Puts:    atomic.LoadInt64(&c.puts),
		HitRate: hitRate,
	}
}

// Close closes the Redis connection.
func (c *Redis) Close() error {
	return c.client.Close()
}
