package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mnemo-ai/mnemo/internal/config"
)

// ErrMiss is returned by GetJSON when the key is absent or has expired.
var ErrMiss = errors.New("cache miss")

// Key conventions shared across the memory pipeline.
func ConversationMessagesKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:messages", conversationID)
}

func UserMemoryKey(userID string) string {
	return fmt.Sprintf("user:%s:memory_cache", userID)
}

// Cache is a TTL'd JSON document cache on Redis. A broken or unreachable
// Redis is never fatal: reads degrade to misses and writes to no-ops, with
// the failure logged. Durable stores stay the source of truth.
type Cache struct {
	client *redis.Client
}

func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	slog.Info("connected to Redis", "addr", cfg.Addr())
	return client, nil
}

func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// SetJSON stores value as a JSON document under key with the given TTL.
// A zero TTL stores without expiry.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling cache value for %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		slog.Warn("cache set failed", "key", key, "error", err)
		return nil
	}
	return nil
}

// GetJSON loads the JSON document under key into dest. Returns ErrMiss if
// the key is absent; Redis failures are logged and also reported as a miss.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		slog.Warn("cache get failed", "key", key, "error", err)
		return ErrMiss
	}
	if err := json.Unmarshal(data, dest); err != nil {
		// A corrupt entry is as good as no entry.
		slog.Warn("cache entry corrupt, dropping", "key", key, "error", err)
		_ = c.client.Del(ctx, key).Err()
		return ErrMiss
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		slog.Warn("cache delete failed", "key", key, "error", err)
	}
	return nil
}

// Exists reports whether key is present.
func (c *Cache) Exists(ctx context.Context, key string) bool {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		slog.Warn("cache exists failed", "key", key, "error", err)
		return false
	}
	return n > 0
}

// InvalidateUserMemories drops the owner's memory-list cache entry. Callers
// must invoke this only after the durable write has committed, so a
// concurrent reader cannot repopulate the cache from stale state.
func (c *Cache) InvalidateUserMemories(ctx context.Context, userID string) {
	_ = c.Delete(ctx, UserMemoryKey(userID))
}

// InvalidateConversation drops the conversation's message window entry.
func (c *Cache) InvalidateConversation(ctx context.Context, conversationID string) {
	_ = c.Delete(ctx, ConversationMessagesKey(conversationID))
}
