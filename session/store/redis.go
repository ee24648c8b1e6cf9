package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sweetpotato0/askdb/message"
	"github.com/sweetpotato0/askdb/session"
)

// RedisStore keeps each conversation as a Redis list of JSON-encoded messages.
type RedisStore struct {
	client      *redis.Client
	prefix      string
	ttl         time.Duration
	maxMessages int64
}

// RedisConfig holds Redis configuration for conversation histories.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	TTL         time.Duration
	MaxMessages int
}

// DefaultRedisConfig returns the default configuration.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "askdb:conversation:",
		TTL:    24 * time.Hour,
	}
}

// RedisConfigFromEnv loads Redis configuration from environment variables
func RedisConfigFromEnv() *RedisConfig {
	cfg := DefaultRedisConfig()
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Addr = v
	}
	cfg.Password = os.Getenv("REDIS_PASSWORD")
	if v, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		cfg.DB = v
	}
	if v := os.Getenv("REDIS_PREFIX"); v != "" {
		cfg.Prefix = v
	}
	if v, err := time.ParseDuration(os.Getenv("REDIS_TTL")); err == nil {
		cfg.TTL = v
	}
	return cfg
}

// NewRedisStore creates a new Redis-based history store.
func NewRedisStore(config *RedisConfig) *RedisStore {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return NewRedisStoreFromClient(client, config)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, config *RedisConfig) *RedisStore {
	if config == nil {
		config = DefaultRedisConfig()
	}
	return &RedisStore{
		client:      client,
		prefix:      config.Prefix,
		ttl:         config.TTL,
		maxMessages: int64(config.MaxMessages),
	}
}

// History loads a conversation from Redis.
func (s *RedisStore) History(ctx context.Context, conversationID string) ([]*message.Message, error) {
	raw, err := s.client.LRange(ctx, s.key(conversationID), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	msgs := make([]*message.Message, 0, len(raw))
	for _, item := range raw {
		var msg message.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}

// Append pushes messages and refreshes the conversation TTL in one pipeline.
func (s *RedisStore) Append(ctx context.Context, conversationID string, msgs ...*message.Message) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}
	if len(msgs) == 0 {
		return nil
	}

	values := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		raw, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values = append(values, raw)
	}

	key := s.key(conversationID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	if s.maxMessages > 0 {
		pipe.LTrim(ctx, key, -s.maxMessages, -1)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append conversation: %w", err)
	}
	return nil
}

// Clear removes a conversation from Redis.
func (s *RedisStore) Clear(ctx context.Context, conversationID string) error {
	if err := s.client.Del(ctx, s.key(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

var _ session.Store = (*RedisStore)(nil)
