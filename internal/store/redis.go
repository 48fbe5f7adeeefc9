package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// historyKeyPrefix namespaces conversation lists in Redis.
const historyKeyPrefix = "chat_history:"

// Compile-time check that RedisHistoryStore implements HistoryStore.
var _ HistoryStore = (*RedisHistoryStore)(nil)

// RedisHistoryStore keeps each session's history as a Redis list of JSON messages.
type RedisHistoryStore struct {
	client *redis.Client
	opts   Opts
}

// NewRedisHistoryStore connects using WithRedisURL and verifies the connection.
func NewRedisHistoryStore(ctx context.Context, opts ...Option) (*RedisHistoryStore, error) {
	cfg := applyOptions(opts)
	if cfg.DSN == "" {
		slog.Error("RedisHistoryStore URL not set")
		return nil, fmt.Errorf("redis URL not set")
	}
	redisOpts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err)
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Debug("RedisHistoryStore connected", "addr", redisOpts.Addr, "ttl", cfg.HistoryTTL)
	return &RedisHistoryStore{client: client, opts: cfg}, nil
}

func historyKey(sessionID string) string {
	return historyKeyPrefix + sessionID
}

func (s *RedisHistoryStore) History(ctx context.Context, sessionID string) ([]Message, error) {
	raw, err := s.client.LRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err != nil {
		slog.Error("RedisHistoryStore History failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("failed to decode history entry: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *RedisHistoryStore) AppendMessages(ctx context.Context, sessionID string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
		values = append(values, string(b))
	}

	key := historyKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	if s.opts.HistoryTTL > 0 {
		pipe.Expire(ctx, key, s.opts.HistoryTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisHistoryStore AppendMessages failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisHistoryStore) Close() error {
	return s.client.Close()
}
