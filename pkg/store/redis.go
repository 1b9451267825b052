package store

import (
	"context"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"scholar/pkg/llm"
)

// farFuture is the index score used when records never expire.
const farFuture = 4102444800 // 2100-01-01

// RedisStore persists conversations in Redis: one JSON value per session
// plus a sorted-set index whose scores drive expiry-aware listing.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the expiration for stored conversations.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects to Redis and returns a store.
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient wraps an existing client; used by tests.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		prefix: "scholar:session:",
		ttl:    0, // No expiration by default
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisStore) key(sessionKey string) string {
	return s.prefix + sessionKey
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Load implements llm.HistoryStore. An unknown key yields (nil, nil).
func (s *RedisStore) Load(ctx context.Context, key string) (*llm.HistoryRecord, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get history from redis: %w", err)
	}

	var record llm.HistoryRecord
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return nil, fmt.Errorf("failed to parse history %s: %w", key, err)
	}
	return &record, nil
}

// Save implements llm.HistoryStore. Value write and index update run in one
// pipeline so the index never references a missing record for long.
func (s *RedisStore) Save(ctx context.Context, key string, record *llm.HistoryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal history %s: %w", key, err)
	}

	score := float64(farFuture)
	if s.ttl > 0 {
		score = float64(time.Now().Add(s.ttl).Unix())
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(key), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  score,
		Member: key,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save history to redis: %w", err)
	}
	return nil
}

// List implements llm.HistoryStore, newest first. Expired index entries are
// pruned lazily on each call.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
	}

	keys, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return keys, nil
}

// Delete implements llm.HistoryStore.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(key))
	pipe.ZRem(ctx, s.indexKey(), key)
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
