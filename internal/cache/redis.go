package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis for multi-instance deployments behind a
// load balancer. Entries are stored as JSON under "<generation>:<request key>"
// so whole generations can be enumerated and swept by key prefix.
type RedisStore struct {
	cfg    Config
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg Config, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis cache connected", "prefix", cfg.Prefix, "version", cfg.Version)

	return &RedisStore{cfg: cfg, client: client}, nil
}

// Put stores a successful response in the current generation's partition.
func (s *RedisStore) Put(ctx context.Context, partition Partition, key string, resp *CachedResponse) error {
	if !resp.OK() {
		return nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	redisKey := s.cfg.Generation(partition).Name() + ":" + key
	if err := s.client.Set(ctx, redisKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Match searches core then runtime of the current generation pair.
func (s *RedisStore) Match(ctx context.Context, key string) (*CachedResponse, error) {
	for _, p := range []Partition{PartitionCore, PartitionRuntime} {
		resp, err := s.MatchPartition(ctx, p, key)
		if err == nil {
			return resp, nil
		}
		if err != ErrNotFound {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// MatchPartition searches one partition of the current generation.
func (s *RedisStore) MatchPartition(ctx context.Context, partition Partition, key string) (*CachedResponse, error) {
	redisKey := s.cfg.Generation(partition).Name() + ":" + key

	data, err := s.client.Get(ctx, redisKey).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var resp CachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, ErrNotFound
	}
	return &resp, nil
}

// DeleteAll removes every entry of the current generation's partition.
func (s *RedisStore) DeleteAll(ctx context.Context, partition Partition) error {
	return s.DeleteGeneration(ctx, s.cfg.Generation(partition).Name())
}

// ListGenerations scans the keyspace and returns the distinct generation
// identifiers under the configured prefix.
func (s *RedisStore) ListGenerations(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})

	iter := s.client.Scan(ctx, 0, s.cfg.Prefix+"-*", 0).Iterator()
	for iter.Next(ctx) {
		name, _, ok := strings.Cut(iter.Val(), ":")
		if ok {
			seen[name] = struct{}{}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan generations: %w", err)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names, nil
}

// DeleteGeneration removes every key belonging to the named generation.
func (s *RedisStore) DeleteGeneration(ctx context.Context, name string) error {
	iter := s.client.Scan(ctx, 0, name+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete cache entry: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan generation %s: %w", name, err)
	}
	return nil
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
