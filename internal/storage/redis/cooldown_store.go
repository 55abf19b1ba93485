// Package redis keeps source cooldowns in Redis so several pipeline
// instances share them.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// CooldownStore stores last-run timestamps in one Redis hash.
type CooldownStore struct {
	client *goredis.Client
	key    string
}

// New connects to Redis and verifies it with a ping.
func New(ctx context.Context, cfg Config) (*CooldownStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, prefix string) *CooldownStore {
	if prefix == "" {
		prefix = "regalert:"
	}
	return &CooldownStore{client: client, key: prefix + "cooldowns"}
}

// LastRun returns the last recorded run for a source.
func (s *CooldownStore) LastRun(ctx context.Context, sourceID string) (time.Time, bool, error) {
	value, err := s.client.HGet(ctx, s.key, sourceID).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("read cooldown %q: %w", sourceID, err)
	}
	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode cooldown %q: %w", sourceID, err)
	}
	return at.UTC(), true, nil
}

// MarkRun records a run.
func (s *CooldownStore) MarkRun(ctx context.Context, sourceID string, at time.Time) error {
	if err := s.client.HSet(ctx, s.key, sourceID, at.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("mark cooldown %q: %w", sourceID, err)
	}
	return nil
}

// Reset clears the given sources, or every source when none are named.
func (s *CooldownStore) Reset(ctx context.Context, sourceIDs ...string) error {
	var err error
	if len(sourceIDs) == 0 {
		err = s.client.Del(ctx, s.key).Err()
	} else {
		err = s.client.HDel(ctx, s.key, sourceIDs...).Err()
	}
	if err != nil {
		return fmt.Errorf("reset cooldowns: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *CooldownStore) Close() error {
	return s.client.Close()
}
