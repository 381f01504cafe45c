package redis

import (
	"context"
	"fmt"

	log "log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sharedcode/mutbox"
)

// Storage implements mutbox.StorageAdapter over a Redis connection: the
// Outbox's tx: envelopes are stored as plain strings with no expiration,
// matching the teacher's Set/Get string path in redis.go, simplified because
// the Outbox already holds the durability and pruning contract.
type Storage struct {
	conn *Connection
}

// NewStorage returns a StorageAdapter backed by conn.
func NewStorage(conn *Connection) *Storage {
	return &Storage{conn: conn}
}

func (s *Storage) keyNotFound(err error) bool {
	return err == goredis.Nil
}

func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.conn.Client.Get(ctx, key).Result()
	if s.keyNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Storage) Set(ctx context.Context, key string, value string) error {
	if err := s.conn.Client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.conn.Client.Del(ctx, key).Err(); err != nil && !s.keyNotFound(err) {
		return fmt.Errorf("redis delete failed for key %s: %w", key, err)
	}
	return nil
}

// Keys scans the keyspace for keys starting with prefix. Uses SCAN rather
// than KEYS to avoid blocking the server on a large keyspace.
func (s *Storage) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.conn.Client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan failed for prefix %s: %w", prefix, err)
	}
	return keys, nil
}

// Clear deletes every tx:-prefixed key. Does not flush the whole database,
// since the Redis connection may be shared with other concerns.
func (s *Storage) Clear(ctx context.Context) error {
	keys, err := s.Keys(ctx, "tx:")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.conn.Client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis clear failed: %w", err)
	}
	log.Debug("redis storage cleared", "count", len(keys))
	return nil
}

var _ mutbox.StorageAdapter = (*Storage)(nil)
