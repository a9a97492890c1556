package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/brokercrm/chat-ingest/pkg/logger"
)

const (
	keyPrefix  = "chat:"
	defaultCap = 100
)

// RedisMirror keeps one Redis list per handle, newest entry first, trimmed to
// a fixed cap.
type RedisMirror struct {
	rdb *redis.Client
	cap int64
	log *logger.Logger
}

// NewRedis creates a mirror over the given Redis client.
func NewRedis(rdb *redis.Client, log *logger.Logger) *RedisMirror {
	return &RedisMirror{rdb: rdb, cap: defaultCap, log: log}
}

func key(handle string) string {
	return keyPrefix + handle
}

// Publish implements Mirror.
func (m *RedisMirror) Publish(ctx context.Context, handle string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode mirror entry: %w", err)
	}
	pipe := m.rdb.TxPipeline()
	pipe.LPush(ctx, key(handle), data)
	pipe.LTrim(ctx, key(handle), 0, m.cap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror publish: %w", err)
	}
	return nil
}

// Supersede implements Mirror. The provisional entry is located by scanning
// the (short, capped) list; a missing provisional entry degrades to a plain
// publish.
func (m *RedisMirror) Supersede(ctx context.Context, handle, tempID string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode mirror entry: %w", err)
	}
	items, err := m.rdb.LRange(ctx, key(handle), 0, m.cap-1).Result()
	if err != nil {
		return fmt.Errorf("mirror supersede read: %w", err)
	}
	for i, raw := range items {
		var existing Entry
		if json.Unmarshal([]byte(raw), &existing) != nil {
			continue
		}
		if existing.ID == tempID {
			if err := m.rdb.LSet(ctx, key(handle), int64(i), data).Err(); err != nil {
				return fmt.Errorf("mirror supersede: %w", err)
			}
			return nil
		}
	}
	return m.Publish(ctx, handle, e)
}

// Recent implements Mirror.
func (m *RedisMirror) Recent(ctx context.Context, handle string, limit int) ([]Entry, error) {
	if limit <= 0 || int64(limit) > m.cap {
		limit = int(m.cap)
	}
	items, err := m.rdb.LRange(ctx, key(handle), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("mirror read: %w", err)
	}
	entries := make([]Entry, 0, len(items))
	for _, raw := range items {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			m.log.Warn("skipping undecodable mirror entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Rebuild implements Mirror.
func (m *RedisMirror) Rebuild(ctx context.Context, handle string, entries []Entry) error {
	pipe := m.rdb.TxPipeline()
	pipe.Del(ctx, key(handle))
	for i := len(entries) - 1; i >= 0; i-- {
		data, err := json.Marshal(entries[i])
		if err != nil {
			return fmt.Errorf("encode mirror entry: %w", err)
		}
		pipe.LPush(ctx, key(handle), data)
	}
	pipe.LTrim(ctx, key(handle), 0, m.cap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror rebuild: %w", err)
	}
	return nil
}
