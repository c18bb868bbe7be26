package devicecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/webble-core/internal/infrastructure/config"
)

const (
	defaultKeyPrefix   = "webble:"
	defaultDialTimeout = 5 * time.Second
)

// Redis is a Store backed by Redis. Each entry is a JSON value under
// "<prefix>device:<externalID>"; the set "<prefix>devices" indexes them.
type Redis struct {
	client *redis.Client
	prefix string
	owned  bool
	closed atomic.Bool
}

var _ Store = (*Redis)(nil)

// OpenRedis connects to Redis and verifies the connection with PING.
func OpenRedis(ctx context.Context, cfg config.RedisConfig, keyPrefix string) (*Redis, error) {
	dialTimeout := time.Duration(cfg.DialTimeout) * time.Second
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	r := NewRedisWithClient(client, keyPrefix)
	r.owned = true
	return r, nil
}

// NewRedisWithClient creates a store on an existing client. The client is
// not closed by Close.
func NewRedisWithClient(client *redis.Client, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Redis{client: client, prefix: keyPrefix}
}

func (r *Redis) entryKey(externalID string) string {
	return r.prefix + "device:" + externalID
}

func (r *Redis) indexKey() string {
	return r.prefix + "devices"
}

// List returns every entry, oldest update first.
func (r *Redis) List(ctx context.Context) ([]Entry, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, r.entryKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis list: %w", err)
	}

	entries := make([]Entry, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			// Index entry without a value: removed concurrently.
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].ExternalID < entries[j].ExternalID
		}
		return entries[i].UpdatedAt.Before(entries[j].UpdatedAt)
	})
	return entries, nil
}

// Get returns the entry for an external id.
func (r *Redis) Get(ctx context.Context, externalID string) (Entry, error) {
	if r.closed.Load() {
		return Entry{}, ErrClosed
	}

	data, err := r.client.Get(ctx, r.entryKey(externalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("redis get: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("redis get: decoding %s: %w", externalID, err)
	}
	return e, nil
}

// Put inserts or replaces an entry.
func (r *Redis) Put(ctx context.Context, e Entry) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := validate(e); err != nil {
		return err
	}
	e = stamp(e)

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis put: encoding %s: %w", e.ExternalID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.entryKey(e.ExternalID), data, 0)
	pipe.SAdd(ctx, r.indexKey(), e.ExternalID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

// Remove deletes an entry.
func (r *Redis) Remove(ctx context.Context, externalID string) error {
	if r.closed.Load() {
		return ErrClosed
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.entryKey(externalID))
	pipe.SRem(ctx, r.indexKey(), externalID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis remove: %w", err)
	}
	return nil
}

// PeripheralFor returns the radio identifier stored for an external id.
func (r *Redis) PeripheralFor(ctx context.Context, externalID string) (string, error) {
	e, err := r.Get(ctx, externalID)
	if err != nil {
		return "", err
	}
	return e.PeripheralID, nil
}

// Close closes the client if the store opened it.
func (r *Redis) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	if r.owned {
		return r.client.Close()
	}
	return nil
}
