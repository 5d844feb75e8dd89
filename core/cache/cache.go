// Package cache wraps the Redis client used for display-name lookups and
// short-lived confirm locks. Keys are namespaced so several bots can share
// one instance.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	coreconfig "github.com/m3rciful/paybot/core/config"
	"github.com/m3rciful/paybot/core/logger"
)

const (
	displayNamePrefix = "displayname"
	lookupPrefix      = "displayname_lookup"
	lockPrefix        = "confirm_lock"

	// displayNameTTL bounds staleness of cached profile names.
	displayNameTTL = 24 * time.Hour
	// lockTTL prevents indefinite locks if a handler crashes mid-confirm.
	lockTTL = 10 * time.Second
)

// ErrMiss is returned when a key is absent.
var ErrMiss = errors.New("cache: miss")

// Cache is a namespaced Redis wrapper.
type Cache struct {
	rdb *redis.Client
	ns  string
}

// Connect opens the Redis connection and verifies connectivity.
func Connect(cfg coreconfig.CacheConfig) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.CACHE.Error("redis connect failed",
			slog.String("event", "cache.connect"),
			slog.String("host", cfg.Addr),
			slog.String("err", err.Error()),
		)
		_ = rdb.Close()
		return nil, fmt.Errorf("cache connect: %w", err)
	}
	logger.CACHE.Info("redis connected",
		slog.String("event", "cache.connect"),
		slog.String("host", cfg.Addr),
		slog.Int("db", cfg.DB),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)

	return &Cache{rdb: rdb, ns: cfg.Namespace}, nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *Cache) key(prefix, k string) string {
	return c.ns + ":" + prefix + ":" + k
}

// DisplayName returns the cached profile name for an identity.
func (c *Cache) DisplayName(ctx context.Context, identity string) (string, error) {
	v, err := c.rdb.Get(ctx, c.key(displayNamePrefix, identity)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("cache get: %w", err)
	}
	return v, nil
}

// SetDisplayName stores a profile name and its reverse lookup entry.
func (c *Cache) SetDisplayName(ctx context.Context, identity, name string) error {
	if err := c.rdb.Set(ctx, c.key(displayNamePrefix, identity), name, displayNameTTL).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key(lookupPrefix, name), identity, displayNameTTL).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// LookupIdentity resolves a display name back to an identity handle.
func (c *Cache) LookupIdentity(ctx context.Context, name string) (string, error) {
	v, err := c.rdb.Get(ctx, c.key(lookupPrefix, name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("cache get: %w", err)
	}
	return v, nil
}

// AcquireConfirmLock takes a short-lived exclusive lock for the given
// confirm token so concurrent re-deliveries of the same confirm message do
// not race. The lock expires on its own if never released.
func (c *Cache) AcquireConfirmLock(ctx context.Context, token string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, c.key(lockPrefix, token), "processing", lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("cache lock: %w", err)
	}
	return ok, nil
}

// ReleaseConfirmLock drops the lock taken by AcquireConfirmLock.
func (c *Cache) ReleaseConfirmLock(ctx context.Context, token string) {
	if err := c.rdb.Del(ctx, c.key(lockPrefix, token)).Err(); err != nil {
		logger.CACHE.Warn("lock release failed",
			slog.String("event", "cache.unlock"),
			slog.String("err", err.Error()),
		)
	}
}
