// Package cache holds short-lived read-path results. Entries are keyed by a
// per-unit generation that writers bump, so a commit makes older entries
// unreachable without scanning keys.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache is the read-path cache used by the availability service.
type Cache interface {
	// GetJSON decodes the value at key into out and reports whether it was found.
	GetJSON(ctx context.Context, key string, out any) bool
	SetJSON(ctx context.Context, key string, val any)
	// Generation returns the unit's current generation; false disables caching
	// for this call.
	Generation(ctx context.Context, unitID int64) (int64, bool)
	// Bump invalidates every entry of the unit.
	Bump(ctx context.Context, unitID int64)
}

// Nop never caches.
type Nop struct{}

func (Nop) GetJSON(context.Context, string, any) bool { return false }
func (Nop) SetJSON(context.Context, string, any) {}
func (Nop) Generation(context.Context, int64) (int64, bool) { return 0, false }
func (Nop) Bump(context.Context, int64) {}

// Redis stores entries in Redis with a fixed TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *Redis {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "cache").Logger()
	}
	return &Redis{client: client, ttl: ttl, logger: l}
}

func generationKey(unitID int64) string {
	return fmt.Sprintf("unit:%d:generation", unitID)
}

func (c *Redis) GetJSON(ctx context.Context, key string, out any) bool {
	if c.client == nil || c.ttl <= 0 {
		return false
	}
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug().Err(err).Str("key", key).Msg("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(val, out); err != nil {
		return false
	}
	return true
}

func (c *Redis) SetJSON(ctx context.Context, key string, val any) {
	if c.client == nil || c.ttl <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (c *Redis) Generation(ctx context.Context, unitID int64) (int64, bool) {
	if c.client == nil || c.ttl <= 0 {
		return 0, false
	}
	val, err := c.client.Get(ctx, generationKey(unitID)).Result()
	if err == redis.Nil {
		return 0, true
	}
	if err != nil {
		c.logger.Debug().Err(err).Int64("unit_id", unitID).Msg("cache generation read failed")
		return 0, false
	}
	gen, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

func (c *Redis) Bump(ctx context.Context, unitID int64) {
	if c.client == nil {
		return
	}
	if err := c.client.Incr(ctx, generationKey(unitID)).Err(); err != nil {
		// Entries left behind expire with their TTL.
		c.logger.Warn().Err(err).Int64("unit_id", unitID).Msg("cache invalidation failed")
	}
}
