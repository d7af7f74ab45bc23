// Package statscache keeps recently computed daily stats in Redis so
// dashboards polling the same day share one aggregation.
package statscache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"qrattend/internal/attendance"
)

const DefaultTTL = 30 * time.Second

// Source computes stats from the authoritative stores.
type Source interface {
	GetStats(ctx context.Context, date string) (attendance.Stats, error)
}

// Cache wraps a Source. A nil Redis client turns it into a pass-through.
type Cache struct {
	client *redis.Client
	source Source
	ttl    time.Duration
	prefix string
	logger *slog.Logger
	group  singleflight.Group
}

// New creates a cache.
func New(client *redis.Client, source Source, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, source: source, ttl: ttl, prefix: "qrattend:stats:", logger: logger}
}

// GetStats returns the cached summary for date, computing it on a miss.
// Concurrent misses for one date share a single computation. Redis
// failures fall back to the source. An empty date is never cached since
// its meaning changes at midnight.
func (c *Cache) GetStats(ctx context.Context, date string) (attendance.Stats, error) {
	if c.client == nil || date == "" {
		return c.source.GetStats(ctx, date)
	}
	raw, err := c.client.Get(ctx, c.key(date)).Bytes()
	switch {
	case err == nil:
		var st attendance.Stats
		if err := json.Unmarshal(raw, &st); err == nil {
			return st, nil
		}
		c.logger.Warn("discarding corrupt stats cache entry", "date", date)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("stats cache read", "date", date, "error", err)
	}

	v, err, _ := c.group.Do(date, func() (any, error) {
		return c.Refresh(ctx, date)
	})
	if err != nil {
		return attendance.Stats{}, err
	}
	return v.(attendance.Stats), nil
}

// Refresh recomputes date and overwrites the cached entry.
func (c *Cache) Refresh(ctx context.Context, date string) (attendance.Stats, error) {
	st, err := c.source.GetStats(ctx, date)
	if err != nil {
		return attendance.Stats{}, err
	}
	if c.client == nil || st.Date == "" {
		return st, nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return st, nil
	}
	if err := c.client.Set(ctx, c.key(st.Date), data, c.ttl).Err(); err != nil {
		c.logger.Warn("stats cache write", "date", st.Date, "error", err)
	}
	return st, nil
}

// Invalidate drops the cached entry for date.
func (c *Cache) Invalidate(ctx context.Context, date string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.key(date)).Err()
}

func (c *Cache) key(date string) string { return c.prefix + date }
