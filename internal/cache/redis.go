// Package cache provides a Redis-backed read-through cache for approved
// danger reports. A cache outage degrades to a miss, never to a failed
// aggregation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sitewatch.org/internal/obs"
	"sitewatch.org/internal/site"
)

// DefaultTTL bounds staleness for entries that miss an explicit invalidation.
const DefaultTTL = 60 * time.Second

// Reports caches approved danger reports per (zone, date). It satisfies
// hazard.ReportCache.
type Reports struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies the connection with a ping.
// ttl <= 0 selects DefaultTTL.
func New(addr string, ttl time.Duration) (*Reports, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Reports{client: client, ttl: ttl}, nil
}

// Close releases the underlying connection pool.
func (r *Reports) Close() error {
	return r.client.Close()
}

// Ping reports whether Redis is reachable.
func (r *Reports) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Approved returns the cached reports for (zone, day). The second result is
// false on a miss or any transport error.
func (r *Reports) Approved(ctx context.Context, zoneID string, day time.Time) ([]site.DangerZoneReport, bool) {
	val, err := r.client.Get(ctx, reportKey(zoneID, day)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		obs.LogEntry(map[string]any{"level": "warn", "msg": "report cache read failed", "zone_id": zoneID, "error": err.Error()})
		return nil, false
	}
	var reports []site.DangerZoneReport
	if err := json.Unmarshal([]byte(val), &reports); err != nil {
		obs.LogEntry(map[string]any{"level": "warn", "msg": "report cache entry corrupt", "zone_id": zoneID, "error": err.Error()})
		return nil, false
	}
	return reports, true
}

// SetApproved stores the reports for (zone, day). An empty slice is cached
// too, so zones without reports do not hit the database on every reading.
func (r *Reports) SetApproved(ctx context.Context, zoneID string, day time.Time, reports []site.DangerZoneReport) {
	if reports == nil {
		reports = []site.DangerZoneReport{}
	}
	data, err := json.Marshal(reports)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, reportKey(zoneID, day), data, r.ttl).Err(); err != nil {
		obs.LogEntry(map[string]any{"level": "warn", "msg": "report cache write failed", "zone_id": zoneID, "error": err.Error()})
	}
}

// Invalidate drops the entry for (zone, day). Review decisions call this so
// the next aggregation sees the updated report set.
func (r *Reports) Invalidate(ctx context.Context, zoneID string, day time.Time) {
	if err := r.client.Del(ctx, reportKey(zoneID, day)).Err(); err != nil {
		obs.LogEntry(map[string]any{"level": "warn", "msg": "report cache invalidate failed", "zone_id": zoneID, "error": err.Error()})
	}
}

func reportKey(zoneID string, day time.Time) string {
	return fmt.Sprintf("sitewatch:reports:%s:%s", zoneID, site.Day(day).Format("2006-01-02"))
}
