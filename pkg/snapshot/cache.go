package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/eunmann/opendata-ingest/internal/logctx"
	"github.com/eunmann/opendata-ingest/pkg/fetch"
	"github.com/eunmann/opendata-ingest/pkg/humanfmt"
	"github.com/eunmann/opendata-ingest/pkg/logging"
	"github.com/eunmann/opendata-ingest/pkg/metrics"
)

// DefaultTTL is the snapshot lifetime when none is given.
const DefaultTTL = 365 * 24 * time.Hour

// Config configures a Cache.
type Config struct {
	// TTL is the default snapshot lifetime (default one year).
	TTL time.Duration
	// KeyPrefix namespaces every key.
	KeyPrefix string
}

// Cache maps endpoint paths to record snapshots. Lookups never fail: a
// missing, expired, unreadable or corrupt entry is a miss.
type Cache struct {
	backend Backend
	cfg     Config
	metrics *metrics.Metrics
}

// NewCache wraps backend. m may be nil.
func NewCache(backend Backend, cfg Config, m *metrics.Metrics) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Cache{backend: backend, cfg: cfg, metrics: m}
}

// Key returns the backend key for an endpoint path.
func (c *Cache) Key(path string) string {
	return c.cfg.KeyPrefix + path
}

// Get returns the snapshot stored for path.
func (c *Cache) Get(ctx context.Context, path string) ([]fetch.Record, bool) {
	key := c.Key(path)
	log := logctx.FromContext(ctx)

	blob, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("snapshot read failed, treating as miss")
		c.metrics.CacheResult(metrics.CacheMiss)
		return nil, false
	}
	if !ok {
		c.metrics.CacheResult(metrics.CacheMiss)
		return nil, false
	}

	records, err := Decode(blob)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("corrupt snapshot, treating as miss")
		c.metrics.CacheResult(metrics.CacheCorrupt)
		return nil, false
	}
	c.metrics.CacheResult(metrics.CacheHit)
	log.Debug().Str("key", key).Int("records", len(records)).Msg("snapshot hit")
	return records, true
}

// Set stores records for path. A zero ttl uses the configured default.
// Concurrent writers to one key resolve last-writer-wins.
func (c *Cache) Set(ctx context.Context, path string, records []fetch.Record, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}
	start := time.Now()
	blob, rawSize, err := encode(records)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", path, err)
	}
	if err := c.backend.Set(ctx, c.Key(path), blob, ttl); err != nil {
		return fmt.Errorf("store snapshot %s: %w", path, err)
	}
	logging.PhaseComplete(logctx.FromContext(ctx), logging.PhaseCache, time.Since(start)).
		Str("key", c.Key(path)).
		Count("records", int64(len(records))).
		Bytes("bytes", int64(len(blob))).
		Str("ratio", humanfmt.Ratio(int64(len(blob)), int64(rawSize))).
		LogDebug("snapshot stored")
	return nil
}

// Delete invalidates the snapshot for path.
func (c *Cache) Delete(ctx context.Context, path string) error {
	if err := c.backend.Delete(ctx, c.Key(path)); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", path, err)
	}
	return nil
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}
