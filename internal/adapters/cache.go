package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finpulse/alert-engine/internal/calendar"
	"github.com/finpulse/alert-engine/internal/observ"
)

// LastGood stores the most recent successful quote per symbol and serves it
// back on the degraded path, ahead of the static fallback table.
type LastGood interface {
	Put(ctx context.Context, q Quote)
	Get(ctx context.Context, market calendar.Market, symbol string) (Quote, bool)
}

// LastGoodCache is the Redis-backed LastGood implementation. All operations
// are best effort: a cache failure never fails a fetch cycle.
type LastGoodCache struct {
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
}

// NewLastGoodCache creates the cache. If ttl is 0 it defaults to 24h: quotes
// older than a day are no better than the static table.
func NewLastGoodCache(rdb *redis.Client, ttl time.Duration) *LastGoodCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &LastGoodCache{rdb: rdb, ttl: ttl, namespace: "quotes:lastgood"}
}

func (c *LastGoodCache) key(market calendar.Market, symbol string) string {
	return fmt.Sprintf("%s:%s:%s", c.namespace, market, symbol)
}

// Put records a successful live quote.
func (c *LastGoodCache) Put(ctx context.Context, q Quote) {
	if c == nil || c.rdb == nil {
		return
	}
	b, err := json.Marshal(q)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(q.Market, q.Symbol), b, c.ttl).Err(); err != nil {
		observ.LogError("lastgood_put_failed", err, map[string]any{"symbol": q.Symbol})
	}
}

// Get returns the cached quote for a symbol, if present and unexpired.
func (c *LastGoodCache) Get(ctx context.Context, market calendar.Market, symbol string) (Quote, bool) {
	if c == nil || c.rdb == nil {
		return Quote{}, false
	}
	b, err := c.rdb.Get(ctx, c.key(market, symbol)).Bytes()
	if err != nil || len(b) == 0 {
		return Quote{}, false
	}
	var q Quote
	if err := json.Unmarshal(b, &q); err != nil {
		// Corrupted entry: drop it rather than serve garbage.
		_ = c.rdb.Del(ctx, c.key(market, symbol)).Err()
		return Quote{}, false
	}
	return q, true
}

var _ LastGood = (*LastGoodCache)(nil)
