package oracle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/swapnet-io/swapnet/pkg/engine"
)

// RedisCache decorates an Oracle with a shared Redis read-through cache.
// Each pair's last observation lives in a hash at "price:{pair}" with
// "price" and "ts" fields, so the submission-time preview can read a price
// without hitting the upstream oracle, and multiple engine instances share
// observations.
type RedisCache struct {
	upstream Oracle
	rdb      *redis.Client
	ttl      time.Duration
}

// NewRedisCache wraps upstream. ttl bounds how long a cached observation is
// served before the upstream is consulted again; it is normally set to the
// engine's price max age.
func NewRedisCache(upstream Oracle, rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{upstream: upstream, rdb: rdb, ttl: ttl}
}

func priceKey(pair engine.PairKey) string {
	return "price:" + pair.String()
}

func (c *RedisCache) FairPrice(ctx context.Context, pair engine.PairKey) (engine.PricePoint, error) {
	if pp, ok := c.cached(ctx, pair); ok && time.Since(pp.At) <= c.ttl {
		return pp, nil
	}

	pp, err := c.upstream.FairPrice(ctx, pair)
	if err != nil {
		return engine.PricePoint{}, err
	}
	if err := c.store(ctx, pair, pp); err != nil {
		// Cache miss is not fatal, the fresh upstream value still serves.
		return pp, nil
	}
	return pp, nil
}

// PreviewPrice serves the preview from cache only, never the upstream: the
// submission path must stay cheap.
func (c *RedisCache) PreviewPrice(pair engine.PairKey) (int64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	pp, ok := c.cached(ctx, pair)
	if !ok {
		return 0, false
	}
	return pp.Price, true
}

func (c *RedisCache) cached(ctx context.Context, pair engine.PairKey) (engine.PricePoint, bool) {
	vals, err := c.rdb.HGetAll(ctx, priceKey(pair)).Result()
	if err != nil || len(vals) == 0 {
		return engine.PricePoint{}, false
	}
	price, err := strconv.ParseInt(vals["price"], 10, 64)
	if err != nil {
		return engine.PricePoint{}, false
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return engine.PricePoint{}, false
	}
	return engine.PricePoint{Price: price, At: time.Unix(0, tsNano)}, true
}

func (c *RedisCache) store(ctx context.Context, pair engine.PairKey, pp engine.PricePoint) error {
	key := priceKey(pair)
	fields := map[string]interface{}{
		"price": strconv.FormatInt(pp.Price, 10),
		"ts":    strconv.FormatInt(pp.At.UnixNano(), 10),
	}
	if err := c.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", pair, err)
	}
	return nil
}
