package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cryptoedge/marketdata/internal/domain"
)

// Cache holds the two Redis namespaces:
//
//	ohlcv:{exchange}:{symbol}:{interval}: sorted set scored by timestamp,
//	    capped at ohlcvCap entries per key, no TTL
//	ticker:{exchange}:{symbol}: single value with tickerTTL
//
// All operations are best-effort from the caller's point of view: the store
// is authoritative for candles, the ticker cache is authoritative for
// tickers bounded by freshness.
type Cache struct {
	client    *redis.Client
	ohlcvCap  int
	tickerTTL time.Duration
}

// New wraps an existing Redis client. Used directly by tests.
func New(client *redis.Client, ohlcvCap int, tickerTTL time.Duration) *Cache {
	return &Cache{client: client, ohlcvCap: ohlcvCap, tickerTTL: tickerTTL}
}

// NewFromURL dials Redis from a redis:// URL and verifies the connection.
func NewFromURL(url string, ohlcvCap int, tickerTTL time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return New(client, ohlcvCap, tickerTTL), nil
}

// TickerTTL returns the configured full ticker TTL.
func (c *Cache) TickerTTL() time.Duration { return c.tickerTTL }

// Ping verifies cache connectivity for health checks.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connection.
func (c *Cache) Close() error { return c.client.Close() }

func ohlcvKey(exchange, symbol, interval string) string {
	return fmt.Sprintf("ohlcv:%s:%s:%s", exchange, symbol, interval)
}

func tickerKey(exchange, symbol string) string {
	return fmt.Sprintf("ticker:%s:%s", exchange, symbol)
}

// CacheCandles writes candles into their per-series sorted sets and trims
// each set to the configured cap, evicting the oldest timestamps first.
func (c *Cache) CacheCandles(ctx context.Context, records []domain.Candle) error {
	if len(records) == 0 {
		return nil
	}

	bySeries := make(map[string][]domain.Candle)
	for _, r := range records {
		key := ohlcvKey(r.Exchange, r.Symbol, r.Interval)
		bySeries[key] = append(bySeries[key], r)
	}

	pipe := c.client.Pipeline()
	for key, recs := range bySeries {
		for _, r := range recs {
			payload, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to marshal candle: %w", err)
			}
			pipe.ZAdd(ctx, key, &redis.Z{Score: float64(r.Timestamp), Member: string(payload)})
		}
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-(c.ohlcvCap + 1)))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.WrapServerError(domain.ErrCodeCache, "failed to cache candles", err)
	}
	return nil
}

// Candles reads a series from the sorted set, filtered to the inclusive
// [start, end] bounds and capped at limit, in ascending timestamp order.
func (c *Cache) Candles(ctx context.Context, exchange, symbol, interval string, start, end *int64, limit int) ([]domain.Candle, error) {
	min, max := "-inf", "+inf"
	if start != nil {
		min = strconv.FormatInt(*start, 10)
	}
	if end != nil {
		max = strconv.FormatInt(*end, 10)
	}

	members, err := c.client.ZRangeByScore(ctx, ohlcvKey(exchange, symbol, interval), &redis.ZRangeBy{
		Min:    min,
		Max:    max,
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, domain.WrapServerError(domain.ErrCodeCache, "failed to read cached candles", err)
	}

	out := make([]domain.Candle, 0, len(members))
	for _, m := range members {
		var r domain.Candle
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			return nil, domain.WrapServerError(domain.ErrCodeCache, "failed to decode cached candle", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// SetTicker stores a ticker snapshot with the configured TTL. Latest write
// wins.
func (c *Cache) SetTicker(ctx context.Context, t domain.Ticker) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticker: %w", err)
	}
	if err := c.client.SetEX(ctx, tickerKey(t.Exchange, t.Symbol), string(payload), c.tickerTTL).Err(); err != nil {
		return domain.WrapServerError(domain.ErrCodeCache, "failed to cache ticker", err)
	}
	return nil
}

// Ticker returns the cached snapshot, or nil on a miss.
func (c *Cache) Ticker(ctx context.Context, exchange, symbol string) (*domain.Ticker, error) {
	data, err := c.client.Get(ctx, tickerKey(exchange, symbol)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, domain.WrapServerError(domain.ErrCodeCache, "failed to read cached ticker", err)
	}

	var t domain.Ticker
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, domain.WrapServerError(domain.ErrCodeCache, "failed to decode cached ticker", err)
	}
	return &t, nil
}

// TickerAge derives the time a ticker has spent in cache from the residual
// TTL. This deliberately measures time-in-cache, not venue age. The second
// return value is false when no entry exists.
func (c *Cache) TickerAge(ctx context.Context, exchange, symbol string) (time.Duration, bool, error) {
	ttl, err := c.client.TTL(ctx, tickerKey(exchange, symbol)).Result()
	if err != nil {
		return 0, false, domain.WrapServerError(domain.ErrCodeCache, "failed to read ticker ttl", err)
	}
	if ttl <= 0 {
		return 0, false, nil
	}
	return c.tickerTTL - ttl, true, nil
}
