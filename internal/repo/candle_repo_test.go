package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoedge/marketdata/internal/domain"
)

type fakeStore struct {
	upserted   []domain.Candle
	queried    []domain.Candle
	next       *int64
	queryCalls int
	upsertErr  error
	queryErr   error
	lastCursor *int64
	lastLimit  int
}

func (s *fakeStore) Upsert(ctx context.Context, records []domain.Candle) (int, error) {
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	s.upserted = append(s.upserted, records...)
	return len(records), nil
}

func (s *fakeStore) Query(ctx context.Context, exchange, symbol, interval string, start, end, cursor *int64, limit int) ([]domain.Candle, *int64, error) {
	s.queryCalls++
	s.lastCursor = cursor
	s.lastLimit = limit
	if s.queryErr != nil {
		return nil, nil, s.queryErr
	}
	return s.queried, s.next, nil
}

func (s *fakeStore) Timestamps(ctx context.Context, exchange, symbol, interval string, since int64) (map[int64]struct{}, error) {
	return nil, nil
}

type fakeCache struct {
	cached     []domain.Candle
	writeErr   error
	readErr    error
	writeCalls int
	readCalls  int
}

func (c *fakeCache) CacheCandles(ctx context.Context, records []domain.Candle) error {
	c.writeCalls++
	return c.writeErr
}

func (c *fakeCache) Candles(ctx context.Context, exchange, symbol, interval string, start, end *int64, limit int) ([]domain.Candle, error) {
	c.readCalls++
	if c.readErr != nil {
		return nil, c.readErr
	}
	return c.cached, nil
}

func sampleCandles(n int) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{
			Exchange:  "binance",
			Symbol:    "BTC/USDT",
			Interval:  "1h",
			Timestamp: int64(i) * 3_600_000,
			Open:      decimal.NewFromInt(1),
			High:      decimal.NewFromInt(2),
			Low:       decimal.NewFromInt(1),
			Close:     decimal.NewFromInt(2),
			Volume:    decimal.NewFromInt(5),
		}
	}
	return out
}

func TestSaveSwallowsCacheErrors(t *testing.T) {
	store := &fakeStore{}
	cache := &fakeCache{writeErr: errors.New("redis down")}
	r := NewCandleRepo(store, cache, 500)

	n, err := r.Save(context.Background(), sampleCandles(3))
	require.NoError(t, err, "cache failure must not fail the save")
	assert.Equal(t, 3, n)
	assert.Len(t, store.upserted, 3)
	assert.Equal(t, 1, cache.writeCalls)
}

func TestSaveStoreErrorIsFatal(t *testing.T) {
	store := &fakeStore{upsertErr: errors.New("db down")}
	cache := &fakeCache{}
	r := NewCandleRepo(store, cache, 500)

	_, err := r.Save(context.Background(), sampleCandles(1))
	require.Error(t, err)
	assert.Zero(t, cache.writeCalls, "cache is not written when the store rejects")
}

func TestFindCacheHitSkipsStore(t *testing.T) {
	store := &fakeStore{}
	cache := &fakeCache{cached: sampleCandles(2)}
	r := NewCandleRepo(store, cache, 500)

	res, err := r.Find(context.Background(), "binance", "BTC/USDT", "1h", nil, nil, nil, 100)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Len(t, res.Records, 2)
	assert.Nil(t, res.NextCursor)
	assert.Zero(t, store.queryCalls)
}

func TestFindCacheMissFallsThrough(t *testing.T) {
	store := &fakeStore{queried: sampleCandles(5)}
	cache := &fakeCache{}
	r := NewCandleRepo(store, cache, 500)

	res, err := r.Find(context.Background(), "binance", "BTC/USDT", "1h", nil, nil, nil, 100)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Len(t, res.Records, 5)
	assert.Equal(t, 1, store.queryCalls)
}

func TestFindCursorBypassesCache(t *testing.T) {
	store := &fakeStore{queried: sampleCandles(1)}
	cache := &fakeCache{cached: sampleCandles(2)}
	r := NewCandleRepo(store, cache, 500)

	cursor := int64(3_600_000)
	res, err := r.Find(context.Background(), "binance", "BTC/USDT", "1h", nil, nil, &cursor, 100)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Zero(t, cache.readCalls, "cursor reads never consult the cache")
	require.NotNil(t, store.lastCursor)
	assert.Equal(t, cursor, *store.lastCursor)
}

func TestFindLargeLimitBypassesCache(t *testing.T) {
	store := &fakeStore{queried: sampleCandles(1)}
	cache := &fakeCache{cached: sampleCandles(2)}
	r := NewCandleRepo(store, cache, 500)

	_, err := r.Find(context.Background(), "binance", "BTC/USDT", "1h", nil, nil, nil, 501)
	require.NoError(t, err)
	assert.Zero(t, cache.readCalls, "reads beyond the cache cap go to the store")
	assert.Equal(t, 501, store.lastLimit)
}

func TestFindLimitClamping(t *testing.T) {
	store := &fakeStore{}
	cache := &fakeCache{}
	r := NewCandleRepo(store, cache, 500)

	_, err := r.Find(context.Background(), "binance", "BTC/USDT", "1h", nil, nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 500, store.lastLimit, "zero limit defaults to 500")

	_, err = r.Find(context.Background(), "binance", "BTC/USDT", "1h", nil, nil, nil, 5000)
	require.NoError(t, err)
	assert.Equal(t, 1000, store.lastLimit, "limit is capped at 1000")
}

func TestFindCacheReadErrorFallsBack(t *testing.T) {
	store := &fakeStore{queried: sampleCandles(1)}
	cache := &fakeCache{readErr: errors.New("redis down")}
	r := NewCandleRepo(store, cache, 500)

	res, err := r.Find(context.Background(), "binance", "BTC/USDT", "1h", nil, nil, nil, 10)
	require.NoError(t, err, "cache read failure must degrade to the store")
	assert.False(t, res.Cached)
	assert.Equal(t, 1, store.queryCalls)
}
