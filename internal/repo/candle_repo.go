package repo

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/cryptoedge/marketdata/internal/domain"
)

const (
	defaultLimit = 500
	maxLimit     = 1000
)

// CandleStore is the persistent side of the candle repository.
type CandleStore interface {
	Upsert(ctx context.Context, records []domain.Candle) (int, error)
	Query(ctx context.Context, exchange, symbol, interval string, start, end, cursor *int64, limit int) ([]domain.Candle, *int64, error)
	Timestamps(ctx context.Context, exchange, symbol, interval string, since int64) (map[int64]struct{}, error)
}

// CandleCache is the hot-path side. ohlcvCap is the per-series entry cap the
// cache enforces; reads larger than that must go to the store.
type CandleCache interface {
	CacheCandles(ctx context.Context, records []domain.Candle) error
	Candles(ctx context.Context, exchange, symbol, interval string, start, end *int64, limit int) ([]domain.Candle, error)
}

// CandleRepo layers the Redis series cache over the PostgreSQL store. The
// store is always authoritative; the cache only short-circuits recent reads.
type CandleRepo struct {
	store    CandleStore
	cache    CandleCache
	ohlcvCap int
}

func NewCandleRepo(store CandleStore, cache CandleCache, ohlcvCap int) *CandleRepo {
	if ohlcvCap <= 0 {
		ohlcvCap = defaultLimit
	}
	return &CandleRepo{store: store, cache: cache, ohlcvCap: ohlcvCap}
}

// Save persists the batch and mirrors it into the cache. Cache failures do
// not fail the save; the store write is the one that matters.
func (r *CandleRepo) Save(ctx context.Context, records []domain.Candle) (int, error) {
	n, err := r.store.Upsert(ctx, records)
	if err != nil {
		return 0, err
	}
	if err := r.cache.CacheCandles(ctx, records); err != nil {
		log.Warn().Err(err).Int("count", len(records)).Msg("candle cache write failed")
	}
	return n, nil
}

// FindResult carries a page of candles plus provenance for response metadata.
type FindResult struct {
	Records    []domain.Candle
	NextCursor *int64
	Cached     bool
}

// Find returns candles for the series. limit is clamped to [1, 1000] with a
// default of 500. The cache is consulted only for first-page reads that fit
// within the cache cap; any cached rows satisfy the request without touching
// the store.
func (r *CandleRepo) Find(ctx context.Context, exchange, symbol, interval string, start, end, cursor *int64, limit int) (FindResult, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	if cursor == nil && limit <= r.ohlcvCap {
		cached, err := r.cache.Candles(ctx, exchange, symbol, interval, start, end, limit)
		if err != nil {
			log.Warn().Err(err).Str("exchange", exchange).Str("symbol", symbol).
				Msg("candle cache read failed, falling back to store")
		} else if len(cached) > 0 {
			return FindResult{Records: cached, Cached: true}, nil
		}
	}

	records, next, err := r.store.Query(ctx, exchange, symbol, interval, start, end, cursor, limit)
	if err != nil {
		return FindResult{}, err
	}
	return FindResult{Records: records, NextCursor: next}, nil
}

// Timestamps exposes the stored open times at or after since for gap
// planning.
func (r *CandleRepo) Timestamps(ctx context.Context, exchange, symbol, interval string, since int64) (map[int64]struct{}, error) {
	return r.store.Timestamps(ctx, exchange, symbol, interval, since)
}
