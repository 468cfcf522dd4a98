package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cryptoedge/marketdata/internal/domain"
)

// TickerCache is the Redis side of the ticker repository.
type TickerCache interface {
	Ticker(ctx context.Context, exchange, symbol string) (*domain.Ticker, error)
	SetTicker(ctx context.Context, t domain.Ticker) error
	TickerAge(ctx context.Context, exchange, symbol string) (time.Duration, bool, error)
}

// TickerFetcher fetches a live snapshot from a venue on a cache miss.
type TickerFetcher interface {
	FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error)
}

// TickerRepo serves ticker snapshots cache-first, fetching from the venue
// on a miss and writing the result back with the configured TTL.
type TickerRepo struct {
	cache    TickerCache
	fetchers map[string]TickerFetcher
}

func NewTickerRepo(cache TickerCache, fetchers map[string]TickerFetcher) *TickerRepo {
	return &TickerRepo{cache: cache, fetchers: fetchers}
}

// TickerResult carries a snapshot plus provenance for response metadata.
// AgeMs is how long the snapshot has sat in cache; zero for live fetches.
type TickerResult struct {
	Ticker *domain.Ticker
	Cached bool
	AgeMs  int64
}

// Find returns the snapshot for the pair. A cache read error degrades to a
// live fetch rather than failing the request.
func (r *TickerRepo) Find(ctx context.Context, exchange, symbol string) (TickerResult, error) {
	fetcher, ok := r.fetchers[exchange]
	if !ok {
		return TickerResult{}, domain.NewClientError(domain.ErrCodeInvalidExchange,
			fmt.Sprintf("exchange %s is not configured", exchange),
			map[string]interface{}{"exchange": exchange})
	}

	cached, err := r.cache.Ticker(ctx, exchange, symbol)
	if err != nil {
		log.Warn().Err(err).Str("exchange", exchange).Str("symbol", symbol).
			Msg("ticker cache read failed, fetching live")
	} else if cached != nil {
		age, known, err := r.cache.TickerAge(ctx, exchange, symbol)
		if err != nil || !known {
			age = 0
		}
		return TickerResult{Ticker: cached, Cached: true, AgeMs: age.Milliseconds()}, nil
	}

	ticker, err := fetcher.FetchTicker(ctx, symbol)
	if err != nil {
		return TickerResult{}, err
	}
	if err := r.cache.SetTicker(ctx, *ticker); err != nil {
		log.Warn().Err(err).Str("exchange", exchange).Str("symbol", symbol).
			Msg("ticker cache write failed")
	}
	return TickerResult{Ticker: ticker}, nil
}

// SymbolError pairs a symbol with the failure it produced in a batch read.
type SymbolError struct {
	Symbol string
	Err    error
}

// FindAll resolves every symbol independently, so one bad pair does not sink
// the batch. Results and errors are returned side by side.
func (r *TickerRepo) FindAll(ctx context.Context, exchange string, symbols []string) ([]TickerResult, []SymbolError) {
	results := make([]TickerResult, 0, len(symbols))
	var failures []SymbolError
	for _, symbol := range symbols {
		res, err := r.Find(ctx, exchange, symbol)
		if err != nil {
			failures = append(failures, SymbolError{Symbol: symbol, Err: err})
			continue
		}
		results = append(results, res)
	}
	return results, failures
}

// Save writes a collector-produced snapshot into the cache.
func (r *TickerRepo) Save(ctx context.Context, t domain.Ticker) error {
	return r.cache.SetTicker(ctx, t)
}
