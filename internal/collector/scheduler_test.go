package collector

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoedge/marketdata/internal/config"
	"github.com/cryptoedge/marketdata/internal/domain"
	"github.com/cryptoedge/marketdata/internal/telemetry/metrics"
)

type fakeTickerSink struct {
	saved []domain.Ticker
	err   error
}

func (s *fakeTickerSink) Save(ctx context.Context, t domain.Ticker) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, t)
	return nil
}

func newTestScheduler(venue *fakeVenue, candles *fakeSink, tickers *fakeTickerSink, gate *PauseGate) *Scheduler {
	return NewScheduler(config.Default(), map[string]Venue{venue.exchange: venue}, candles, tickers, gate)
}

func TestCollectSkipsRemoteCallsWhilePaused(t *testing.T) {
	gate := NewPauseGate()
	gate.Pause("binance", time.Minute)

	venue := &fakeVenue{exchange: "binance"}
	sink := &fakeSink{}
	tickers := &fakeTickerSink{}
	s := newTestScheduler(venue, sink, tickers, gate)

	s.collectCandles(context.Background(), venue, "BTC/USDT", "1h", hourMs)
	s.collectTicker(context.Background(), venue, "BTC/USDT")

	assert.Zero(t, venue.calls, "no candle fetch while the gate is engaged")
	assert.Zero(t, venue.tickerCalls, "no ticker fetch while the gate is engaged")
	assert.Empty(t, sink.saved)
	assert.Empty(t, tickers.saved)
}

func TestCollectCandlesRateLimitPausesAllJobs(t *testing.T) {
	gate := NewPauseGate()
	venue := &fakeVenue{
		exchange: "kraken",
		fetchErr: domain.NewRateLimitError("kraken", 30*time.Second),
	}
	sink := &fakeSink{}
	tickers := &fakeTickerSink{}
	s := newTestScheduler(venue, sink, tickers, gate)

	rateLimited := metrics.CollectRuns.WithLabelValues("kraken", "candles", "rate_limited")
	failures := metrics.CollectRuns.WithLabelValues("kraken", "candles", "error")
	before, beforeErr := testutil.ToFloat64(rateLimited), testutil.ToFloat64(failures)

	s.collectCandles(context.Background(), venue, "BTC/USD", "1h", hourMs)
	require.True(t, gate.Paused("kraken"), "a rate-limited fire must engage the gate")
	assert.Equal(t, before+1, testutil.ToFloat64(rateLimited))
	assert.Equal(t, beforeErr, testutil.ToFloat64(failures), "throttling is not a collection failure")

	// Subsequent fires on any job for the exchange stay local.
	s.collectTicker(context.Background(), venue, "BTC/USD")
	s.collectCandles(context.Background(), venue, "ETH/USD", "1h", hourMs)
	assert.Equal(t, 1, venue.calls)
	assert.Zero(t, venue.tickerCalls)
}

func TestCollectTickerRateLimitPausesExchange(t *testing.T) {
	gate := NewPauseGate()
	venue := &fakeVenue{
		exchange:  "binance",
		tickerErr: domain.NewRateLimitError("binance", 10*time.Second),
	}
	s := newTestScheduler(venue, &fakeSink{}, &fakeTickerSink{}, gate)

	s.collectTicker(context.Background(), venue, "BTC/USDT")
	assert.True(t, gate.Paused("binance"))
}

func TestCollectCandlesSaveFailureDoesNotPause(t *testing.T) {
	gate := NewPauseGate()
	venue := &fakeVenue{exchange: "binance"}
	sink := &fakeSink{saveErr: assert.AnError}
	s := newTestScheduler(venue, sink, &fakeTickerSink{}, gate)

	s.collectCandles(context.Background(), venue, "BTC/USDT", "1h", hourMs)
	assert.Equal(t, 1, venue.calls, "the fetch still happens")
	assert.False(t, gate.Paused("binance"), "store failures retry at the next fire")
}

func TestCollectTickerStoresSnapshot(t *testing.T) {
	venue := &fakeVenue{exchange: "binance"}
	tickers := &fakeTickerSink{}
	s := newTestScheduler(venue, &fakeSink{}, tickers, NewPauseGate())

	s.collectTicker(context.Background(), venue, "BTC/USDT")
	require.Len(t, tickers.saved, 1)
	assert.Equal(t, "BTC/USDT", tickers.saved[0].Symbol)
	assert.Equal(t, "binance", tickers.saved[0].Exchange)
}
