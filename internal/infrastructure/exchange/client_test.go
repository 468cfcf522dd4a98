package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/cryptoedge/marketdata/internal/domain"
)

// stubDriver points every URL at the test server and parses nothing.
type stubDriver struct {
	base string
}

func (d *stubDriver) name() string    { return "stub" }
func (d *stubDriver) pingURL() string { return d.base + "/ping" }
func (d *stubDriver) maxCandles() int { return 1000 }

func (d *stubDriver) candlesURL(symbol, interval string, since *int64, limit int) (string, error) {
	return d.base + "/candles", nil
}

func (d *stubDriver) parseCandles(body []byte, symbol, interval string) ([]domain.Candle, error) {
	return []domain.Candle{{Exchange: "stub", Symbol: symbol, Interval: interval}}, nil
}

func (d *stubDriver) tickerURL(symbol string) (string, error) {
	return d.base + "/ticker", nil
}

func (d *stubDriver) parseTicker(body []byte, symbol string, nowMs int64) (*domain.Ticker, error) {
	return &domain.Ticker{Exchange: "stub", Symbol: symbol}, nil
}

func newStubClient(serverURL string) *venueClient {
	return &venueClient{
		exchange: "stub",
		drv:      &stubDriver{base: serverURL},
		http:     &http.Client{Timeout: 2 * time.Second},
		limiter:  rate.NewLimiter(rate.Inf, 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "stub",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func TestClientClassifies429AsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newStubClient(srv.URL)
	_, err := c.FetchCandles(context.Background(), "BTC/USDT", "1h", nil, 10)
	require.Error(t, err)

	rl, ok := domain.AsRateLimit(err)
	require.True(t, ok)
	assert.Equal(t, "stub", rl.Exchange)
	assert.Equal(t, 30*time.Second, rl.RetryAfter)
}

func TestClientRateLimitDefaultRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newStubClient(srv.URL)
	_, err := c.FetchTicker(context.Background(), "BTC/USDT")
	require.Error(t, err)

	rl, ok := domain.AsRateLimit(err)
	require.True(t, ok)
	assert.Equal(t, 60*time.Second, rl.RetryAfter, "missing Retry-After falls back to 60s")
}

func TestClientClassifies5xxAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newStubClient(srv.URL)
	_, err := c.FetchCandles(context.Background(), "BTC/USDT", "1h", nil, 10)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestClientClassifies4xxAsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newStubClient(srv.URL)
	_, err := c.FetchCandles(context.Background(), "BTC/USDT", "1h", nil, 10)
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
}

func TestClientBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newStubClient(srv.URL)
	for i := 0; i < 5; i++ {
		_, err := c.FetchCandles(context.Background(), "BTC/USDT", "1h", nil, 10)
		require.Error(t, err)
	}

	// The breaker is open now; the failure is transient so callers retry
	// later without hammering the venue.
	_, err := c.FetchCandles(context.Background(), "BTC/USDT", "1h", nil, 10)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestClientFiltersBySinceAndLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newStubClient(srv.URL)
	c.drv = &rangeDriver{base: srv.URL}

	since := int64(2)
	candles, err := c.FetchCandles(context.Background(), "BTC/USDT", "1h", &since, 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(2), candles[0].Timestamp)
	assert.Equal(t, int64(3), candles[1].Timestamp)
}

// rangeDriver returns candles at timestamps 0..4 regardless of the request.
type rangeDriver struct {
	base string
}

func (d *rangeDriver) name() string    { return "stub" }
func (d *rangeDriver) pingURL() string { return d.base + "/ping" }
func (d *rangeDriver) maxCandles() int { return 1000 }

func (d *rangeDriver) candlesURL(symbol, interval string, since *int64, limit int) (string, error) {
	return d.base + "/candles", nil
}

func (d *rangeDriver) parseCandles(body []byte, symbol, interval string) ([]domain.Candle, error) {
	out := make([]domain.Candle, 5)
	for i := range out {
		out[i] = domain.Candle{Exchange: "stub", Symbol: symbol, Interval: interval, Timestamp: int64(i)}
	}
	return out, nil
}

func (d *rangeDriver) tickerURL(symbol string) (string, error) {
	return d.base + "/ticker", nil
}

func (d *rangeDriver) parseTicker(body []byte, symbol string, nowMs int64) (*domain.Ticker, error) {
	return nil, nil
}

func TestNewClientRejectsUnknownExchange(t *testing.T) {
	_, err := NewClient(Config{ID: "bitfinex"})
	assert.Error(t, err)
}
