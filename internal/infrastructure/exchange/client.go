package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/cryptoedge/marketdata/internal/domain"
)

// Client is the unified venue interface the collector and repositories
// consume. Every failure is normalized into domain.RateLimitError or
// domain.ExchangeError before it leaves this package.
type Client interface {
	Exchange() string
	Connect(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error
	FetchCandles(ctx context.Context, symbol, interval string, since *int64, limit int) ([]domain.Candle, error)
	FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error)
	CandleBatchLimit() int
}

// Config holds per-venue client configuration. Credentials are accepted for
// parity with the config file but the public market-data endpoints do not
// require them.
type Config struct {
	ID      string
	APIKey  string
	Secret  string
	RPS     float64
	Burst   int
	Timeout time.Duration
}

type venueClient struct {
	exchange string
	drv      driver
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
}

// NewClient builds a client for a supported exchange id. The token-bucket
// limiter serializes requests below the venue's public burst limits; the
// breaker sheds load when a venue fails repeatedly.
func NewClient(cfg Config) (Client, error) {
	drv, err := driverFor(cfg.ID)
	if err != nil {
		return nil, err
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    cfg.ID,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &venueClient{
		exchange: cfg.ID,
		drv:      drv,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker:  breaker,
	}, nil
}

func (c *venueClient) Exchange() string { return c.exchange }

// CandleBatchLimit reports the venue's maximum candles per request so paged
// fetches can size their batches and detect genuinely short responses.
func (c *venueClient) CandleBatchLimit() int { return c.drv.maxCandles() }

// Connect verifies the venue is reachable. Kept separate from construction
// so wiring can build all clients before any network traffic happens.
func (c *venueClient) Connect(ctx context.Context) error {
	return c.Ping(ctx)
}

func (c *venueClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *venueClient) Ping(ctx context.Context) error {
	_, err := c.get(ctx, c.drv.pingURL())
	return err
}

// FetchCandles returns at most limit candles at or after since, ascending.
func (c *venueClient) FetchCandles(ctx context.Context, symbol, interval string, since *int64, limit int) ([]domain.Candle, error) {
	url, err := c.drv.candlesURL(symbol, interval, since, limit)
	if err != nil {
		return nil, domain.NewFatalError(c.exchange, symbol, err)
	}

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	candles, err := c.drv.parseCandles(body, symbol, interval)
	if err != nil {
		if _, ok := domain.AsRateLimit(err); ok {
			return nil, err
		}
		return nil, domain.NewFatalError(c.exchange, symbol, err)
	}

	// Venues interpret the since bound loosely, so enforce it here along
	// with the requested limit.
	if since != nil {
		filtered := candles[:0]
		for _, candle := range candles {
			if candle.Timestamp >= *since {
				filtered = append(filtered, candle)
			}
		}
		candles = filtered
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[:limit]
	}
	return candles, nil
}

// FetchTicker returns the current quote snapshot for the symbol.
func (c *venueClient) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	url, err := c.drv.tickerURL(symbol)
	if err != nil {
		return nil, domain.NewFatalError(c.exchange, symbol, err)
	}

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	ticker, err := c.drv.parseTicker(body, symbol, time.Now().UnixMilli())
	if err != nil {
		if _, ok := domain.AsRateLimit(err); ok {
			return nil, err
		}
		return nil, domain.NewFatalError(c.exchange, symbol, err)
	}
	return ticker, nil
}

// get performs a throttled, breaker-guarded GET and classifies every
// failure mode.
func (c *venueClient) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.NewTransientError(c.exchange, "", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doRequest(ctx, url)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.NewTransientError(c.exchange, "", fmt.Errorf("circuit open for %s: %w", c.exchange, err))
		}
		return nil, err
	}
	return result.([]byte), nil
}

func (c *venueClient) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewFatalError(c.exchange, "", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewTransientError(c.exchange, "", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418:
		// 418 is Binance's IP-ban escalation of 429.
		return nil, domain.NewRateLimitError(c.exchange, retryAfter(resp))
	case resp.StatusCode >= 500:
		return nil, domain.NewTransientError(c.exchange, "",
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
	case resp.StatusCode != http.StatusOK:
		return nil, domain.NewFatalError(c.exchange, "",
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewTransientError(c.exchange, "", err)
	}
	return body, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0 // NewRateLimitError applies the 60s default
}
