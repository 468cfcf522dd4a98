package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cryptoedge/marketdata/internal/domain"
)

const binanceMaxCandles = 1000

// binanceDriver speaks the Binance spot REST API. Binance supports the full
// interval vocabulary natively.
type binanceDriver struct {
	baseURL string
}

func newBinanceDriver() *binanceDriver {
	return &binanceDriver{baseURL: "https://api.binance.com"}
}

func (d *binanceDriver) name() string { return "binance" }

func (d *binanceDriver) maxCandles() int { return binanceMaxCandles }

func (d *binanceDriver) pingURL() string {
	return d.baseURL + "/api/v3/ping"
}

func binanceSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

func (d *binanceDriver) candlesURL(symbol, interval string, since *int64, limit int) (string, error) {
	if !domain.ValidInterval(interval) {
		return "", fmt.Errorf("unknown interval %q", interval)
	}
	if limit > binanceMaxCandles {
		limit = binanceMaxCandles
	}
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		d.baseURL, binanceSymbol(symbol), interval, limit)
	if since != nil {
		url += fmt.Sprintf("&startTime=%d", *since)
	}
	return url, nil
}

func (d *binanceDriver) parseCandles(body []byte, symbol, interval string) ([]domain.Candle, error) {
	// Kline rows mix numbers and strings:
	// [openTime, "open", "high", "low", "close", "volume", closeTime, ...]
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var rows [][]interface{}
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("malformed klines response: %w", err)
	}

	out := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("short kline row: %d fields", len(row))
		}
		ts, err := jsonInt64(row[0])
		if err != nil {
			return nil, fmt.Errorf("bad kline timestamp: %w", err)
		}
		prices, err := jsonDecimals(row[1:6])
		if err != nil {
			return nil, fmt.Errorf("bad kline field: %w", err)
		}
		out = append(out, domain.Candle{
			Exchange:  d.name(),
			Symbol:    symbol,
			Interval:  interval,
			Timestamp: ts,
			Open:      prices[0],
			High:      prices[1],
			Low:       prices[2],
			Close:     prices[3],
			Volume:    prices[4],
		})
	}
	return out, nil
}

func (d *binanceDriver) tickerURL(symbol string) (string, error) {
	return fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", d.baseURL, binanceSymbol(symbol)), nil
}

func (d *binanceDriver) parseTicker(body []byte, symbol string, nowMs int64) (*domain.Ticker, error) {
	var raw struct {
		LastPrice          string `json:"lastPrice"`
		BidPrice           string `json:"bidPrice"`
		AskPrice           string `json:"askPrice"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		QuoteVolume        string `json:"quoteVolume"`
		PriceChangePercent string `json:"priceChangePercent"`
		CloseTime          int64  `json:"closeTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("malformed ticker response: %w", err)
	}
	last, err := decimal.NewFromString(raw.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("bad last price %q: %w", raw.LastPrice, err)
	}

	ts := raw.CloseTime
	if ts == 0 {
		ts = nowMs
	}
	return &domain.Ticker{
		Exchange:     d.name(),
		Symbol:       symbol,
		Last:         last,
		Bid:          optDecimal(raw.BidPrice),
		Ask:          optDecimal(raw.AskPrice),
		High24h:      optDecimal(raw.HighPrice),
		Low24h:       optDecimal(raw.LowPrice),
		Volume24h:    optDecimal(raw.QuoteVolume),
		ChangePct24h: optDecimal(raw.PriceChangePercent),
		Timestamp:    ts,
	}, nil
}

// jsonInt64 converts a decoded json.Number to int64.
func jsonInt64(v interface{}) (int64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("expected number, got %T", v)
	}
	return n.Int64()
}

// jsonDecimals converts decoded string fields to decimals. Values go
// through their string form so no binary float drift is possible.
func jsonDecimals(vals []interface{}) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			if n, isNum := v.(json.Number); isNum {
				s = n.String()
			} else {
				return nil, fmt.Errorf("expected string, got %T", v)
			}
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// optDecimal parses an optional venue field, returning nil for absent or
// unparsable values.
func optDecimal(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}
