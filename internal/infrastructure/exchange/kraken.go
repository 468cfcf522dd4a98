package exchange

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cryptoedge/marketdata/internal/domain"
)

const krakenMaxCandles = 720

// krakenIntervals maps unified intervals to Kraken's minute granularities.
var krakenIntervals = map[string]int{
	"1m": 1, "5m": 5, "15m": 15, "30m": 30,
	"1h": 60, "4h": 240, "1d": 1440, "1w": 10080,
}

type krakenDriver struct {
	baseURL string
}

func newKrakenDriver() *krakenDriver {
	return &krakenDriver{baseURL: "https://api.kraken.com"}
}

func (d *krakenDriver) name() string { return "kraken" }

func (d *krakenDriver) maxCandles() int { return krakenMaxCandles }

func (d *krakenDriver) pingURL() string {
	return d.baseURL + "/0/public/Time"
}

// krakenPair converts BASE/QUOTE into Kraken's concatenated pair, applying
// the BTC to XBT legacy rename.
func krakenPair(symbol string) string {
	parts := strings.SplitN(symbol, "/", 2)
	for i, p := range parts {
		if p == "BTC" {
			parts[i] = "XBT"
		}
	}
	return strings.Join(parts, "")
}

func (d *krakenDriver) candlesURL(symbol, interval string, since *int64, limit int) (string, error) {
	minutes, ok := krakenIntervals[interval]
	if !ok {
		return "", fmt.Errorf("interval %s not supported by kraken", interval)
	}
	url := fmt.Sprintf("%s/0/public/OHLC?pair=%s&interval=%d",
		d.baseURL, krakenPair(symbol), minutes)
	if since != nil {
		// Kraken takes seconds and returns entries strictly after since,
		// so back off one interval to keep the bound inclusive.
		url += fmt.Sprintf("&since=%d", *since/1000-int64(minutes)*60)
	}
	return url, nil
}

type krakenEnvelope struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

func (d *krakenDriver) checkError(env krakenEnvelope) error {
	if len(env.Error) == 0 {
		return nil
	}
	msg := strings.Join(env.Error, "; ")
	if strings.Contains(msg, "Rate limit") {
		return domain.NewRateLimitError(d.name(), 0)
	}
	return fmt.Errorf("kraken error: %s", msg)
}

func (d *krakenDriver) parseCandles(body []byte, symbol, interval string) ([]domain.Candle, error) {
	var env krakenEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("malformed ohlc response: %w", err)
	}
	if err := d.checkError(env); err != nil {
		return nil, err
	}

	// The result map holds the pair key plus a "last" cursor entry.
	var rows [][]json.Number
	for key, raw := range env.Result {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("malformed ohlc payload: %w", err)
		}
		break
	}

	out := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		// Rows are [ts_sec, open, high, low, close, vwap, volume, count].
		if len(row) < 7 {
			return nil, fmt.Errorf("short ohlc row: %d fields", len(row))
		}
		tsSec, err := row[0].Int64()
		if err != nil {
			return nil, fmt.Errorf("bad ohlc timestamp: %w", err)
		}
		fields := make([]decimal.Decimal, 4)
		for i := 0; i < 4; i++ {
			fields[i], err = decimal.NewFromString(row[i+1].String())
			if err != nil {
				return nil, fmt.Errorf("bad ohlc field %q: %w", row[i+1], err)
			}
		}
		volume, err := decimal.NewFromString(row[6].String())
		if err != nil {
			return nil, fmt.Errorf("bad ohlc volume %q: %w", row[6], err)
		}
		out = append(out, domain.Candle{
			Exchange:  d.name(),
			Symbol:    symbol,
			Interval:  interval,
			Timestamp: tsSec * 1000,
			Open:      fields[0],
			High:      fields[1],
			Low:       fields[2],
			Close:     fields[3],
			Volume:    volume,
		})
	}
	return out, nil
}

func (d *krakenDriver) tickerURL(symbol string) (string, error) {
	return fmt.Sprintf("%s/0/public/Ticker?pair=%s", d.baseURL, krakenPair(symbol)), nil
}

func (d *krakenDriver) parseTicker(body []byte, symbol string, nowMs int64) (*domain.Ticker, error) {
	var env krakenEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("malformed ticker response: %w", err)
	}
	if err := d.checkError(env); err != nil {
		return nil, err
	}

	var raw struct {
		A []string `json:"a"` // ask [price, wholeLotVolume, lotVolume]
		B []string `json:"b"` // bid
		C []string `json:"c"` // last trade [price, volume]
		V []string `json:"v"` // volume [today, 24h]
		H []string `json:"h"` // high [today, 24h]
		L []string `json:"l"` // low [today, 24h]
	}
	var found bool
	for _, data := range env.Result {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("malformed ticker payload: %w", err)
		}
		found = true
		break
	}
	if !found || len(raw.C) == 0 {
		return nil, fmt.Errorf("empty ticker payload for %s", symbol)
	}

	last, err := decimal.NewFromString(raw.C[0])
	if err != nil {
		return nil, fmt.Errorf("bad last price %q: %w", raw.C[0], err)
	}

	second := func(vals []string) *decimal.Decimal {
		if len(vals) < 2 {
			return nil
		}
		return optDecimal(vals[1])
	}
	first := func(vals []string) *decimal.Decimal {
		if len(vals) < 1 {
			return nil
		}
		return optDecimal(vals[0])
	}

	return &domain.Ticker{
		Exchange:  d.name(),
		Symbol:    symbol,
		Last:      last,
		Bid:       first(raw.B),
		Ask:       first(raw.A),
		High24h:   second(raw.H),
		Low24h:    second(raw.L),
		Volume24h: second(raw.V),
		// Kraken reports no 24h change or snapshot time.
		Timestamp: nowMs,
	}, nil
}
