package exchange

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptoedge/marketdata/internal/domain"
)

const (
	okxMaxCandles        = 300
	okxMaxHistoryCandles = 100
)

// okxBars maps unified intervals to OKX bar codes. OKX uppercases hour and
// larger granularities and has no 8h bar.
var okxBars = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1H", "2h": "2H", "4h": "4H", "6h": "6H", "12h": "12H",
	"1d": "1D", "3d": "3D", "1w": "1W", "1M": "1M",
}

type okxDriver struct {
	baseURL string
}

func newOKXDriver() *okxDriver {
	return &okxDriver{baseURL: "https://www.okx.com"}
}

func (d *okxDriver) name() string { return "okx" }

func (d *okxDriver) pingURL() string {
	return d.baseURL + "/api/v5/public/time"
}

func okxInstID(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "-")
}

func (d *okxDriver) maxCandles() int { return okxMaxHistoryCandles }

func (d *okxDriver) candlesURL(symbol, interval string, since *int64, limit int) (string, error) {
	bar, ok := okxBars[interval]
	if !ok {
		return "", fmt.Errorf("interval %s not supported by okx", interval)
	}
	step, ok := domain.IntervalMillis(interval)
	if !ok {
		return "", fmt.Errorf("interval %s not supported by okx", interval)
	}

	// The recent-candles endpoint only retains the newest ~300 bars and its
	// "before" bound pages from the newest side, so anything older goes
	// through history-candles instead.
	if since == nil || time.Now().UnixMilli()-*since < int64(okxMaxCandles)*step {
		if limit > okxMaxCandles {
			limit = okxMaxCandles
		}
		url := fmt.Sprintf("%s/api/v5/market/candles?instId=%s&bar=%s&limit=%d",
			d.baseURL, okxInstID(symbol), bar, limit)
		if since != nil {
			// The "before" bound is exclusive on the older side.
			url += fmt.Sprintf("&before=%d", *since-1)
		}
		return url, nil
	}

	// history-candles returns the limit bars immediately older than "after",
	// newest first. Anchoring after one full window past since yields
	// [since, since+limit*step); bars padded in from before since are
	// dropped by the client's since filter.
	if limit > okxMaxHistoryCandles {
		limit = okxMaxHistoryCandles
	}
	return fmt.Sprintf("%s/api/v5/market/history-candles?instId=%s&bar=%s&limit=%d&after=%d",
		d.baseURL, okxInstID(symbol), bar, limit, *since+int64(limit)*step), nil
}

type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (d *okxDriver) parseCandles(body []byte, symbol, interval string) ([]domain.Candle, error) {
	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("malformed candles response: %w", err)
	}
	if env.Code != "0" {
		return nil, fmt.Errorf("okx error %s: %s", env.Code, env.Msg)
	}

	// Rows are [ts, o, h, l, c, vol, volCcy, ...] as strings, newest first.
	var rows [][]string
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, fmt.Errorf("malformed candles payload: %w", err)
	}

	out := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("short candle row: %d fields", len(row))
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad candle timestamp %q: %w", row[0], err)
		}
		fields := make([]decimal.Decimal, 5)
		for i := 0; i < 5; i++ {
			fields[i], err = decimal.NewFromString(row[i+1])
			if err != nil {
				return nil, fmt.Errorf("bad candle field %q: %w", row[i+1], err)
			}
		}
		out = append(out, domain.Candle{
			Exchange:  d.name(),
			Symbol:    symbol,
			Interval:  interval,
			Timestamp: ts,
			Open:      fields[0],
			High:      fields[1],
			Low:       fields[2],
			Close:     fields[3],
			Volume:    fields[4],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (d *okxDriver) tickerURL(symbol string) (string, error) {
	return fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", d.baseURL, okxInstID(symbol)), nil
}

func (d *okxDriver) parseTicker(body []byte, symbol string, nowMs int64) (*domain.Ticker, error) {
	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("malformed ticker response: %w", err)
	}
	if env.Code != "0" {
		return nil, fmt.Errorf("okx error %s: %s", env.Code, env.Msg)
	}

	var data []struct {
		Last     string `json:"last"`
		BidPx    string `json:"bidPx"`
		AskPx    string `json:"askPx"`
		High24h  string `json:"high24h"`
		Low24h   string `json:"low24h"`
		VolCcy   string `json:"volCcy24h"`
		Open24h  string `json:"open24h"`
		TsString string `json:"ts"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("malformed ticker payload: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty ticker payload for %s", symbol)
	}
	raw := data[0]

	last, err := decimal.NewFromString(raw.Last)
	if err != nil {
		return nil, fmt.Errorf("bad last price %q: %w", raw.Last, err)
	}

	ts := nowMs
	if raw.TsString != "" {
		if parsed, err := strconv.ParseInt(raw.TsString, 10, 64); err == nil {
			ts = parsed
		}
	}

	// OKX reports no 24h change, so derive it from the 24h open.
	var changePct *decimal.Decimal
	if open := optDecimal(raw.Open24h); open != nil && !open.IsZero() {
		pct := last.Sub(*open).Div(*open).Mul(decimal.NewFromInt(100))
		changePct = &pct
	}

	return &domain.Ticker{
		Exchange:     d.name(),
		Symbol:       symbol,
		Last:         last,
		Bid:          optDecimal(raw.BidPx),
		Ask:          optDecimal(raw.AskPx),
		High24h:      optDecimal(raw.High24h),
		Low24h:       optDecimal(raw.Low24h),
		Volume24h:    optDecimal(raw.VolCcy),
		ChangePct24h: changePct,
		Timestamp:    ts,
	}, nil
}
