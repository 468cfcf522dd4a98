package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Candle is a single OHLCV record. Identity is the
// (exchange, symbol, interval, timestamp) tuple; timestamp is the candle's
// open time in UTC milliseconds, aligned to the interval duration.
//
// Prices carry 8 fractional digits, volume 4. All decimal fields serialize
// as JSON strings so no float drift can occur on the wire.
type Candle struct {
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Interval  string          `json:"interval"`
	Timestamp int64           `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Key returns the identity key in cache-key form.
func (c Candle) Key() string {
	return fmt.Sprintf("%s:%s:%s:%d", c.Exchange, c.Symbol, c.Interval, c.Timestamp)
}

// SeriesKey identifies the (exchange, symbol, interval) series the candle
// belongs to.
func (c Candle) SeriesKey() string {
	return fmt.Sprintf("%s:%s:%s", c.Exchange, c.Symbol, c.Interval)
}

// Equal compares all fields, with decimals compared by value rather than
// representation (1.50 equals 1.5).
func (c Candle) Equal(o Candle) bool {
	return c.Exchange == o.Exchange &&
		c.Symbol == o.Symbol &&
		c.Interval == o.Interval &&
		c.Timestamp == o.Timestamp &&
		c.Open.Equal(o.Open) &&
		c.High.Equal(o.High) &&
		c.Low.Equal(o.Low) &&
		c.Close.Equal(o.Close) &&
		c.Volume.Equal(o.Volume)
}

// Validate checks the record invariants: low <= open,close <= high,
// volume >= 0, a known interval, and a timestamp aligned to it.
func (c Candle) Validate() error {
	if err := ValidateSymbol(c.Symbol); err != nil {
		return err
	}
	ms, ok := IntervalMillis(c.Interval)
	if !ok {
		return fmt.Errorf("unknown interval %q", c.Interval)
	}
	if c.Timestamp%ms != 0 {
		return fmt.Errorf("timestamp %d not aligned to %s", c.Timestamp, c.Interval)
	}
	if c.Low.GreaterThan(c.High) {
		return fmt.Errorf("low %s above high %s", c.Low, c.High)
	}
	if c.Open.LessThan(c.Low) || c.Open.GreaterThan(c.High) {
		return fmt.Errorf("open %s outside [%s, %s]", c.Open, c.Low, c.High)
	}
	if c.Close.LessThan(c.Low) || c.Close.GreaterThan(c.High) {
		return fmt.Errorf("close %s outside [%s, %s]", c.Close, c.Low, c.High)
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("negative volume %s", c.Volume)
	}
	return nil
}

// ValidateSymbol checks the BASE/QUOTE form with both sides non-empty.
func ValidateSymbol(symbol string) error {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return NewClientError(ErrCodeInvalidSymbol,
			fmt.Sprintf("invalid symbol format: %s, expected BASE/QUOTE", symbol),
			map[string]interface{}{"symbol": symbol})
	}
	return nil
}
