package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Ticker is a point-in-time quote snapshot keyed by (exchange, symbol).
// Only Last and Timestamp are required; the 24h statistics are optional and
// serialize as null when the venue does not report them. Tickers live only
// in the cache, bounded by TTL, and are never persisted.
type Ticker struct {
	Exchange     string           `json:"exchange"`
	Symbol       string           `json:"symbol"`
	Last         decimal.Decimal  `json:"last"`
	Bid          *decimal.Decimal `json:"bid"`
	Ask          *decimal.Decimal `json:"ask"`
	High24h      *decimal.Decimal `json:"high_24h"`
	Low24h       *decimal.Decimal `json:"low_24h"`
	Volume24h    *decimal.Decimal `json:"volume_24h"`
	ChangePct24h *decimal.Decimal `json:"change_pct_24h"`
	Timestamp    int64            `json:"timestamp"`
}

// Validate checks bid <= ask when both sides are present.
func (t Ticker) Validate() error {
	if err := ValidateSymbol(t.Symbol); err != nil {
		return err
	}
	if t.Bid != nil && t.Ask != nil && t.Bid.GreaterThan(*t.Ask) {
		return fmt.Errorf("bid %s above ask %s", t.Bid, t.Ask)
	}
	return nil
}

// Equal compares all fields by decimal value.
func (t Ticker) Equal(o Ticker) bool {
	return t.Exchange == o.Exchange &&
		t.Symbol == o.Symbol &&
		t.Timestamp == o.Timestamp &&
		t.Last.Equal(o.Last) &&
		decimalPtrEqual(t.Bid, o.Bid) &&
		decimalPtrEqual(t.Ask, o.Ask) &&
		decimalPtrEqual(t.High24h, o.High24h) &&
		decimalPtrEqual(t.Low24h, o.Low24h) &&
		decimalPtrEqual(t.Volume24h, o.Volume24h) &&
		decimalPtrEqual(t.ChangePct24h, o.ChangePct24h)
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
