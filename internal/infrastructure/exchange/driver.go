package exchange

import (
	"fmt"

	"github.com/cryptoedge/marketdata/internal/domain"
)

// driver translates venue-specific request and response layouts into the
// unified domain shapes. Drivers do no I/O; the client owns transport,
// throttling and error classification.
type driver interface {
	name() string
	maxCandles() int
	candlesURL(symbol, interval string, since *int64, limit int) (string, error)
	parseCandles(body []byte, symbol, interval string) ([]domain.Candle, error)
	tickerURL(symbol string) (string, error)
	parseTicker(body []byte, symbol string, nowMs int64) (*domain.Ticker, error)
	pingURL() string
}

// driverFor returns the driver for a configured exchange id.
func driverFor(id string) (driver, error) {
	switch id {
	case "binance":
		return newBinanceDriver(), nil
	case "okx":
		return newOKXDriver(), nil
	case "kraken":
		return newKrakenDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", id)
	}
}
