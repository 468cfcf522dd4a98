package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func validCandle() Candle {
	return Candle{
		Exchange:  "binance",
		Symbol:    "BTC/USDT",
		Interval:  "1h",
		Timestamp: 1_699_999_200_000, // aligned to the hour
		Open:      dec("50000.12345678"),
		High:      dec("50100"),
		Low:       dec("49900"),
		Close:     dec("50050.5"),
		Volume:    dec("123.4567"),
	}
}

func TestCandleValidate(t *testing.T) {
	require.NoError(t, validCandle().Validate())

	c := validCandle()
	c.Symbol = "BTCUSDT"
	assert.Error(t, c.Validate())

	c = validCandle()
	c.Interval = "90m"
	assert.Error(t, c.Validate())

	c = validCandle()
	c.Timestamp++
	assert.Error(t, c.Validate(), "unaligned timestamp must be rejected")

	c = validCandle()
	c.Low = dec("50200")
	assert.Error(t, c.Validate())

	c = validCandle()
	c.Close = dec("49000")
	assert.Error(t, c.Validate())

	c = validCandle()
	c.Volume = dec("-1")
	assert.Error(t, c.Validate())
}

func TestCandleJSONPreservesPrecision(t *testing.T) {
	c := validCandle()
	data, err := json.Marshal(c)
	require.NoError(t, err)

	// Decimal fields travel as strings, never floats.
	assert.Contains(t, string(data), `"open":"50000.12345678"`)

	var back Candle
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, c.Equal(back))
}

func TestCandleEqualByValue(t *testing.T) {
	a := validCandle()
	b := validCandle()
	b.Close = dec("50050.50")
	assert.True(t, a.Equal(b), "trailing zeros must not break equality")

	b.Close = dec("50050.51")
	assert.False(t, a.Equal(b))
}

func TestValidateSymbol(t *testing.T) {
	assert.NoError(t, ValidateSymbol("BTC/USDT"))
	assert.NoError(t, ValidateSymbol("ETH/BTC"))

	for _, bad := range []string{"", "BTCUSDT", "/USDT", "BTC/", "BTC/USD/T"} {
		err := ValidateSymbol(bad)
		require.Error(t, err, "symbol %q", bad)
		var de *Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, ErrCodeInvalidSymbol, de.Code)
		assert.True(t, de.IsClient())
	}
}

func TestTickerValidateAndJSON(t *testing.T) {
	tk := Ticker{
		Exchange:  "kraken",
		Symbol:    "BTC/USD",
		Last:      dec("50000.5"),
		Bid:       decPtr("50000"),
		Ask:       decPtr("50001"),
		Timestamp: 1_700_000_000_000,
	}
	require.NoError(t, tk.Validate())

	data, err := json.Marshal(tk)
	require.NoError(t, err)
	// Optional stats the venue did not report serialize as null.
	assert.Contains(t, string(data), `"high_24h":null`)
	assert.Contains(t, string(data), `"change_pct_24h":null`)

	var back Ticker
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, tk.Equal(back))

	tk.Bid = decPtr("50002")
	assert.Error(t, tk.Validate(), "crossed book must be rejected")
}

func TestRateLimitErrorDefaults(t *testing.T) {
	rl := NewRateLimitError("binance", 0)
	assert.Equal(t, int64(60), int64(rl.RetryAfter.Seconds()))

	wrapped := NewTransientError("binance", "BTC/USDT", rl)
	got, ok := AsRateLimit(wrapped)
	require.True(t, ok)
	assert.Equal(t, "binance", got.Exchange)
}
