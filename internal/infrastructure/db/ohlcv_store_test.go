package db

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoedge/marketdata/internal/domain"
)

func newTestStore(t *testing.T) (*OHLCVStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewOHLCVStore(sqlx.NewDb(mockDB, "postgres"), 5*time.Second), mock
}

func testCandles(n int) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{
			Exchange:  "binance",
			Symbol:    "BTC/USDT",
			Interval:  "1h",
			Timestamp: int64(i) * 3_600_000,
			Open:      decimal.NewFromInt(100),
			High:      decimal.NewFromInt(110),
			Low:       decimal.NewFromInt(90),
			Close:     decimal.NewFromInt(105),
			Volume:    decimal.NewFromInt(7),
		}
	}
	return out
}

func TestUpsertWritesBatchInTransaction(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)INSERT INTO ohlcv .+ON CONFLICT ON CONSTRAINT uq_ohlcv_key DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := store.Upsert(context.Background(), testCandles(2))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCollapsesDuplicateKeys(t *testing.T) {
	store, mock := newTestStore(t)

	records := testCandles(2)
	dup := records[1]
	dup.Close = decimal.NewFromInt(999)
	records = append(records, dup)

	// 2 distinct keys survive: 20 bind parameters, and the later duplicate
	// wins. A third row would make the ON CONFLICT clause hit the same row
	// twice and fail the whole statement.
	args := anyArgs(20)
	args[18] = "999" // close of the second key, taken from the duplicate
	mock.ExpectBegin()
	mock.ExpectExec(`(?s)INSERT INTO ohlcv .+ON CONFLICT ON CONSTRAINT uq_ohlcv_key DO UPDATE SET`).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := store.Upsert(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func anyArgs(n int) []driver.Value {
	out := make([]driver.Value, n)
	for i := range out {
		out[i] = sqlmock.AnyArg()
	}
	return out
}

func TestUpsertEmptyBatchIsNoop(t *testing.T) {
	store, mock := newTestStore(t)

	n, err := store.Upsert(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRollsBackOnFailure(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ohlcv`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := store.Upsert(context.Background(), testCandles(1))
	require.Error(t, err)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.ErrCodeDatabase, de.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func candleColumns() []string {
	return []string{"exchange", "symbol", "interval", "timestamp", "open", "high", "low", "close", "volume"}
}

func TestQueryReturnsPageWithoutCursor(t *testing.T) {
	store, mock := newTestStore(t)

	rows := sqlmock.NewRows(candleColumns()).
		AddRow("binance", "BTC/USDT", "1h", int64(0), "100", "110", "90", "105", "7").
		AddRow("binance", "BTC/USDT", "1h", int64(3_600_000), "105", "115", "95", "110", "8")

	mock.ExpectQuery(`SELECT exchange, symbol, "interval", "timestamp", open, high, low, close, volume`).
		WithArgs("binance", "BTC/USDT", "1h", 3).
		WillReturnRows(rows)

	got, next, err := store.Query(context.Background(), "binance", "BTC/USDT", "1h", nil, nil, nil, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Nil(t, next, "full page without overflow row has no next cursor")
	assert.Equal(t, int64(3_600_000), got[1].Timestamp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryEmitsCursorWhenMoreRowsExist(t *testing.T) {
	store, mock := newTestStore(t)

	rows := sqlmock.NewRows(candleColumns()).
		AddRow("binance", "BTC/USDT", "1h", int64(0), "100", "110", "90", "105", "7").
		AddRow("binance", "BTC/USDT", "1h", int64(3_600_000), "105", "115", "95", "110", "8").
		AddRow("binance", "BTC/USDT", "1h", int64(7_200_000), "110", "120", "100", "115", "9")

	mock.ExpectQuery(`SELECT exchange, symbol`).
		WithArgs("binance", "BTC/USDT", "1h", 3).
		WillReturnRows(rows)

	got, next, err := store.Query(context.Background(), "binance", "BTC/USDT", "1h", nil, nil, nil, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2, "overflow row is trimmed from the page")
	require.NotNil(t, next)
	assert.Equal(t, int64(3_600_000), *next, "cursor is the last returned timestamp")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryAppliesAllFilters(t *testing.T) {
	store, mock := newTestStore(t)

	start, end, cursor := int64(0), int64(86_400_000), int64(3_600_000)
	mock.ExpectQuery(`"timestamp" >= \$4 AND "timestamp" <= \$5 AND "timestamp" > \$6`).
		WithArgs("binance", "BTC/USDT", "1h", start, end, cursor, 11).
		WillReturnRows(sqlmock.NewRows(candleColumns()))

	got, next, err := store.Query(context.Background(), "binance", "BTC/USDT", "1h", &start, &end, &cursor, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Nil(t, next)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimestamps(t *testing.T) {
	store, mock := newTestStore(t)

	rows := sqlmock.NewRows([]string{"timestamp"}).
		AddRow(int64(0)).
		AddRow(int64(3_600_000)).
		AddRow(int64(10_800_000))

	mock.ExpectQuery(`SELECT "timestamp"`).
		WithArgs("binance", "BTC/USDT", "1h", int64(0)).
		WillReturnRows(rows)

	present, err := store.Timestamps(context.Background(), "binance", "BTC/USDT", "1h", 0)
	require.NoError(t, err)
	assert.Len(t, present, 3)
	_, ok := present[int64(3_600_000)]
	assert.True(t, ok)
	_, ok = present[int64(7_200_000)]
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
