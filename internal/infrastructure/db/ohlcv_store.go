package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/cryptoedge/marketdata/internal/domain"
)

// upsertChunk bounds the number of rows per INSERT statement so parameter
// counts stay well under the PostgreSQL limit.
const upsertChunk = 500

// OHLCVStore is the canonical candle store. Writes are idempotent on the
// (exchange, symbol, interval, timestamp) key; reads use cursor pagination,
// which stays stable under concurrent writes.
type OHLCVStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewOHLCVStore creates a store bound to the given connection pool.
func NewOHLCVStore(db *sqlx.DB, timeout time.Duration) *OHLCVStore {
	return &OHLCVStore{db: db, timeout: timeout}
}

type candleRow struct {
	Exchange  string          `db:"exchange"`
	Symbol    string          `db:"symbol"`
	Interval  string          `db:"interval"`
	Timestamp int64           `db:"timestamp"`
	Open      decimal.Decimal `db:"open"`
	High      decimal.Decimal `db:"high"`
	Low       decimal.Decimal `db:"low"`
	Close     decimal.Decimal `db:"close"`
	Volume    decimal.Decimal `db:"volume"`
}

func (r candleRow) toDomain() domain.Candle {
	return domain.Candle{
		Exchange:  r.Exchange,
		Symbol:    r.Symbol,
		Interval:  r.Interval,
		Timestamp: r.Timestamp,
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
}

type candleKey struct {
	exchange string
	symbol   string
	interval string
	ts       int64
}

// dedupe collapses records sharing an identity key, last occurrence winning.
// Postgres rejects an INSERT whose ON CONFLICT clause would touch the same
// row twice, so duplicates must never reach one statement.
func dedupe(records []domain.Candle) []domain.Candle {
	index := make(map[candleKey]int, len(records))
	out := make([]domain.Candle, 0, len(records))
	for _, r := range records {
		k := candleKey{r.Exchange, r.Symbol, r.Interval, r.Timestamp}
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}

// Upsert writes the batch atomically. Conflicts on the identity key
// overwrite open/high/low/close/volume, so replaying a batch is a no-op and
// the last writer wins for a given timestamp. Returns the number of records
// written.
func (s *OHLCVStore) Upsert(ctx context.Context, records []domain.Candle) (int, error) {
	records = dedupe(records)
	if len(records) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, domain.WrapServerError(domain.ErrCodeDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(records); start += upsertChunk {
		end := start + upsertChunk
		if end > len(records) {
			end = len(records)
		}
		if err := upsertBatch(ctx, tx, records[start:end]); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, domain.WrapServerError(domain.ErrCodeDatabase, "failed to commit upsert", err)
	}
	return len(records), nil
}

func upsertBatch(ctx context.Context, tx *sqlx.Tx, records []domain.Candle) error {
	placeholders := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*10)

	for i, r := range records {
		base := i * 10
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10))
		args = append(args,
			uuid.New().String(), r.Exchange, r.Symbol, r.Interval, r.Timestamp,
			r.Open, r.High, r.Low, r.Close, r.Volume)
	}

	query := fmt.Sprintf(`
		INSERT INTO ohlcv (id, exchange, symbol, "interval", "timestamp", open, high, low, close, volume)
		VALUES %s
		ON CONFLICT ON CONSTRAINT uq_ohlcv_key DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume`,
		strings.Join(placeholders, ", "))

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return domain.WrapServerError(domain.ErrCodeDatabase, "failed to upsert ohlcv batch", err)
	}
	return nil
}

// Query returns candles matching the filters in ascending timestamp order.
// start and end are inclusive; cursor is a strictly-greater-than lower bound.
// When more rows exist past the limit, the second return value carries the
// timestamp of the last returned row as the next cursor.
func (s *OHLCVStore) Query(ctx context.Context, exchange, symbol, interval string, start, end, cursor *int64, limit int) ([]domain.Candle, *int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conds := []string{"exchange = $1", "symbol = $2", `"interval" = $3`}
	args := []interface{}{exchange, symbol, interval}

	if start != nil {
		args = append(args, *start)
		conds = append(conds, fmt.Sprintf(`"timestamp" >= $%d`, len(args)))
	}
	if end != nil {
		args = append(args, *end)
		conds = append(conds, fmt.Sprintf(`"timestamp" <= $%d`, len(args)))
	}
	if cursor != nil {
		args = append(args, *cursor)
		conds = append(conds, fmt.Sprintf(`"timestamp" > $%d`, len(args)))
	}

	// Fetch one extra row to detect whether another page exists.
	args = append(args, limit+1)
	query := fmt.Sprintf(`
		SELECT exchange, symbol, "interval", "timestamp", open, high, low, close, volume
		FROM ohlcv
		WHERE %s
		ORDER BY "timestamp" ASC
		LIMIT $%d`,
		strings.Join(conds, " AND "), len(args))

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, nil, domain.WrapServerError(domain.ErrCodeDatabase, "failed to query ohlcv", err)
	}
	defer rows.Close()

	var out []domain.Candle
	for rows.Next() {
		var r candleRow
		if err := rows.StructScan(&r); err != nil {
			return nil, nil, domain.WrapServerError(domain.ErrCodeDatabase, "failed to scan ohlcv row", err)
		}
		out = append(out, r.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, nil, domain.WrapServerError(domain.ErrCodeDatabase, "failed to iterate ohlcv rows", err)
	}

	var nextCursor *int64
	if len(out) > limit {
		out = out[:limit]
		last := out[len(out)-1].Timestamp
		nextCursor = &last
	}
	return out, nextCursor, nil
}

// Timestamps returns the set of candle open times at or after since. The
// gap-fill planner diffs this against the expected timeline.
func (s *OHLCVStore) Timestamps(ctx context.Context, exchange, symbol, interval string, since int64) (map[int64]struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT "timestamp"
		FROM ohlcv
		WHERE exchange = $1 AND symbol = $2 AND "interval" = $3 AND "timestamp" >= $4
		ORDER BY "timestamp" ASC`

	rows, err := s.db.QueryxContext(ctx, query, exchange, symbol, interval, since)
	if err != nil {
		return nil, domain.WrapServerError(domain.ErrCodeDatabase, "failed to query ohlcv timestamps", err)
	}
	defer rows.Close()

	present := make(map[int64]struct{})
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, domain.WrapServerError(domain.ErrCodeDatabase, "failed to scan timestamp", err)
		}
		present[ts] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapServerError(domain.ErrCodeDatabase, "failed to iterate timestamps", err)
	}
	return present, nil
}

// Ping verifies store connectivity for health checks.
func (s *OHLCVStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}
