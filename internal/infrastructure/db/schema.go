package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is the authoritative DDL for the ohlcv table. The unique
// constraint enforces the identity key; the composite index serves range
// reads and the gap-fill timestamp projection.
const schema = `
CREATE TABLE IF NOT EXISTS ohlcv (
    id         UUID PRIMARY KEY,
    exchange   VARCHAR(32) NOT NULL,
    symbol     VARCHAR(32) NOT NULL,
    "interval" VARCHAR(8)  NOT NULL,
    "timestamp" BIGINT     NOT NULL,
    open       NUMERIC(18,8) NOT NULL,
    high       NUMERIC(18,8) NOT NULL,
    low        NUMERIC(18,8) NOT NULL,
    close      NUMERIC(18,8) NOT NULL,
    volume     NUMERIC(18,4) NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT now(),
    CONSTRAINT uq_ohlcv_key UNIQUE (exchange, symbol, "interval", "timestamp")
);

CREATE INDEX IF NOT EXISTS idx_ohlcv_lookup
    ON ohlcv (exchange, symbol, "interval", "timestamp");
`

// Migrate applies the schema. Statements are idempotent, so running it on
// every deploy is safe.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
