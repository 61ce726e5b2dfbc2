// Package persist batches basis ticks and their per-second candles into
// Postgres/Timescale.
package persist

import (
	"context"

	"basis-tracker/go/pkg/shared"

	"github.com/pkg/errors"
)

//go:generate mockgen -source=store.go -destination=mock/store_mock.go -package=mock

// Store is the durable tick and candle backend.
type Store interface {
	InsertTicks(ctx context.Context, ticks []shared.Tick) error
	UpsertCandles(ctx context.Context, bars []shared.Bar1s) error
	QueryTicks(ctx context.Context, symbol string, fromMs, toMs int64, limit int) ([]shared.Tick, error)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ticks (
	symbol    TEXT             NOT NULL,
	ts_ms     BIGINT           NOT NULL,
	spot      DOUBLE PRECISION NOT NULL,
	mark      DOUBLE PRECISION NOT NULL,
	basis_bps DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (symbol, ts_ms)
)`,
	`CREATE TABLE IF NOT EXISTS candles_1s (
	symbol TEXT             NOT NULL,
	ts     TIMESTAMPTZ      NOT NULL,
	series TEXT             NOT NULL,
	open   DOUBLE PRECISION NOT NULL,
	high   DOUBLE PRECISION NOT NULL,
	low    DOUBLE PRECISION NOT NULL,
	close  DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (symbol, ts, series)
)`,
}

const insertTicksSQL = `
INSERT INTO ticks (symbol, ts_ms, spot, mark, basis_bps)
SELECT * FROM unnest($1::text[], $2::bigint[], $3::float8[], $4::float8[], $5::float8[])
ON CONFLICT (symbol, ts_ms) DO NOTHING`

const upsertCandlesSQL = `
INSERT INTO candles_1s (symbol, ts, series, open, high, low, close)
SELECT u.symbol, to_timestamp(u.ts), u.series, u.open, u.high, u.low, u.close
FROM unnest($1::text[], $2::bigint[], $3::text[], $4::float8[], $5::float8[], $6::float8[], $7::float8[])
    AS u(symbol, ts, series, open, high, low, close)
ON CONFLICT (symbol, ts, series) DO UPDATE
SET high  = GREATEST(candles_1s.high, EXCLUDED.high),
    low   = LEAST(candles_1s.low, EXCLUDED.low),
    close = EXCLUDED.close`

const queryTicksSQL = `
SELECT symbol, ts_ms, spot, mark, basis_bps
FROM ticks
WHERE symbol = $1 AND ts_ms >= $2 AND ts_ms <= $3
ORDER BY ts_ms ASC
LIMIT $4`

// PgStore implements Store over a pgx pool.
type PgStore struct {
	db shared.DB
}

func NewPgStore(db shared.DB) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.db.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "ensure schema")
		}
	}
	return nil
}

func (s *PgStore) InsertTicks(ctx context.Context, ticks []shared.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	symbols := make([]string, len(ticks))
	ts := make([]int64, len(ticks))
	spot := make([]float64, len(ticks))
	mark := make([]float64, len(ticks))
	bps := make([]float64, len(ticks))
	for i, t := range ticks {
		symbols[i], ts[i], spot[i], mark[i], bps[i] = t.Symbol, t.Ts, t.Spot, t.Mark, t.BasisBps
	}
	if err := s.db.Exec(ctx, insertTicksSQL, symbols, ts, spot, mark, bps); err != nil {
		return errors.Wrap(err, "insert ticks")
	}
	return nil
}

func (s *PgStore) UpsertCandles(ctx context.Context, bars []shared.Bar1s) error {
	if len(bars) == 0 {
		return nil
	}
	n := len(bars)
	symbols, series := make([]string, n), make([]string, n)
	ts := make([]int64, n)
	o, h, l, c := make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	for i, b := range bars {
		symbols[i], ts[i], series[i] = b.Symbol, b.TS, b.Series
		o[i], h[i], l[i], c[i] = b.O, b.H, b.L, b.C
	}
	if err := s.db.Exec(ctx, upsertCandlesSQL, symbols, ts, series, o, h, l, c); err != nil {
		return errors.Wrap(err, "upsert candles")
	}
	return nil
}

func (s *PgStore) QueryTicks(ctx context.Context, symbol string, fromMs, toMs int64, limit int) ([]shared.Tick, error) {
	rows, err := s.db.Query(ctx, queryTicksSQL, symbol, fromMs, toMs, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query ticks")
	}
	defer rows.Close()

	out := []shared.Tick{}
	for rows.Next() {
		var t shared.Tick
		if err := rows.Scan(&t.Symbol, &t.Ts, &t.Spot, &t.Mark, &t.BasisBps); err != nil {
			return nil, errors.Wrap(err, "scan tick")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate ticks")
	}
	return out, nil
}
