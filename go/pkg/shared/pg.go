package shared

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:generate mockgen -source=pg.go -destination=mock/pg_mock.go -package=mock

// Rows is the subset of pgx.Rows read by the storage adapters.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	Ping(ctx context.Context) error
	Close()
}

type PgxDB struct {
	pool *pgxpool.Pool
}

func NewPgxPool(ctx context.Context, cfg PostgresConfig) (*PgxDB, error) {
	url := fmt.Sprintf("postgres://%s:%s@%s:%d/%s", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	pcfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	if cfg.PoolMax > 0 {
		pcfg.MaxConns = int32(cfg.PoolMax)
	}
	p, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	return &PgxDB{pool: p}, nil
}

func (d *PgxDB) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := d.pool.Exec(ctx, sql, args...)
	return err
}

func (d *PgxDB) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return d.pool.Query(ctx, sql, args...)
}

func (d *PgxDB) Ping(ctx context.Context) error { return d.pool.Ping(ctx) }

func (d *PgxDB) Close() { d.pool.Close() }
