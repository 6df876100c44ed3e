package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectDB подключается к Postgres с повторами; при недоступности БД не падает сразу.
func ConnectDB(ctx context.Context, databaseURL string, maxConns int, maxWait time.Duration) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	poolCfg.MinConns = 2

	var pool *pgxpool.Pool
	err = retry(ctx, "db", maxWait, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		p, err := pgxpool.NewWithConfig(cctx, poolCfg)
		if err != nil {
			return err
		}
		if err := p.Ping(cctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	return pool, err
}
