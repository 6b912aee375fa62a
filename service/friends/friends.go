// Package friends resolves friend lists from the social graph in Postgres.
package friends

import (
	"context"
	"fmt"
	"time"

	"ChatRelay/global/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store runs the friends query. The query takes the user id as $1 and
// returns one friend id per row.
type Store struct {
	db      Querier
	query   string
	timeout time.Duration
}

func NewStore(db Querier, query string, timeout time.Duration) *Store {
	if query == "" {
		query = config.DefaultFriendsQuery
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Store{db: db, query: query, timeout: timeout}
}

func (s *Store) Friends(ctx context.Context, userID int64) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rows, err := s.db.Query(ctx, s.query, userID)
	if err != nil {
		return nil, fmt.Errorf("query friends of %d: %w", userID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan friends of %d: %w", userID, err)
	}
	return ids, nil
}

// Connect creates and pings a pool for cfg.DSN.
func Connect(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
