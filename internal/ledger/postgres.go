package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/koopa0/system-design/trivia-rooms/pkg/errors"
)

// PoolConfig 連線池設定
type PoolConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// NewPool 建立並驗證 pgx 連線池
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Postgres 以 PostgreSQL 保存分數，資料表由 migrations 套件建立
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres 創建 PostgreSQL 計分庫
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const (
	appendScoreSQL = `
INSERT INTO scores (username, points)
VALUES ($1, $2)
RETURNING id, username, points, played_at`

	topScoresSQL = `
SELECT id, username, points, played_at
FROM scores
ORDER BY points DESC, played_at ASC, id ASC
LIMIT $1`
)

// Append 追加一筆分數，played_at 由資料庫指定
func (p *Postgres) Append(ctx context.Context, username string, points int) (Score, error) {
	username, err := validate(username, points)
	if err != nil {
		return Score{}, err
	}

	var s Score
	err = p.pool.QueryRow(ctx, appendScoreSQL, username, points).
		Scan(&s.ID, &s.Username, &s.Points, &s.PlayedAt)
	if err != nil {
		return Score{}, apperrors.Wrap(err, apperrors.ErrCodeLedger, "append score")
	}
	return s, nil
}

// TopScores 前 limit 高分
func (p *Postgres) TopScores(ctx context.Context, limit int) ([]Score, error) {
	rows, err := p.pool.Query(ctx, topScoresSQL, NormalizeLimit(limit))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeLedger, "query top scores")
	}

	scores, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Score, error) {
		var s Score
		err := row.Scan(&s.ID, &s.Username, &s.Points, &s.PlayedAt)
		return s, err
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeLedger, "scan top scores")
	}
	if scores == nil {
		scores = []Score{}
	}
	return scores, nil
}

// Ping 健康檢查用
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
