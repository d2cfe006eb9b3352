// Package ledger 歷史分數的持久化
//
// 核心只透過 Ledger 介面存取分數；實作可能是 PostgreSQL、記憶體，
// 或在前者外面再包一層 Redis 快取。所有失敗都以 LEDGER_FAILURE 回報，
// 呼叫端只需通知發起的連線，不影響房間與遊戲。
package ledger

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	apperrors "github.com/koopa0/system-design/trivia-rooms/pkg/errors"
)

// DefaultTopLimit 排行榜預設筆數
const DefaultTopLimit = 10

// MaxTopLimit 排行榜單次查詢上限
const MaxTopLimit = 100

// Score 一筆完成的分數
type Score struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	Points   int       `json:"points"`
	PlayedAt time.Time `json:"playedAt"`
}

// Ledger 分數的追加與查詢
type Ledger interface {
	// Append 追加一筆分數
	Append(ctx context.Context, username string, points int) (Score, error)
	// TopScores 依分數遞減回傳前 limit 筆，同分時較早者在前
	TopScores(ctx context.Context, limit int) ([]Score, error)
}

// validate 檢查追加參數
func validate(username string, points int) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || points < 0 {
		return "", apperrors.ErrInvalidScore
	}
	return username, nil
}

// NormalizeLimit 將查詢筆數限制在 1..MaxTopLimit，非正數取預設值
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultTopLimit
	}
	return min(limit, MaxTopLimit)
}

// Memory 進程內的計分庫，未設定資料庫時使用，重啟即消失
type Memory struct {
	mu     sync.Mutex
	scores []Score
	nextID int64
	now    func() time.Time
}

// NewMemory 創建記憶體計分庫
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// Append 追加一筆分數
func (m *Memory) Append(ctx context.Context, username string, points int) (Score, error) {
	username, err := validate(username, points)
	if err != nil {
		return Score{}, err
	}
	if err := ctx.Err(); err != nil {
		return Score{}, apperrors.Wrap(err, apperrors.ErrCodeLedger, "append score")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	score := Score{
		ID:       m.nextID,
		Username: username,
		Points:   points,
		PlayedAt: m.now(),
	}
	m.scores = append(m.scores, score)
	return score, nil
}

// TopScores 前 limit 高分
func (m *Memory) TopScores(ctx context.Context, limit int) ([]Score, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeLedger, "query top scores")
	}
	limit = NormalizeLimit(limit)

	m.mu.Lock()
	sorted := slices.Clone(m.scores)
	m.mu.Unlock()

	slices.SortStableFunc(sorted, func(a, b Score) int {
		if c := cmp.Compare(b.Points, a.Points); c != 0 {
			return c
		}
		return a.PlayedAt.Compare(b.PlayedAt)
	})

	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}
