package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cached 在 Ledger 外加上排行榜的 cache-aside
//
// 讀取：先查 Redis，miss 時查內層並回寫（附 TTL）。
// 寫入：成功追加後刪除所有 scores:top:* 鍵。
// Redis 出錯只記錄日誌，直接走內層，不影響結果。
type Cached struct {
	inner  Ledger
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger

	hits     atomic.Uint64
	misses   atomic.Uint64
	failures atomic.Uint64
}

// CacheStats 快取統計
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Errors uint64 `json:"errors"`
}

const topKeyPrefix = "scores:top:"

// NewCached 創建快取計分庫
func NewCached(inner Ledger, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// TopKey 某筆數排行榜的快取鍵
func TopKey(limit int) string {
	return fmt.Sprintf("%s%d", topKeyPrefix, limit)
}

// Append 追加後讓排行榜快取失效
func (c *Cached) Append(ctx context.Context, username string, points int) (Score, error) {
	score, err := c.inner.Append(ctx, username, points)
	if err != nil {
		return Score{}, err
	}

	if err := c.invalidate(ctx); err != nil {
		c.failures.Add(1)
		c.logger.Warn("排行榜快取失效失敗", "error", err)
	}
	return score, nil
}

// TopScores 先查快取
func (c *Cached) TopScores(ctx context.Context, limit int) ([]Score, error) {
	limit = NormalizeLimit(limit)
	key := TopKey(limit)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var scores []Score
		if jsonErr := json.Unmarshal(data, &scores); jsonErr == nil {
			c.hits.Add(1)
			return scores, nil
		}
		c.failures.Add(1)
		c.logger.Warn("排行榜快取內容損毀", "key", key)
	case errors.Is(err, redis.Nil):
		c.misses.Add(1)
	default:
		c.failures.Add(1)
		c.logger.Warn("讀取排行榜快取失敗", "key", key, "error", err)
	}

	scores, err := c.inner.TopScores(ctx, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(scores); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.failures.Add(1)
			c.logger.Warn("寫入排行榜快取失敗", "key", key, "error", err)
		}
	}
	return scores, nil
}

// Stats 快取命中統計
func (c *Cached) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.failures.Load(),
	}
}

func (c *Cached) invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, topKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
