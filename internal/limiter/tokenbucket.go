// Package limiter 每個連線的入站訊息限流
package limiter

import (
	"sync"
	"time"
)

// TokenBucket 令牌桶
//
// 桶滿時可以瞬間送出 capacity 則訊息，之後每秒補 refillRate 個令牌。
// 聊天室裡正常打字遠低於這個速度，主要擋的是腳本灌訊息。
type TokenBucket struct {
	capacity   int64
	tokens     int64
	refillRate int64
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket 創建令牌桶（初始為滿）
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate int64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow 取一個令牌，桶空時返回 false
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Tokens 目前剩餘令牌數
func (tb *TokenBucket) Tokens() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	toAdd := int64(now.Sub(tb.lastRefill).Seconds() * float64(tb.refillRate))
	if toAdd <= 0 {
		// 不足一個令牌時不推進 lastRefill，零碎時間會累積
		return
	}
	tb.tokens = min(tb.capacity, tb.tokens+toAdd)
	tb.lastRefill = now
}
