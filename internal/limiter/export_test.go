package limiter

import "time"

// NewTokenBucketWithClock 測試用，可注入時鐘
func NewTokenBucketWithClock(capacity, refillRate int64, now func() time.Time) *TokenBucket {
	return newTokenBucket(capacity, refillRate, now)
}
