package risk

import (
	"sync"
	"time"
)

// FrequencyLimiter 维护最近成交时间戳的有界FIFO，限制滑动窗口内的
// 成交次数。状态只存内存，重启即清零——它只做节流，不承诺精确计数。
type FrequencyLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
}

// NewFrequencyLimiter 创建频率限制器。
func NewFrequencyLimiter(limit int, window time.Duration) *FrequencyLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &FrequencyLimiter{
		limit:  limit,
		window: window,
	}
}

// Allow 判断此刻是否允许新的成交。允许时当场登记时间戳，
// 拒绝时窗口内容保持不变。
func (l *FrequencyLimiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	idx := 0
	for idx < len(l.stamps) && !l.stamps[idx].After(cutoff) {
		idx++
	}
	l.stamps = l.stamps[idx:]

	if l.limit > 0 && len(l.stamps) >= l.limit {
		return false
	}

	l.stamps = append(l.stamps, now)
	return true
}

// Pending 返回当前窗口内已登记的成交数，仅用于观测。
func (l *FrequencyLimiter) Pending(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	cutoff := now.Add(-l.window)
	for _, ts := range l.stamps {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}
