package utils

import (
	"context"
	"time"
)

// Retry 最多执行 count 次 f，直到 f 返回 true，每次失败后等待 interval
func Retry(count int, interval time.Duration, f func() bool) bool {
	for i := 0; i < count; i++ {
		if f() {
			return true
		}
		if i+1 < count {
			time.Sleep(interval)
		}
	}
	return false
}

// Sleep 等待 d 或者 ctx 结束，ctx 结束时返回 ctx.Err()
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
