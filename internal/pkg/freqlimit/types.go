package freqlimit

import (
	"context"
	"time"
)

// Counter 滚动窗口计数器
// 只统计真正走向投递的通知，被拦截的不计入
type Counter interface {
	// Count 返回 key 在窗口内的已有计数
	Count(ctx context.Context, key string, window time.Duration) (int, error)
	// Record 在当前时刻为 key 记一次
	Record(ctx context.Context, key string, window time.Duration) error
	// WindowReset 返回窗口内最早一条记录离开窗口的时刻
	// 窗口为空时返回当前时间
	WindowReset(ctx context.Context, key string, window time.Duration) (time.Time, error)
}
