package idempotent

import "context"

// IdempotencyService 幂等判定服务
// 投递侧用它去重：投递前 Exists 探查，投递成功后 Mark 记录，
// 失败的投递不占 key，重试才能继续下发
type IdempotencyService interface {
	// Exists 只判断 key 是否出现过，不做记录
	Exists(ctx context.Context, key string) (bool, error)
	// Mark 把 key 记为已出现
	Mark(ctx context.Context, key string) error
	MExists(ctx context.Context, keys ...string) ([]bool, error)
}
