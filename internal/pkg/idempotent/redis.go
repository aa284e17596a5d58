package idempotent

import (
	"context"

	"github.com/ecodeclub/ekit/slice"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// BloomIdempotencyService 基于 Redis 布隆过滤器的幂等判定
// 误判只会多拦一次投递，不会漏拦，对通知场景可以接受
type BloomIdempotencyService struct {
	client     redis.Cmdable
	filterName string
	capacity   uint64  // 预期容量
	errorRate  float64 // 误判率
}

func NewBloomService(client redis.Cmdable, filterName string,
	capacity uint64, errorRate float64,
) *BloomIdempotencyService {
	return &BloomIdempotencyService{
		client:     client,
		filterName: filterName,
		capacity:   capacity,
		errorRate:  errorRate,
	}
}

// Exists 只探查不记录，记录由 Mark 在投递成功后完成
func (s *BloomIdempotencyService) Exists(ctx context.Context, key string) (bool, error) {
	return s.client.BFExists(ctx, s.filterName, key).Result()
}

func (s *BloomIdempotencyService) Mark(ctx context.Context, key string) error {
	_, err := s.client.BFAdd(ctx, s.filterName, key).Result()
	return err
}

func (s *BloomIdempotencyService) MExists(ctx context.Context, keys ...string) ([]bool, error) {
	if len(keys) == 0 {
		return nil, errors.New("empty keys")
	}
	// 执行批量查询
	res, err := s.client.BFMExists(ctx, s.filterName, slice.Map(keys, func(_ int, src string) any {
		return src
	})...).Result()
	if err != nil {
		return nil, err
	}
	return res, nil
}
