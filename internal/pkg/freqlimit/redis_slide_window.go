package freqlimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Counter = (*RedisSlidingWindowCounter)(nil)

// RedisSlidingWindowCounter 基于 Redis ZSET 的滑动窗口计数器
// score 和 member 都是毫秒时间戳，member 追加序列号防止同毫秒互相覆盖
type RedisSlidingWindowCounter struct {
	cmd       redis.Cmdable
	keyPrefix string
	seq       atomic.Int64
}

// NewRedisSlidingWindowCounter 创建一个基于Redis的滑动窗口计数器
func NewRedisSlidingWindowCounter(cmd redis.Cmdable) *RedisSlidingWindowCounter {
	return &RedisSlidingWindowCounter{
		cmd:       cmd,
		keyPrefix: "freqlimit:",
	}
}

func (r *RedisSlidingWindowCounter) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	now := time.Now().UnixMilli()
	zkey := r.key(key)

	pipe := r.cmd.TxPipeline()
	pipe.ZRemRangeByScore(ctx, zkey, "0", strconv.FormatInt(now-window.Milliseconds(), 10))
	card := pipe.ZCard(ctx, zkey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

func (r *RedisSlidingWindowCounter) Record(ctx context.Context, key string, window time.Duration) error {
	now := time.Now().UnixMilli()
	zkey := r.key(key)

	pipe := r.cmd.TxPipeline()
	pipe.ZAdd(ctx, zkey, redis.Z{
		Score:  float64(now),
		Member: fmt.Sprintf("%d-%d", now, r.seq.Add(1)),
	})
	// 窗口滑过之后键可以整体过期，避免冷用户的键残留
	pipe.Expire(ctx, zkey, window)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisSlidingWindowCounter) WindowReset(ctx context.Context, key string, window time.Duration) (time.Time, error) {
	res, err := r.cmd.ZRangeWithScores(ctx, r.key(key), 0, 0).Result()
	if err != nil {
		return time.Time{}, err
	}
	if len(res) == 0 {
		return time.Now(), nil
	}
	oldest := time.UnixMilli(int64(res[0].Score))
	return oldest.Add(window), nil
}

func (r *RedisSlidingWindowCounter) key(key string) string {
	return r.keyPrefix + key
}
