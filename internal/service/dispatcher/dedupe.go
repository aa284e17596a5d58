package dispatcher

import (
	"context"
	"strconv"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/pkg/idempotent"
	"github.com/gotomicro/ego/core/elog"
)

// DedupeDispatcher 按批次ID去重的装饰器
// 崩溃恢复可能让一个批次被重投一次，套上这个装饰器就满足了幂等投递的约定
type DedupeDispatcher struct {
	dispatcher Dispatcher
	idempotent idempotent.IdempotencyService
	logger     *elog.Component
}

func NewDedupeDispatcher(d Dispatcher, svc idempotent.IdempotencyService) *DedupeDispatcher {
	return &DedupeDispatcher{
		dispatcher: d,
		idempotent: svc,
		logger:     elog.DefaultLogger,
	}
}

func (d *DedupeDispatcher) Dispatch(ctx context.Context, batch domain.NotificationBatch) error {
	key := dedupeKey(batch)
	seen, err := d.idempotent.Exists(ctx, key)
	if err != nil {
		// 幂等服务不可用时宁可重投也不丢投递
		d.logger.Warn("幂等判定失败，继续投递",
			elog.Any("batchID", batch.ID), elog.FieldErr(err))
	} else if seen {
		d.logger.Info("批次已投递过，跳过重复投递", elog.Any("batchID", batch.ID))
		return nil
	}

	if err := d.dispatcher.Dispatch(ctx, batch); err != nil {
		// 失败不记 key，重试路径再次经过这里还能继续投
		return err
	}
	if err := d.idempotent.Mark(ctx, key); err != nil {
		// 记录失败最多在重投时多下发一次，由下游幂等兜底
		d.logger.Warn("记录幂等键失败",
			elog.Any("batchID", batch.ID), elog.FieldErr(err))
	}
	return nil
}

// dedupeKey 带版本号，同一批次的一次触发对应一个 key
func dedupeKey(batch domain.NotificationBatch) string {
	return strconv.FormatUint(batch.ID, 10) + ":" + strconv.Itoa(batch.Version)
}
