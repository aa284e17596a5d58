package dispatcher

import (
	"context"

	"gitee.com/flycash/notification-engine/internal/domain"
	"github.com/gotomicro/ego/core/elog"
)

// LogDispatcher 只打日志的派发器
// 接入真实投递子系统之前的占位实现，天然幂等
type LogDispatcher struct {
	logger *elog.Component
}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{logger: elog.DefaultLogger}
}

func (d *LogDispatcher) Dispatch(_ context.Context, batch domain.NotificationBatch) error {
	d.logger.Info("投递批次",
		elog.Any("batchID", batch.ID),
		elog.String("batchKey", batch.BatchKey),
		elog.String("groupingKey", batch.GroupingKey),
		elog.Int("members", len(batch.Members)),
		elog.Int("targetUsers", len(batch.TargetUsers)))
	return nil
}
