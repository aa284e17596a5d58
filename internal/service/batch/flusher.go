package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/errs"
	"gitee.com/flycash/notification-engine/internal/pkg/retry"
	"gitee.com/flycash/notification-engine/internal/repository"
	"gitee.com/flycash/notification-engine/internal/service/dispatcher"
	"github.com/gotomicro/ego/core/elog"
	"github.com/hashicorp/go-multierror"
)

const (
	defaultFlushWorkers = 8
	defaultFlushQueue   = 256
	defaultFlushTimeout = 10 * time.Second
)

// Flusher 投递工作池
// 从引擎和调度器接收 READY 批次，带重试投递，终态写回存储
type Flusher struct {
	repo       repository.BatchRepository
	dispatcher dispatcher.Dispatcher
	retryCfg   retry.Config
	timeout    time.Duration

	tasks  chan domain.NotificationBatch
	wg     sync.WaitGroup
	logger *elog.Component
}

func NewFlusher(
	repo repository.BatchRepository,
	d dispatcher.Dispatcher,
) *Flusher {
	return &Flusher{
		repo:       repo,
		dispatcher: d,
		retryCfg:   retry.DefaultConfig(),
		timeout:    defaultFlushTimeout,
		tasks:      make(chan domain.NotificationBatch, defaultFlushQueue),
		logger:     elog.DefaultLogger,
	}
}

// Start 启动投递工作协程，ctx 取消后停止接收新任务
func (f *Flusher) Start(ctx context.Context) {
	for i := 0; i < defaultFlushWorkers; i++ {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.work(ctx)
		}()
	}
}

// Enqueue 尝试把批次交给工作池
// 队列满返回 false，批次仍留在存储里等调度器下一轮重新捞起
func (f *Flusher) Enqueue(batch domain.NotificationBatch) bool {
	select {
	case f.tasks <- batch:
		return true
	default:
		f.logger.Warn("投递队列已满，批次等待下一轮调度",
			elog.Any("batchID", batch.ID),
			elog.String("batchKey", batch.BatchKey))
		return false
	}
}

// Close 停止接收新任务并等待在途投递完成
func (f *Flusher) Close() {
	close(f.tasks)
	f.wg.Wait()
}

func (f *Flusher) work(ctx context.Context) {
	for batch := range f.tasks {
		f.flush(ctx, batch)
	}
}

// flush 带重试投递单个批次，成功标记 PROCESSED，重试耗尽标记 FAILED
func (f *Flusher) flush(ctx context.Context, batch domain.NotificationBatch) {
	strategy, err := retry.NewRetry(f.retryCfg)
	if err != nil {
		f.logger.Error("创建重试策略失败", elog.FieldErr(err))
		f.markFailed(ctx, batch, err)
		return
	}

	var merr *multierror.Error
	for {
		err = f.dispatchOnce(ctx, batch)
		if err == nil {
			f.markProcessed(ctx, batch)
			return
		}
		// 停机取消不算投递失败，批次保持 READY，下次启动恢复后重投
		if ctx.Err() != nil {
			f.abandon(batch, ctx.Err())
			return
		}
		merr = multierror.Append(merr, err)

		interval, ok := strategy.Next()
		if !ok {
			break
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			f.abandon(batch, ctx.Err())
			return
		}
	}
	f.markFailed(ctx, batch, fmt.Errorf("%w: %w", errs.ErrDispatchFailed, merr))
}

func (f *Flusher) dispatchOnce(ctx context.Context, batch domain.NotificationBatch) error {
	dctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	err := f.dispatcher.Dispatch(dctx, batch)
	if err != nil && errors.Is(dctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", errs.ErrDispatchTimeout, err)
	}
	return err
}

// abandon 停机中放弃投递，状态不动，恢复路径负责重投
func (f *Flusher) abandon(batch domain.NotificationBatch, cause error) {
	f.logger.Warn("停机中放弃投递，批次留待恢复",
		elog.Any("batchID", batch.ID),
		elog.String("batchKey", batch.BatchKey),
		elog.FieldErr(cause))
}

func (f *Flusher) markProcessed(ctx context.Context, batch domain.NotificationBatch) {
	// 投递已经成功，状态写回不跟随停机取消
	if err := f.repo.MarkProcessed(context.WithoutCancel(ctx), batch.ID); err != nil {
		// 写回失败只能记日志，重复投递由派发器幂等挡住
		f.logger.Error("标记批次投递成功失败",
			elog.Any("batchID", batch.ID),
			elog.FieldErr(err))
	}
}

func (f *Flusher) markFailed(ctx context.Context, batch domain.NotificationBatch, cause error) {
	f.logger.Error("批次投递失败，重试已耗尽",
		elog.Any("batchID", batch.ID),
		elog.String("batchKey", batch.BatchKey),
		elog.FieldErr(cause))
	reason := fmt.Sprintf("重试耗尽: %v", cause)
	if err := f.repo.MarkFailed(context.WithoutCancel(ctx), batch.ID, reason); err != nil {
		f.logger.Error("标记批次投递失败失败",
			elog.Any("batchID", batch.ID),
			elog.FieldErr(err))
	}
}
