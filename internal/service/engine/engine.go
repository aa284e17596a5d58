package engine

import (
	"context"
	"fmt"
	"sync"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/service/batch"
	"gitee.com/flycash/notification-engine/internal/service/filter"
	"github.com/gotomicro/ego/core/elog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

const fanOutConcurrency = 8

// NotificationEngine 通知引擎门面
// 入站事件在这里按接收者扇出，逐个过滤，再按结论分流到批处理或者延迟队列
type NotificationEngine struct {
	filter    filter.Engine
	batcher   *batch.Engine
	scheduler *batch.Scheduler
	flusher   *batch.Flusher
	delayed   *batch.DelayQueue

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *elog.Component
}

func New(
	f filter.Engine,
	batcher *batch.Engine,
	scheduler *batch.Scheduler,
	flusher *batch.Flusher,
) *NotificationEngine {
	return &NotificationEngine{
		filter:    f,
		batcher:   batcher,
		scheduler: scheduler,
		flusher:   flusher,
		delayed:   batch.NewDelayQueue(batcher),
		logger:    elog.DefaultLogger,
	}
}

// Start 启动后台组件并执行崩溃恢复
func (e *NotificationEngine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.flusher.Start(runCtx)
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.scheduler.Start(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.delayed.Start(runCtx)
	}()

	return e.batcher.Recover(ctx)
}

// Close 优雅停机：先拒绝新提交，再停后台循环，最后等在途投递完成
// PENDING/READY 批次留在存储里，下次启动恢复
func (e *NotificationEngine) Close() {
	e.batcher.Close()
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.flusher.Close()
}

// Process 处理一个入站通知事件
// 每个接收者独立过滤、独立分流，单个接收者的持久化失败不影响其他接收者，
// 所有失败聚合后返回给调用方
func (e *NotificationEngine) Process(ctx context.Context, event domain.NotificationEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		merr *multierror.Error
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(fanOutConcurrency)
	for _, recipientID := range event.TargetUserIDs {
		eg.Go(func() error {
			if err := e.processRecipient(gctx, event, recipientID); err != nil {
				mu.Lock()
				merr = multierror.Append(merr, fmt.Errorf("接收者 %s: %w", recipientID, err))
				mu.Unlock()
			}
			// 失败走聚合，不让 errgroup 取消其余接收者
			return nil
		})
	}
	_ = eg.Wait()
	return merr.ErrorOrNil()
}

func (e *NotificationEngine) processRecipient(ctx context.Context, event domain.NotificationEvent, recipientID string) error {
	// 每个接收者拿到一份只含自己的事件副本，过滤和聚合互不串扰
	scoped := event.Clone()
	scoped.TargetUserIDs = []string{recipientID}

	disposition, err := e.filter.Evaluate(ctx, scoped, recipientID)
	if err != nil {
		return err
	}

	switch disposition.Kind {
	case domain.DispositionBlock:
		e.logger.Info("通知被拦截",
			elog.String("eventID", event.ID),
			elog.String("recipientID", recipientID),
			elog.String("reason", disposition.Reason))
		return nil
	case domain.DispositionDelay:
		e.delayed.Add(disposition.Event, recipientID, disposition.Until)
		return nil
	default:
		_, err = e.batcher.Submit(ctx, disposition.Event, recipientID)
		return err
	}
}

// DelayedCount 延迟队列里在等的事件数，巡检用
func (e *NotificationEngine) DelayedCount() int {
	return e.delayed.Len()
}
