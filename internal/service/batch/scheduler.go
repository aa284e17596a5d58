package batch

import (
	"context"
	"errors"
	"time"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/errs"
	"gitee.com/flycash/notification-engine/internal/pkg/loopjob"
	"gitee.com/flycash/notification-engine/internal/repository"
	"github.com/gotomicro/ego/core/elog"
	"github.com/meoying/dlock-go"
)

const (
	schedulerLockKey    = "notification_engine_batch_scheduler"
	defaultScanInterval = time.Second
	defaultScanLimit    = 100
	// READY 停留超过这个时长视为投递侧丢了任务，重新入队
	// 要长于一轮投递重试的最坏耗时，避免跟在途投递抢活
	defaultReadyRequeueAfter = time.Minute
)

// Scheduler 时间触发器
// 周期性扫描已过截止时刻的 PENDING 批次并触发投递，多副本靠分布式锁互斥
type Scheduler struct {
	repo    repository.BatchRepository
	flusher *Flusher
	dclient dlock.Client

	scanInterval      time.Duration
	scanLimit         int
	readyRequeueAfter time.Duration
	now               func() time.Time
	logger            *elog.Component
}

func NewScheduler(
	repo repository.BatchRepository,
	flusher *Flusher,
	dclient dlock.Client,
) *Scheduler {
	return &Scheduler{
		repo:              repo,
		flusher:           flusher,
		dclient:           dclient,
		scanInterval:      defaultScanInterval,
		scanLimit:         defaultScanLimit,
		readyRequeueAfter: defaultReadyRequeueAfter,
		now:               time.Now,
		logger:            elog.DefaultLogger,
	}
}

// Start 阻塞运行，ctx 取消后退出
func (s *Scheduler) Start(ctx context.Context) {
	job := loopjob.NewInfiniteLoop(s.dclient, s.scanOnce, schedulerLockKey)
	job.Run(ctx)
}

func (s *Scheduler) scanOnce(ctx context.Context) error {
	now := s.now()
	batches, err := s.repo.FindDuePending(ctx, now, s.scanLimit)
	if err != nil {
		return err
	}
	for _, batch := range batches {
		s.trigger(ctx, batch)
	}
	if err := s.requeueStaleReady(ctx, now); err != nil {
		s.logger.Error("重新捞起滞留 READY 批次失败", elog.FieldErr(err))
	}
	// 没扫满说明到期批次已清完，歇一拍再扫
	if len(batches) < s.scanLimit {
		select {
		case <-time.After(s.scanInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// requeueStaleReady 兜住入队失败的批次
// 投递队列满时 Enqueue 会丢弃已 READY 的批次，状态不再是 PENDING，
// 常规扫描看不见它，这里按停留时长把它重新交给投递侧，重复入队由派发器幂等挡住
func (s *Scheduler) requeueStaleReady(ctx context.Context, now time.Time) error {
	stale, err := s.repo.FindStaleReady(ctx, now.Add(-s.readyRequeueAfter), s.scanLimit)
	if err != nil {
		return err
	}
	for _, batch := range stale {
		if !s.flusher.Enqueue(batch) {
			continue
		}
		// 入队成功就刷新停留时长，别让下一轮扫描重复入队
		if err := s.repo.TouchReady(ctx, batch.ID); err != nil {
			s.logger.Warn("刷新 READY 批次停留时长失败",
				elog.Any("batchID", batch.ID),
				elog.FieldErr(err))
		}
	}
	return nil
}

// trigger CAS 把批次推进到 READY，输掉竞争说明大小触发抢先了，放弃即可
func (s *Scheduler) trigger(ctx context.Context, batch domain.NotificationBatch) {
	// 创建后还没来得及追加成员就崩溃会留下空批次，直接收尾
	if len(batch.Members) == 0 {
		if err := s.repo.MarkProcessed(ctx, batch.ID); err != nil {
			s.logger.Error("清理空批次失败",
				elog.Any("batchID", batch.ID),
				elog.FieldErr(err))
		}
		return
	}
	err := s.repo.CASStatus(ctx, batch, domain.BatchStatusReady)
	if err != nil {
		if errors.Is(err, errs.ErrBatchVersionMismatch) {
			return
		}
		s.logger.Error("触发到期批次失败",
			elog.Any("batchID", batch.ID),
			elog.FieldErr(err))
		return
	}
	batch.Version++
	batch.Status = domain.BatchStatusReady
	s.flusher.Enqueue(batch)
}
