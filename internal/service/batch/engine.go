package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/errs"
	"gitee.com/flycash/notification-engine/internal/pkg/keylock"
	"gitee.com/flycash/notification-engine/internal/repository"
	configsvc "gitee.com/flycash/notification-engine/internal/service/config"
	"github.com/gotomicro/ego/core/elog"
	"github.com/sony/sonyflake"
)

// Engine 批处理引擎
// 事件进来先落库再聚合，大小触发在提交路径上完成，时间触发交给调度器
type Engine struct {
	repo      repository.BatchRepository
	configSvc configsvc.BatchConfigService
	keys      *KeyResolver
	groupers  *GrouperRegistry
	locks     *keylock.KeyLock
	idgen     *sonyflake.Sonyflake
	flusher   *Flusher

	closed atomic.Bool
	now    func() time.Time
	logger *elog.Component
}

func NewEngine(
	repo repository.BatchRepository,
	configSvc configsvc.BatchConfigService,
	keys *KeyResolver,
	groupers *GrouperRegistry,
	flusher *Flusher,
) *Engine {
	return &Engine{
		repo:      repo,
		configSvc: configSvc,
		keys:      keys,
		groupers:  groupers,
		locks:     keylock.New(0),
		idgen:     newIDGenerator(),
		flusher:   flusher,
		now:       time.Now,
		logger:    elog.DefaultLogger,
	}
}

// newIDGenerator 默认按私有 IPv4 推导机器位
// 容器里可能只有回环/公网地址，拿不到就退化成按进程号取机器位
func newIDGenerator() *sonyflake.Sonyflake {
	if sf := sonyflake.NewSonyflake(sonyflake.Settings{}); sf != nil {
		return sf
	}
	return sonyflake.NewSonyflake(sonyflake.Settings{
		MachineID: func() (uint16, error) {
			return uint16(os.Getpid()), nil //nolint:gosec // 截断即可，机器位只要求尽量不撞
		},
	})
}

// Submit 把通过过滤的事件并入批次
// 返回追加后的批次快照，持久化失败原样返回错误，调用方决定是否重试
func (e *Engine) Submit(ctx context.Context, event domain.NotificationEvent, recipientID string) (domain.NotificationBatch, error) {
	if e.closed.Load() {
		return domain.NotificationBatch{}, errs.ErrEngineClosed
	}
	if err := event.Validate(); err != nil {
		return domain.NotificationBatch{}, err
	}

	batchKey := e.keys.Resolve(event.Category)
	cfg := e.configSvc.GetOrFallback(ctx, batchKey)
	groupingKey := e.groupingKey(cfg, event, recipientID)

	lockKey := batchKey + "/" + groupingKey
	e.locks.Lock(lockKey)
	batch, ready, err := e.submitLocked(ctx, batchKey, groupingKey, cfg, event)
	e.locks.Unlock(lockKey)
	if err != nil {
		return domain.NotificationBatch{}, err
	}

	// 投递动作放在锁外，慢派发器不会拖住同组的后续提交
	if ready {
		e.flusher.Enqueue(batch)
	}
	return batch, nil
}

// submitLocked 找到或创建目标批次并追加事件
// 调度器不持键锁，时间触发可能在追加中间抢走批次，输掉乐观锁就换一个批次重来
func (e *Engine) submitLocked(
	ctx context.Context,
	batchKey, groupingKey string,
	cfg domain.BatchConfiguration,
	event domain.NotificationEvent,
) (domain.NotificationBatch, bool, error) {
	const maxAttempts = 3
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		batch, ready, err := e.appendOnce(ctx, batchKey, groupingKey, cfg, event)
		if err == nil {
			return batch, ready, nil
		}
		if !errors.Is(err, errs.ErrBatchVersionMismatch) {
			return domain.NotificationBatch{}, false, err
		}
		lastErr = err
	}
	return domain.NotificationBatch{}, false, lastErr
}

func (e *Engine) appendOnce(
	ctx context.Context,
	batchKey, groupingKey string,
	cfg domain.BatchConfiguration,
	event domain.NotificationEvent,
) (domain.NotificationBatch, bool, error) {
	batch, err := e.repo.FindPending(ctx, batchKey, groupingKey)
	if err != nil {
		if !errors.Is(err, errs.ErrBatchNotFound) {
			return domain.NotificationBatch{}, false, err
		}
		batch, err = e.createBatch(ctx, batchKey, groupingKey, cfg)
		if err != nil {
			return domain.NotificationBatch{}, false, err
		}
	}

	batch = batch.Append(event)
	if err = e.repo.UpdateMembers(ctx, batch); err != nil {
		return domain.NotificationBatch{}, false, err
	}
	batch.Version++

	if !batch.Full(cfg.MaxBatchSize) {
		return batch, false, nil
	}
	if err = e.markReady(ctx, &batch); err != nil {
		if errors.Is(err, errs.ErrBatchVersionMismatch) {
			// 输给时间触发，投递归对方
			e.logger.Info("批次已被调度器触发",
				elog.Any("batchID", batch.ID),
				elog.String("batchKey", batchKey))
			return batch, false, nil
		}
		return domain.NotificationBatch{}, false, err
	}
	return batch, true, nil
}

// createBatch 创建新批次，持久化成功才算存在
func (e *Engine) createBatch(ctx context.Context, batchKey, groupingKey string, cfg domain.BatchConfiguration) (domain.NotificationBatch, error) {
	id, err := e.idgen.NextID()
	if err != nil {
		return domain.NotificationBatch{}, fmt.Errorf("%w: %w", errs.ErrBatchIDGenerateFailed, err)
	}
	now := e.now()
	batch := domain.NotificationBatch{
		ID:          id,
		BatchKey:    batchKey,
		GroupingKey: groupingKey,
		Members:     []domain.NotificationEvent{},
		TargetUsers: []string{},
		CreatedAt:   now,
		ScheduledAt: now.Add(cfg.MaxWaitTime),
		Status:      domain.BatchStatusPending,
	}
	return e.repo.Create(ctx, batch)
}

func (e *Engine) markReady(ctx context.Context, batch *domain.NotificationBatch) error {
	if err := e.repo.CASStatus(ctx, *batch, domain.BatchStatusReady); err != nil {
		return err
	}
	batch.Version++
	batch.Status = domain.BatchStatusReady
	return nil
}

// Recover 启动恢复：READY 批次直接重新投递，PENDING 批次保留原截止时刻等调度器触发
// 派发器按批次ID幂等，READY 后崩溃导致的重复投递会被挡掉
func (e *Engine) Recover(ctx context.Context) error {
	batches, err := e.repo.LoadPendingAndReady(ctx)
	if err != nil {
		return fmt.Errorf("加载在途批次失败: %w", err)
	}
	var pending, ready int
	for _, batch := range batches {
		switch batch.Status {
		case domain.BatchStatusReady:
			ready++
			e.flusher.Enqueue(batch)
		case domain.BatchStatusPending:
			pending++
		default:
		}
	}
	e.logger.Info("批次恢复完成",
		elog.Int("pending", pending),
		elog.Int("ready", ready))
	return nil
}

// Close 之后 Submit 返回 errs.ErrEngineClosed，在途批次留在存储里等下次启动恢复
func (e *Engine) Close() {
	e.closed.Store(true)
}

// groupingKey 推导分组键，自定义分组函数缺失时降级成按接收者分组
func (e *Engine) groupingKey(cfg domain.BatchConfiguration, event domain.NotificationEvent, recipientID string) string {
	key, err := e.groupers.GroupingKey(cfg, event, recipientID)
	if err != nil {
		e.logger.Warn("推导分组键失败，降级为按接收者分组",
			elog.String("batchKey", cfg.BatchKey),
			elog.FieldErr(err))
		return recipientID
	}
	return key
}
