package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/repository/dao"
)

// BatchRepository 批次持久化适配器
// 只镜像批处理引擎的状态，从不独立变更批次
type BatchRepository interface {
	// Create 批次创建即落库，保证创建瞬间之后崩溃也可恢复
	Create(ctx context.Context, batch domain.NotificationBatch) (domain.NotificationBatch, error)
	GetByID(ctx context.Context, id uint64) (domain.NotificationBatch, error)
	// FindPending 查找 (batchKey, groupingKey) 下未触发的批次
	FindPending(ctx context.Context, batchKey, groupingKey string) (domain.NotificationBatch, error)
	// FindDuePending 查找已过 scheduledAt 还未触发的批次
	FindDuePending(ctx context.Context, now time.Time, limit int) ([]domain.NotificationBatch, error)
	// LoadPendingAndReady 启动恢复入口
	LoadPendingAndReady(ctx context.Context) ([]domain.NotificationBatch, error)
	// FindStaleReady 查找触发后迟迟没有投递完成的批次
	FindStaleReady(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.NotificationBatch, error)
	// TouchReady 刷新 READY 批次的停留时长，重新入队后调用
	TouchReady(ctx context.Context, id uint64) error
	FindFailed(ctx context.Context, offset, limit int) ([]domain.NotificationBatch, error)

	// UpdateMembers 持久化追加后的成员列表
	UpdateMembers(ctx context.Context, batch domain.NotificationBatch) error
	// CASStatus 带版本校验的状态流转，输掉竞争返回 errs.ErrBatchVersionMismatch
	CASStatus(ctx context.Context, batch domain.NotificationBatch, status domain.BatchStatus) error
	MarkProcessed(ctx context.Context, id uint64) error
	MarkFailed(ctx context.Context, id uint64, reason string) error
}

type batchRepository struct {
	dao dao.NotificationBatchDAO
}

// NewBatchRepository 创建批次仓库实例
func NewBatchRepository(batchDao dao.NotificationBatchDAO) BatchRepository {
	return &batchRepository{
		dao: batchDao,
	}
}

func (r *batchRepository) Create(ctx context.Context, batch domain.NotificationBatch) (domain.NotificationBatch, error) {
	entity, err := r.toEntity(batch)
	if err != nil {
		return domain.NotificationBatch{}, err
	}
	created, err := r.dao.Create(ctx, entity)
	if err != nil {
		return domain.NotificationBatch{}, err
	}
	batch.Version = created.Version
	return batch, nil
}

func (r *batchRepository) GetByID(ctx context.Context, id uint64) (domain.NotificationBatch, error) {
	entity, err := r.dao.GetByID(ctx, id)
	if err != nil {
		return domain.NotificationBatch{}, err
	}
	return r.toDomain(entity)
}

func (r *batchRepository) FindPending(ctx context.Context, batchKey, groupingKey string) (domain.NotificationBatch, error) {
	entity, err := r.dao.FindPending(ctx, batchKey, groupingKey)
	if err != nil {
		return domain.NotificationBatch{}, err
	}
	return r.toDomain(entity)
}

func (r *batchRepository) FindDuePending(ctx context.Context, now time.Time, limit int) ([]domain.NotificationBatch, error) {
	entities, err := r.dao.FindDuePending(ctx, now.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	return r.toDomainSlice(entities)
}

func (r *batchRepository) LoadPendingAndReady(ctx context.Context) ([]domain.NotificationBatch, error) {
	entities, err := r.dao.FindPendingAndReady(ctx)
	if err != nil {
		return nil, err
	}
	return r.toDomainSlice(entities)
}

func (r *batchRepository) FindStaleReady(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.NotificationBatch, error) {
	entities, err := r.dao.FindStaleReady(ctx, updatedBefore.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	return r.toDomainSlice(entities)
}

func (r *batchRepository) FindFailed(ctx context.Context, offset, limit int) ([]domain.NotificationBatch, error) {
	entities, err := r.dao.FindFailed(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	return r.toDomainSlice(entities)
}

func (r *batchRepository) UpdateMembers(ctx context.Context, batch domain.NotificationBatch) error {
	entity, err := r.toEntity(batch)
	if err != nil {
		return err
	}
	return r.dao.UpdateMembers(ctx, entity)
}

func (r *batchRepository) CASStatus(ctx context.Context, batch domain.NotificationBatch, status domain.BatchStatus) error {
	return r.dao.CASStatus(ctx, batch.ID, status.String(), batch.Version)
}

func (r *batchRepository) TouchReady(ctx context.Context, id uint64) error {
	return r.dao.TouchReady(ctx, id)
}

func (r *batchRepository) MarkProcessed(ctx context.Context, id uint64) error {
	return r.dao.MarkProcessed(ctx, id)
}

func (r *batchRepository) MarkFailed(ctx context.Context, id uint64, reason string) error {
	return r.dao.MarkFailed(ctx, id, reason)
}

func (r *batchRepository) toDomainSlice(entities []dao.NotificationBatch) ([]domain.NotificationBatch, error) {
	batches := make([]domain.NotificationBatch, 0, len(entities))
	for i := range entities {
		batch, err := r.toDomain(entities[i])
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func (r *batchRepository) toDomain(entity dao.NotificationBatch) (domain.NotificationBatch, error) {
	var members []domain.NotificationEvent
	if err := json.Unmarshal([]byte(entity.Members), &members); err != nil {
		return domain.NotificationBatch{}, fmt.Errorf("批次成员反序列化失败: id=%d %w", entity.ID, err)
	}
	var targetUsers []string
	if err := json.Unmarshal([]byte(entity.TargetUsers), &targetUsers); err != nil {
		return domain.NotificationBatch{}, fmt.Errorf("批次接收者反序列化失败: id=%d %w", entity.ID, err)
	}
	return domain.NotificationBatch{
		ID:          entity.ID,
		BatchKey:    entity.BatchKey,
		GroupingKey: entity.GroupingKey,
		Members:     members,
		TargetUsers: targetUsers,
		CreatedAt:   time.UnixMilli(entity.Ctime),
		ScheduledAt: time.UnixMilli(entity.ScheduledAt),
		Status:      domain.BatchStatus(entity.Status),
		Version:     entity.Version,
	}, nil
}

func (r *batchRepository) toEntity(batch domain.NotificationBatch) (dao.NotificationBatch, error) {
	members, err := json.Marshal(batch.Members)
	if err != nil {
		return dao.NotificationBatch{}, err
	}
	targetUsers, err := json.Marshal(batch.TargetUsers)
	if err != nil {
		return dao.NotificationBatch{}, err
	}
	return dao.NotificationBatch{
		ID:          batch.ID,
		BatchKey:    batch.BatchKey,
		GroupingKey: batch.GroupingKey,
		Members:     string(members),
		TargetUsers: string(targetUsers),
		ScheduledAt: batch.ScheduledAt.UnixMilli(),
		Status:      batch.Status.String(),
		Version:     batch.Version,
	}, nil
}
