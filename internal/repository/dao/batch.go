package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/errs"
	"github.com/ego-component/egorm"
	"gorm.io/gorm"
)

// NotificationBatch 批次表，批次一创建就落库，崩溃后靠它恢复
type NotificationBatch struct {
	ID          uint64         `gorm:"primaryKey;comment:'雪花算法ID'"`
	BatchKey    string         `gorm:"type:VARCHAR(128);NOT NULL;index:idx_key_group,priority:1;comment:'通知族'"`
	GroupingKey string         `gorm:"type:VARCHAR(256);NOT NULL;index:idx_key_group,priority:2;comment:'分组键'"`
	Members     string         `gorm:"type:TEXT;NOT NULL;comment:'成员事件JSON数组，保持提交顺序'"`
	TargetUsers string         `gorm:"type:TEXT;NOT NULL;comment:'接收者并集JSON数组'"`
	ScheduledAt int64          `gorm:"index:idx_scheduled,priority:1;comment:'硬性投递截止时刻'"`
	Status      string         `gorm:"type:ENUM('PENDING','READY','PROCESSED','FAILED');DEFAULT:'PENDING';index:idx_key_group,priority:3;index:idx_scheduled,priority:2;comment:'批次状态'"`
	FailReason  sql.NullString `gorm:"type:VARCHAR(512);comment:'FAILED 时的失败原因'"`
	Version     int            `gorm:"type:INT;NOT NULL;DEFAULT:1;comment:'版本号，用于CAS操作'"`
	Ctime       int64
	Utime       int64
}

// TableName 重命名表
func (NotificationBatch) TableName() string {
	return "notification_batches"
}

type NotificationBatchDAO interface {
	// Create 创建批次记录
	Create(ctx context.Context, data NotificationBatch) (NotificationBatch, error)
	// GetByID 根据ID查询批次
	GetByID(ctx context.Context, id uint64) (NotificationBatch, error)
	// FindPending 查询 (batchKey, groupingKey) 下的 PENDING 批次
	FindPending(ctx context.Context, batchKey, groupingKey string) (NotificationBatch, error)
	// FindDuePending 查询已到期还没被触发的批次
	FindDuePending(ctx context.Context, deadline int64, limit int) ([]NotificationBatch, error)
	// FindPendingAndReady 启动恢复时加载全部在途批次
	FindPendingAndReady(ctx context.Context) ([]NotificationBatch, error)
	// FindStaleReady 查询长时间停留在 READY 的批次，入队被丢弃后靠它重新捞起
	FindStaleReady(ctx context.Context, updatedBefore int64, limit int) ([]NotificationBatch, error)
	// TouchReady 只刷新 utime，不动版本号和状态
	TouchReady(ctx context.Context, id uint64) error
	// FindFailed 供人工巡查失败批次
	FindFailed(ctx context.Context, offset, limit int) ([]NotificationBatch, error)

	// UpdateMembers 更新成员和接收者并集，使用乐观锁控制并发
	UpdateMembers(ctx context.Context, data NotificationBatch) error
	// CASStatus 带版本校验的状态流转
	CASStatus(ctx context.Context, id uint64, status string, version int) error
	// MarkProcessed 投递成功
	MarkProcessed(ctx context.Context, id uint64) error
	// MarkFailed 重试耗尽，记录失败原因
	MarkFailed(ctx context.Context, id uint64, reason string) error
}

type notificationBatchDAO struct {
	db *egorm.Component
}

// NewNotificationBatchDAO 创建批次DAO实例
func NewNotificationBatchDAO(db *egorm.Component) NotificationBatchDAO {
	return &notificationBatchDAO{
		db: db,
	}
}

func (d *notificationBatchDAO) Create(ctx context.Context, data NotificationBatch) (NotificationBatch, error) {
	now := time.Now().UnixMilli()
	data.Ctime, data.Utime = now, now
	data.Version = 1
	err := d.db.WithContext(ctx).Create(&data).Error
	if err != nil {
		if isUniqueConstraintError(err) {
			return NotificationBatch{}, fmt.Errorf("%w: id=%d", errs.ErrBatchDuplicate, data.ID)
		}
		return NotificationBatch{}, fmt.Errorf("%w: %w", errs.ErrPersistBatchFailed, err)
	}
	return data, nil
}

func (d *notificationBatchDAO) GetByID(ctx context.Context, id uint64) (NotificationBatch, error) {
	var batch NotificationBatch
	err := d.db.WithContext(ctx).First(&batch, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NotificationBatch{}, fmt.Errorf("%w: id=%d", errs.ErrBatchNotFound, id)
		}
		return NotificationBatch{}, err
	}
	return batch, nil
}

func (d *notificationBatchDAO) FindPending(ctx context.Context, batchKey, groupingKey string) (NotificationBatch, error) {
	var batch NotificationBatch
	err := d.db.WithContext(ctx).
		Where("batch_key = ? AND grouping_key = ? AND status = ?",
			batchKey, groupingKey, domain.BatchStatusPending.String()).
		First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NotificationBatch{}, fmt.Errorf("%w: batchKey=%s groupingKey=%s",
				errs.ErrBatchNotFound, batchKey, groupingKey)
		}
		return NotificationBatch{}, err
	}
	return batch, nil
}

func (d *notificationBatchDAO) FindDuePending(ctx context.Context, deadline int64, limit int) ([]NotificationBatch, error) {
	var batches []NotificationBatch
	err := d.db.WithContext(ctx).
		Where("scheduled_at <= ? AND status = ?", deadline, domain.BatchStatusPending.String()).
		Limit(limit).
		Find(&batches).Error
	return batches, err
}

func (d *notificationBatchDAO) FindPendingAndReady(ctx context.Context) ([]NotificationBatch, error) {
	var batches []NotificationBatch
	err := d.db.WithContext(ctx).
		Where("status IN ?", []string{
			domain.BatchStatusPending.String(),
			domain.BatchStatusReady.String(),
		}).
		Order("ctime ASC").
		Find(&batches).Error
	return batches, err
}

func (d *notificationBatchDAO) FindStaleReady(ctx context.Context, updatedBefore int64, limit int) ([]NotificationBatch, error) {
	var batches []NotificationBatch
	err := d.db.WithContext(ctx).
		Where("status = ? AND utime <= ?", domain.BatchStatusReady.String(), updatedBefore).
		Limit(limit).
		Find(&batches).Error
	return batches, err
}

func (d *notificationBatchDAO) FindFailed(ctx context.Context, offset, limit int) ([]NotificationBatch, error) {
	var batches []NotificationBatch
	err := d.db.WithContext(ctx).
		Where("status = ?", domain.BatchStatusFailed.String()).
		Order("utime DESC").
		Limit(limit).Offset(offset).
		Find(&batches).Error
	return batches, err
}

// UpdateMembers 更新成员和接收者并集，使用乐观锁控制并发
func (d *notificationBatchDAO) UpdateMembers(ctx context.Context, data NotificationBatch) error {
	result := d.db.WithContext(ctx).Model(&NotificationBatch{}).
		Where("id = ? AND version = ?", data.ID, data.Version).
		Updates(map[string]any{
			"members":      data.Members,
			"target_users": data.TargetUsers,
			"version":      gorm.Expr("version + 1"),
			"utime":        time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return fmt.Errorf("%w: %w", errs.ErrPersistBatchFailed, result.Error)
	}
	if result.RowsAffected < 1 {
		return fmt.Errorf("并发竞争失败 %w, id %d", errs.ErrBatchVersionMismatch, data.ID)
	}
	return nil
}

// CASStatus 带版本校验的状态流转
// 大小触发和时间触发可能同时盯上一个批次，输掉 CAS 的一方放弃
func (d *notificationBatchDAO) CASStatus(ctx context.Context, id uint64, status string, version int) error {
	result := d.db.WithContext(ctx).Model(&NotificationBatch{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"status":  status,
			"version": gorm.Expr("version + 1"),
			"utime":   time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected < 1 {
		return fmt.Errorf("并发竞争失败 %w, id %d", errs.ErrBatchVersionMismatch, id)
	}
	return nil
}

func (d *notificationBatchDAO) TouchReady(ctx context.Context, id uint64) error {
	return d.db.WithContext(ctx).Model(&NotificationBatch{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusReady.String()).
		Update("utime", time.Now().UnixMilli()).Error
}

func (d *notificationBatchDAO) MarkProcessed(ctx context.Context, id uint64) error {
	return d.db.WithContext(ctx).Model(&NotificationBatch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":  domain.BatchStatusProcessed.String(),
			"version": gorm.Expr("version + 1"),
			"utime":   time.Now().UnixMilli(),
		}).Error
}

func (d *notificationBatchDAO) MarkFailed(ctx context.Context, id uint64, reason string) error {
	return d.db.WithContext(ctx).Model(&NotificationBatch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": domain.BatchStatusFailed.String(),
			"fail_reason": sql.NullString{
				String: reason,
				Valid:  reason != "",
			},
			"version": gorm.Expr("version + 1"),
			"utime":   time.Now().UnixMilli(),
		}).Error
}
