package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gitee.com/flycash/notification-engine/internal/errs"
	"github.com/ego-component/egorm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BatchConfig 批处理配置表，一个 batchKey 只有一条记录
type BatchConfig struct {
	ID            int64          `gorm:"primaryKey;autoIncrement"`
	BatchKey      string         `gorm:"type:VARCHAR(128);NOT NULL;uniqueIndex:idx_batch_key;comment:'通知族标识'"`
	MaxBatchSize  int            `gorm:"type:INT;NOT NULL;DEFAULT:1;comment:'批次大小阈值'"`
	MaxWaitTime   int64          `gorm:"type:BIGINT;NOT NULL;DEFAULT:0;comment:'最长等待毫秒数'"`
	GroupBy       string         `gorm:"type:ENUM('user','ticket','type','priority','custom');NOT NULL;DEFAULT:'user';comment:'分组策略'"`
	CustomGrouper sql.NullString `gorm:"type:VARCHAR(128);comment:'custom 分组引用的分组函数名'"`
	IsActive      bool           `gorm:"NOT NULL;DEFAULT:1;comment:'是否启用'"`
	Ctime         int64
	Utime         int64
}

// TableName 重命名表
func (BatchConfig) TableName() string {
	return "batch_configs"
}

type BatchConfigDAO interface {
	// GetByKey 查询启用的配置，没有则返回 ErrBatchConfigNotFound
	GetByKey(ctx context.Context, batchKey string) (BatchConfig, error)
	// FindAllActive 查询全部启用配置
	FindAllActive(ctx context.Context) ([]BatchConfig, error)
	// Save 保存配置，同 batchKey 存在则更新
	Save(ctx context.Context, config BatchConfig) (BatchConfig, error)
	// Delete 删除配置
	Delete(ctx context.Context, batchKey string) error
}

type batchConfigDAO struct {
	db *egorm.Component
}

// NewBatchConfigDAO 创建批处理配置DAO实例
func NewBatchConfigDAO(db *egorm.Component) BatchConfigDAO {
	return &batchConfigDAO{
		db: db,
	}
}

func (d *batchConfigDAO) GetByKey(ctx context.Context, batchKey string) (BatchConfig, error) {
	var config BatchConfig
	err := d.db.WithContext(ctx).
		Where("batch_key = ? AND is_active = ?", batchKey, true).
		First(&config).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return BatchConfig{}, fmt.Errorf("%w: batchKey=%s", errs.ErrBatchConfigNotFound, batchKey)
		}
		return BatchConfig{}, err
	}
	return config, nil
}

func (d *batchConfigDAO) FindAllActive(ctx context.Context) ([]BatchConfig, error) {
	var configs []BatchConfig
	err := d.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&configs).Error
	if err != nil {
		return nil, fmt.Errorf("查询批处理配置失败: %w", err)
	}
	return configs, nil
}

// Save 保存配置，使用upsert语句，同 batchKey 存在则更新，不存在则插入
func (d *batchConfigDAO) Save(ctx context.Context, config BatchConfig) (BatchConfig, error) {
	now := time.Now().UnixMilli()
	config.Ctime = now
	config.Utime = now
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "batch_key"}},
		DoUpdates: clause.AssignmentColumns(batchConfigUpdateColumns),
	}).Create(&config).Error
	if err != nil {
		return BatchConfig{}, err
	}
	return config, nil
}

func (d *batchConfigDAO) Delete(ctx context.Context, batchKey string) error {
	return d.db.WithContext(ctx).
		Where("batch_key = ?", batchKey).
		Delete(&BatchConfig{}).Error
}

var batchConfigUpdateColumns = []string{
	"max_batch_size",
	"max_wait_time",
	"group_by",
	"custom_grouper",
	"is_active",
	"utime",
}
