package repository

import (
	"context"
	"errors"
	"time"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/repository/cache"
	"gitee.com/flycash/notification-engine/internal/repository/dao"
	"github.com/gotomicro/ego/core/elog"
)

type BatchConfigRepository interface {
	// GetByKey 查询启用配置，没有则返回 errs.ErrBatchConfigNotFound
	GetByKey(ctx context.Context, batchKey string) (domain.BatchConfiguration, error)
	FindAllActive(ctx context.Context) ([]domain.BatchConfiguration, error)
	Save(ctx context.Context, config domain.BatchConfiguration) error
	Delete(ctx context.Context, batchKey string) error
}

// batchConfigRepository 两级缓存的配置仓库：本地缓存 → 共享缓存 → 数据库
// 写路径同步失效两级缓存，读路径逐级回填
type batchConfigRepository struct {
	dao        dao.BatchConfigDAO
	localCache cache.BatchConfigCache
	redisCache cache.BatchConfigCache
	logger     *elog.Component
}

// NewBatchConfigRepository 创建批处理配置仓库实例
func NewBatchConfigRepository(
	configDao dao.BatchConfigDAO,
	localCache cache.BatchConfigCache,
	redisCache cache.BatchConfigCache,
) BatchConfigRepository {
	return &batchConfigRepository{
		dao:        configDao,
		localCache: localCache,
		redisCache: redisCache,
		logger:     elog.DefaultLogger,
	}
}

func (r *batchConfigRepository) GetByKey(ctx context.Context, batchKey string) (domain.BatchConfiguration, error) {
	cfg, err := r.localCache.Get(ctx, batchKey)
	if err == nil {
		return cfg, nil
	}

	cfg, err = r.redisCache.Get(ctx, batchKey)
	if err == nil {
		if err1 := r.localCache.Set(ctx, cfg); err1 != nil {
			r.logger.Warn("回填本地缓存失败", elog.String("batchKey", batchKey), elog.FieldErr(err1))
		}
		return cfg, nil
	}
	if !errors.Is(err, cache.ErrKeyNotFound) {
		// 共享缓存故障降级为直查数据库
		r.logger.Warn("读取共享缓存失败", elog.String("batchKey", batchKey), elog.FieldErr(err))
	}

	entity, err := r.dao.GetByKey(ctx, batchKey)
	if err != nil {
		return domain.BatchConfiguration{}, err
	}
	cfg = r.toDomain(entity)

	if err1 := r.redisCache.Set(ctx, cfg); err1 != nil {
		r.logger.Warn("回填共享缓存失败", elog.String("batchKey", batchKey), elog.FieldErr(err1))
	}
	if err1 := r.localCache.Set(ctx, cfg); err1 != nil {
		r.logger.Warn("回填本地缓存失败", elog.String("batchKey", batchKey), elog.FieldErr(err1))
	}
	return cfg, nil
}

func (r *batchConfigRepository) FindAllActive(ctx context.Context) ([]domain.BatchConfiguration, error) {
	entities, err := r.dao.FindAllActive(ctx)
	if err != nil {
		return nil, err
	}
	configs := make([]domain.BatchConfiguration, 0, len(entities))
	for i := range entities {
		configs = append(configs, r.toDomain(entities[i]))
	}
	return configs, nil
}

func (r *batchConfigRepository) Save(ctx context.Context, config domain.BatchConfiguration) error {
	entity := r.toEntity(config)
	if _, err := r.dao.Save(ctx, entity); err != nil {
		return err
	}
	// 先落库再失效缓存，订阅键空间通知的实例会自行重建
	if err := r.redisCache.Del(ctx, config.BatchKey); err != nil {
		r.logger.Warn("失效共享缓存失败", elog.String("batchKey", config.BatchKey), elog.FieldErr(err))
	}
	return r.localCache.Del(ctx, config.BatchKey)
}

func (r *batchConfigRepository) Delete(ctx context.Context, batchKey string) error {
	if err := r.dao.Delete(ctx, batchKey); err != nil {
		return err
	}
	if err := r.redisCache.Del(ctx, batchKey); err != nil {
		r.logger.Warn("失效共享缓存失败", elog.String("batchKey", batchKey), elog.FieldErr(err))
	}
	return r.localCache.Del(ctx, batchKey)
}

func (r *batchConfigRepository) toDomain(entity dao.BatchConfig) domain.BatchConfiguration {
	return domain.BatchConfiguration{
		BatchKey:      entity.BatchKey,
		MaxBatchSize:  entity.MaxBatchSize,
		MaxWaitTime:   time.Duration(entity.MaxWaitTime) * time.Millisecond,
		GroupBy:       domain.GroupBy(entity.GroupBy),
		CustomGrouper: entity.CustomGrouper.String,
		IsActive:      entity.IsActive,
	}
}

func (r *batchConfigRepository) toEntity(config domain.BatchConfiguration) dao.BatchConfig {
	entity := dao.BatchConfig{
		BatchKey:     config.BatchKey,
		MaxBatchSize: config.MaxBatchSize,
		MaxWaitTime:  config.MaxWaitTime.Milliseconds(),
		GroupBy:      string(config.GroupBy),
		IsActive:     config.IsActive,
	}
	entity.CustomGrouper.String = config.CustomGrouper
	entity.CustomGrouper.Valid = config.CustomGrouper != ""
	return entity
}
