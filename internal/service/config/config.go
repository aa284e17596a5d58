package config

import (
	"context"
	"errors"
	"fmt"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/errs"
	"gitee.com/flycash/notification-engine/internal/repository"
	"github.com/gotomicro/ego/core/elog"
)

// BatchConfigService 批处理配置服务
type BatchConfigService interface {
	GetByKey(ctx context.Context, batchKey string) (domain.BatchConfiguration, error)
	// GetOrFallback 查不到生效配置时返回立即投递的兜底配置，从不失败
	GetOrFallback(ctx context.Context, batchKey string) domain.BatchConfiguration
	FindAllActive(ctx context.Context) ([]domain.BatchConfiguration, error)
	// SaveConfig 保存配置，同 batchKey 存在则更新
	SaveConfig(ctx context.Context, config domain.BatchConfiguration) error
	Delete(ctx context.Context, batchKey string) error
	// EnsureDefaults 把六个内置通知族的建议配置补齐，已有的不动
	EnsureDefaults(ctx context.Context) error
}

type batchConfigService struct {
	repo   repository.BatchConfigRepository
	logger *elog.Component
}

// NewBatchConfigService 创建批处理配置服务实例
func NewBatchConfigService(repo repository.BatchConfigRepository) BatchConfigService {
	return &batchConfigService{
		repo:   repo,
		logger: elog.DefaultLogger,
	}
}

func (s *batchConfigService) GetByKey(ctx context.Context, batchKey string) (domain.BatchConfiguration, error) {
	if batchKey == "" {
		return domain.BatchConfiguration{}, fmt.Errorf("%w: batchKey 为空", errs.ErrInvalidParameter)
	}
	return s.repo.GetByKey(ctx, batchKey)
}

func (s *batchConfigService) GetOrFallback(ctx context.Context, batchKey string) domain.BatchConfiguration {
	cfg, err := s.repo.GetByKey(ctx, batchKey)
	if err != nil {
		if !errors.Is(err, errs.ErrBatchConfigNotFound) {
			s.logger.Warn("查询批处理配置失败，使用兜底配置",
				elog.String("batchKey", batchKey), elog.FieldErr(err))
		}
		return domain.FallbackBatchConfiguration(batchKey)
	}
	return cfg
}

func (s *batchConfigService) FindAllActive(ctx context.Context) ([]domain.BatchConfiguration, error) {
	return s.repo.FindAllActive(ctx)
}

func (s *batchConfigService) SaveConfig(ctx context.Context, config domain.BatchConfiguration) error {
	if err := config.Validate(); err != nil {
		return err
	}
	return s.repo.Save(ctx, config)
}

func (s *batchConfigService) Delete(ctx context.Context, batchKey string) error {
	if batchKey == "" {
		return fmt.Errorf("%w: batchKey 为空", errs.ErrInvalidParameter)
	}
	return s.repo.Delete(ctx, batchKey)
}

func (s *batchConfigService) EnsureDefaults(ctx context.Context) error {
	for _, cfg := range domain.DefaultBatchConfigurations() {
		_, err := s.repo.GetByKey(ctx, cfg.BatchKey)
		if err == nil {
			continue
		}
		if !errors.Is(err, errs.ErrBatchConfigNotFound) {
			return err
		}
		if err := s.repo.Save(ctx, cfg); err != nil {
			return fmt.Errorf("写入默认批处理配置失败: batchKey=%s %w", cfg.BatchKey, err)
		}
	}
	return nil
}
