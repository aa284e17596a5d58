package rule

import (
	"context"
	"fmt"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/errs"
	"gitee.com/flycash/notification-engine/internal/repository"
	"github.com/gotomicro/ego/core/elog"
)

// FilterRuleService 过滤规则管理服务
// 写操作落库之后刷新规则快照，过滤引擎下一次求值就能看到
type FilterRuleService interface {
	GetByID(ctx context.Context, id int64) (domain.FilterRule, error)
	// Save 保存规则，存在则更新
	Save(ctx context.Context, rule domain.FilterRule) (domain.FilterRule, error)
	Delete(ctx context.Context, id int64) error
}

type filterRuleService struct {
	repo   repository.FilterRuleRepository
	store  *Store
	logger *elog.Component
}

// NewFilterRuleService 创建过滤规则管理服务
func NewFilterRuleService(repo repository.FilterRuleRepository, store *Store) FilterRuleService {
	return &filterRuleService{
		repo:   repo,
		store:  store,
		logger: elog.DefaultLogger,
	}
}

func (s *filterRuleService) GetByID(ctx context.Context, id int64) (domain.FilterRule, error) {
	if id <= 0 {
		return domain.FilterRule{}, fmt.Errorf("%w: id = %d", errs.ErrInvalidParameter, id)
	}
	return s.repo.GetByID(ctx, id)
}

func (s *filterRuleService) Save(ctx context.Context, rule domain.FilterRule) (domain.FilterRule, error) {
	if err := rule.Validate(); err != nil {
		return domain.FilterRule{}, err
	}
	saved, err := s.repo.Save(ctx, rule)
	if err != nil {
		return domain.FilterRule{}, err
	}
	s.refresh(ctx)
	return saved, nil
}

func (s *filterRuleService) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: id = %d", errs.ErrInvalidParameter, id)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.refresh(ctx)
	return nil
}

func (s *filterRuleService) refresh(ctx context.Context) {
	// 刷新失败只记日志，老快照继续服务
	if err := s.store.Refresh(ctx); err != nil {
		s.logger.Warn("规则快照刷新失败", elog.FieldErr(err))
	}
}
