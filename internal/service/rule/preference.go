package rule

import (
	"context"
	"fmt"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/errs"
	"gitee.com/flycash/notification-engine/internal/repository"
	"github.com/gotomicro/ego/core/elog"
)

// UserPreferenceService 用户偏好管理服务，引擎侧只在求值时读
type UserPreferenceService interface {
	GetByUserID(ctx context.Context, userID string) (domain.UserPreferences, error)
	Save(ctx context.Context, pref domain.UserPreferences) error
	Delete(ctx context.Context, userID string) error
}

type userPreferenceService struct {
	repo   repository.UserPreferenceRepository
	store  *Store
	logger *elog.Component
}

// NewUserPreferenceService 创建用户偏好管理服务
func NewUserPreferenceService(repo repository.UserPreferenceRepository, store *Store) UserPreferenceService {
	return &userPreferenceService{
		repo:   repo,
		store:  store,
		logger: elog.DefaultLogger,
	}
}

func (s *userPreferenceService) GetByUserID(ctx context.Context, userID string) (domain.UserPreferences, error) {
	if userID == "" {
		return domain.UserPreferences{}, fmt.Errorf("%w: userID 为空", errs.ErrInvalidParameter)
	}
	return s.repo.GetByUserID(ctx, userID)
}

func (s *userPreferenceService) Save(ctx context.Context, pref domain.UserPreferences) error {
	if pref.UserID == "" {
		return fmt.Errorf("%w: userID 为空", errs.ErrInvalidParameter)
	}
	if err := s.repo.Save(ctx, pref); err != nil {
		return err
	}
	s.refreshPreference(ctx, pref.UserID)
	return nil
}

func (s *userPreferenceService) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: userID 为空", errs.ErrInvalidParameter)
	}
	if err := s.repo.Delete(ctx, userID); err != nil {
		return err
	}
	s.refreshPreference(ctx, userID)
	return nil
}

func (s *userPreferenceService) refreshPreference(ctx context.Context, userID string) {
	if err := s.store.RefreshPreference(ctx, userID); err != nil {
		s.logger.Warn("偏好快照刷新失败", elog.String("userID", userID), elog.FieldErr(err))
	}
}
