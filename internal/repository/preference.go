package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/repository/dao"
)

type UserPreferenceRepository interface {
	// GetByUserID 查询用户偏好，没有记录返回 errs.ErrPreferenceNotFound
	GetByUserID(ctx context.Context, userID string) (domain.UserPreferences, error)
	Save(ctx context.Context, pref domain.UserPreferences) error
	Delete(ctx context.Context, userID string) error
}

type userPreferenceRepository struct {
	dao dao.UserPreferenceDAO
}

// NewUserPreferenceRepository 创建用户偏好仓库实例
func NewUserPreferenceRepository(prefDao dao.UserPreferenceDAO) UserPreferenceRepository {
	return &userPreferenceRepository{
		dao: prefDao,
	}
}

func (r *userPreferenceRepository) GetByUserID(ctx context.Context, userID string) (domain.UserPreferences, error) {
	entity, err := r.dao.GetByUserID(ctx, userID)
	if err != nil {
		return domain.UserPreferences{}, err
	}
	return r.toDomain(entity)
}

func (r *userPreferenceRepository) Save(ctx context.Context, pref domain.UserPreferences) error {
	entity, err := r.toEntity(pref)
	if err != nil {
		return err
	}
	_, err = r.dao.Save(ctx, entity)
	return err
}

func (r *userPreferenceRepository) Delete(ctx context.Context, userID string) error {
	return r.dao.Delete(ctx, userID)
}

func (r *userPreferenceRepository) toDomain(entity dao.UserPreference) (domain.UserPreferences, error) {
	pref := domain.UserPreferences{UserID: entity.UserID}

	fields := []struct {
		src sql.NullString
		dst any
	}{
		{entity.QuietHours, &pref.QuietHours},
		{entity.WorkingHours, &pref.WorkingHours},
		{entity.ChannelPreferences, &pref.ChannelPreferences},
		{entity.CategoryPreferences, &pref.CategoryPreferences},
		{entity.FrequencyLimit, &pref.FrequencyLimit},
		{entity.KeywordFilters, &pref.KeywordFilters},
	}
	for _, f := range fields {
		if !f.src.Valid {
			continue
		}
		if err := json.Unmarshal([]byte(f.src.String), f.dst); err != nil {
			return domain.UserPreferences{}, fmt.Errorf("用户偏好反序列化失败: userID=%s %w", entity.UserID, err)
		}
	}
	return pref, nil
}

func (r *userPreferenceRepository) toEntity(pref domain.UserPreferences) (dao.UserPreference, error) {
	entity := dao.UserPreference{UserID: pref.UserID}

	fields := []struct {
		src any
		dst *sql.NullString
	}{
		{pref.QuietHours, &entity.QuietHours},
		{pref.WorkingHours, &entity.WorkingHours},
		{pref.ChannelPreferences, &entity.ChannelPreferences},
		{pref.CategoryPreferences, &entity.CategoryPreferences},
		{pref.FrequencyLimit, &entity.FrequencyLimit},
		{pref.KeywordFilters, &entity.KeywordFilters},
	}
	for _, f := range fields {
		data, err := json.Marshal(f.src)
		if err != nil {
			return dao.UserPreference{}, err
		}
		*f.dst = sql.NullString{String: string(data), Valid: true}
	}
	return entity, nil
}
