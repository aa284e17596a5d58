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

// UserPreference 用户偏好表，一个用户一条记录
type UserPreference struct {
	ID                  int64          `gorm:"primaryKey;autoIncrement"`
	UserID              string         `gorm:"type:VARCHAR(64);NOT NULL;uniqueIndex:idx_user_id;comment:'用户ID'"`
	QuietHours          sql.NullString `gorm:"type:JSON;comment:'免打扰时段'"`
	WorkingHours        sql.NullString `gorm:"type:JSON;comment:'工作时间窗口'"`
	ChannelPreferences  sql.NullString `gorm:"type:JSON;comment:'渠道开关'"`
	CategoryPreferences sql.NullString `gorm:"type:JSON;comment:'类别开关'"`
	FrequencyLimit      sql.NullString `gorm:"type:JSON;comment:'滚动窗口频率限制'"`
	KeywordFilters      sql.NullString `gorm:"type:JSON;comment:'拦截关键字数组'"`
	Ctime               int64
	Utime               int64
}

// TableName 重命名表
func (UserPreference) TableName() string {
	return "user_preferences"
}

type UserPreferenceDAO interface {
	// GetByUserID 查询用户偏好，没有记录返回 ErrPreferenceNotFound
	GetByUserID(ctx context.Context, userID string) (UserPreference, error)
	// Save 保存用户偏好，存在则更新
	Save(ctx context.Context, pref UserPreference) (UserPreference, error)
	// Delete 删除用户偏好
	Delete(ctx context.Context, userID string) error
}

type userPreferenceDAO struct {
	db *egorm.Component
}

// NewUserPreferenceDAO 创建用户偏好DAO实例
func NewUserPreferenceDAO(db *egorm.Component) UserPreferenceDAO {
	return &userPreferenceDAO{
		db: db,
	}
}

func (d *userPreferenceDAO) GetByUserID(ctx context.Context, userID string) (UserPreference, error) {
	var pref UserPreference
	err := d.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UserPreference{}, fmt.Errorf("%w: userID=%s", errs.ErrPreferenceNotFound, userID)
		}
		return UserPreference{}, err
	}
	return pref, nil
}

// Save 保存用户偏好，使用upsert语句，存在则更新，不存在则插入
func (d *userPreferenceDAO) Save(ctx context.Context, pref UserPreference) (UserPreference, error) {
	now := time.Now().UnixMilli()
	pref.Ctime = now
	pref.Utime = now
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(preferenceUpdateColumns),
	}).Create(&pref).Error
	if err != nil {
		return UserPreference{}, err
	}
	return pref, nil
}

func (d *userPreferenceDAO) Delete(ctx context.Context, userID string) error {
	return d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&UserPreference{}).Error
}

var preferenceUpdateColumns = []string{
	"quiet_hours",
	"working_hours",
	"channel_preferences",
	"category_preferences",
	"frequency_limit",
	"keyword_filters",
	"utime",
}
