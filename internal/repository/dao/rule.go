package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gitee.com/flycash/notification-engine/internal/errs"
	"github.com/ego-component/egorm"
	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FilterRule 过滤规则表
type FilterRule struct {
	ID           int64          `gorm:"primaryKey;autoIncrement;comment:'规则ID'"`
	Name         string         `gorm:"type:VARCHAR(128);NOT NULL;comment:'规则名称'"`
	Conditions   string         `gorm:"type:JSON;NOT NULL;comment:'谓词数组，全部命中才算匹配'"`
	Action       string         `gorm:"type:ENUM('allow','block','delay','modify','priority_change');NOT NULL;comment:'命中后的动作'"`
	ActionParams sql.NullString `gorm:"type:JSON;comment:'动作参数'"`
	Priority     int            `gorm:"type:INT;NOT NULL;DEFAULT:0;comment:'规则优先级，越大越先求值'"`
	IsActive     bool           `gorm:"NOT NULL;DEFAULT:1;index:idx_scope_active,priority:3;comment:'是否启用'"`
	ScopeType    string         `gorm:"type:ENUM('global','user');NOT NULL;index:idx_scope_active,priority:1;comment:'作用域类型'"`
	ScopeUserID  sql.NullString `gorm:"type:VARCHAR(64);index:idx_scope_active,priority:2;comment:'user 作用域的用户ID'"`
	Ctime        int64
	Utime        int64
}

// TableName 重命名表
func (FilterRule) TableName() string {
	return "filter_rules"
}

type FilterRuleDAO interface {
	// GetByID 根据ID查询规则
	GetByID(ctx context.Context, id int64) (FilterRule, error)
	// FindAllActive 查询全部启用规则，供规则快照整体加载
	FindAllActive(ctx context.Context) ([]FilterRule, error)
	// Save 保存规则，存在则更新
	Save(ctx context.Context, rule FilterRule) (FilterRule, error)
	// Delete 删除规则
	Delete(ctx context.Context, id int64) error
}

type filterRuleDAO struct {
	db *egorm.Component
}

// NewFilterRuleDAO 创建规则DAO实例
func NewFilterRuleDAO(db *egorm.Component) FilterRuleDAO {
	return &filterRuleDAO{
		db: db,
	}
}

func (d *filterRuleDAO) GetByID(ctx context.Context, id int64) (FilterRule, error) {
	var rule FilterRule
	err := d.db.WithContext(ctx).First(&rule, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return FilterRule{}, fmt.Errorf("%w: id=%d", errs.ErrRuleNotFound, id)
		}
		return FilterRule{}, err
	}
	return rule, nil
}

// FindAllActive 查询全部启用规则
// 规则表是读多写少的小表，快照一次拉全量
func (d *filterRuleDAO) FindAllActive(ctx context.Context) ([]FilterRule, error) {
	var rules []FilterRule
	err := d.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("priority DESC, id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("查询启用规则失败: %w", err)
	}
	return rules, nil
}

// Save 保存规则，使用upsert语句，存在则更新，不存在则插入
func (d *filterRuleDAO) Save(ctx context.Context, rule FilterRule) (FilterRule, error) {
	now := time.Now().UnixMilli()
	rule.Ctime = now
	rule.Utime = now
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(ruleUpdateColumns),
	}).Create(&rule).Error
	if err != nil {
		if isUniqueConstraintError(err) {
			return FilterRule{}, fmt.Errorf("%w: id=%d", errs.ErrInvalidParameter, rule.ID)
		}
		return FilterRule{}, err
	}
	return rule, nil
}

func (d *filterRuleDAO) Delete(ctx context.Context, id int64) error {
	return d.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&FilterRule{}).Error
}

var ruleUpdateColumns = []string{
	"name",
	"conditions",
	"action",
	"action_params",
	"priority",
	"is_active",
	"scope_type",
	"scope_user_id",
	"utime",
}

// isUniqueConstraintError 检查是否是唯一索引冲突错误
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	me := new(mysql.MySQLError)
	if ok := errors.As(err, &me); ok {
		const uniqueIndexErrNo uint16 = 1062
		return me.Number == uniqueIndexErrNo
	}
	return false
}
