package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/errs"
	"gitee.com/flycash/notification-engine/internal/repository/dao"
	"github.com/gotomicro/ego/core/elog"
)

type FilterRuleRepository interface {
	// FindAllActive 返回全部启用规则，坏规则跳过不中断
	FindAllActive(ctx context.Context) ([]domain.FilterRule, error)
	GetByID(ctx context.Context, id int64) (domain.FilterRule, error)
	Save(ctx context.Context, rule domain.FilterRule) (domain.FilterRule, error)
	Delete(ctx context.Context, id int64) error
}

type filterRuleRepository struct {
	dao    dao.FilterRuleDAO
	logger *elog.Component
}

// NewFilterRuleRepository 创建过滤规则仓库实例
func NewFilterRuleRepository(ruleDao dao.FilterRuleDAO) FilterRuleRepository {
	return &filterRuleRepository{
		dao:    ruleDao,
		logger: elog.DefaultLogger,
	}
}

// FindAllActive 返回全部启用规则
// 反序列化失败的规则记一条警告然后跳过，一条坏规则不能拖垮整个过滤管道
func (r *filterRuleRepository) FindAllActive(ctx context.Context) ([]domain.FilterRule, error) {
	entities, err := r.dao.FindAllActive(ctx)
	if err != nil {
		return nil, err
	}
	rules := make([]domain.FilterRule, 0, len(entities))
	for i := range entities {
		rule, err1 := r.toDomain(entities[i])
		if err1 != nil {
			r.logger.Warn("过滤规则格式错误，跳过",
				elog.Int64("ruleID", entities[i].ID),
				elog.FieldErr(err1),
			)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (r *filterRuleRepository) GetByID(ctx context.Context, id int64) (domain.FilterRule, error) {
	entity, err := r.dao.GetByID(ctx, id)
	if err != nil {
		return domain.FilterRule{}, err
	}
	return r.toDomain(entity)
}

func (r *filterRuleRepository) Save(ctx context.Context, rule domain.FilterRule) (domain.FilterRule, error) {
	entity, err := r.toEntity(rule)
	if err != nil {
		return domain.FilterRule{}, err
	}
	saved, err := r.dao.Save(ctx, entity)
	if err != nil {
		return domain.FilterRule{}, err
	}
	rule.ID = saved.ID
	return rule, nil
}

func (r *filterRuleRepository) Delete(ctx context.Context, id int64) error {
	return r.dao.Delete(ctx, id)
}

func (r *filterRuleRepository) toDomain(entity dao.FilterRule) (domain.FilterRule, error) {
	var conditions []domain.Condition
	if err := json.Unmarshal([]byte(entity.Conditions), &conditions); err != nil {
		return domain.FilterRule{}, fmt.Errorf("%w: conditions 反序列化失败: %w", errs.ErrMalformedRule, err)
	}

	var params domain.ActionParams
	if entity.ActionParams.Valid {
		if err := json.Unmarshal([]byte(entity.ActionParams.String), &params); err != nil {
			return domain.FilterRule{}, fmt.Errorf("%w: actionParams 反序列化失败: %w", errs.ErrMalformedRule, err)
		}
	}

	scope := domain.RuleScope{Type: domain.RuleScopeType(entity.ScopeType)}
	if entity.ScopeUserID.Valid {
		scope.UserID = entity.ScopeUserID.String
	}

	return domain.FilterRule{
		ID:           entity.ID,
		Name:         entity.Name,
		Conditions:   conditions,
		Action:       domain.RuleAction(entity.Action),
		ActionParams: params,
		Priority:     entity.Priority,
		IsActive:     entity.IsActive,
		Scope:        scope,
	}, nil
}

func (r *filterRuleRepository) toEntity(rule domain.FilterRule) (dao.FilterRule, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return dao.FilterRule{}, err
	}
	params, err := json.Marshal(rule.ActionParams)
	if err != nil {
		return dao.FilterRule{}, err
	}
	return dao.FilterRule{
		ID:         rule.ID,
		Name:       rule.Name,
		Conditions: string(conditions),
		Action:     rule.Action.String(),
		ActionParams: sql.NullString{
			String: string(params),
			Valid:  true,
		},
		Priority:  rule.Priority,
		IsActive:  rule.IsActive,
		ScopeType: string(rule.Scope.Type),
		ScopeUserID: sql.NullString{
			String: rule.Scope.UserID,
			Valid:  rule.Scope.UserID != "",
		},
	}, nil
}
