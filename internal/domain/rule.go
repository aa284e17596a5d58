package domain

import (
	"fmt"
	"strings"
	"time"

	"gitee.com/flycash/notification-engine/internal/errs"
)

// RuleAction 过滤规则动作
type RuleAction string

const (
	RuleActionAllow          RuleAction = "allow"           // 放行
	RuleActionBlock          RuleAction = "block"           // 拦截
	RuleActionDelay          RuleAction = "delay"           // 延迟
	RuleActionModify         RuleAction = "modify"          // 修改载荷
	RuleActionPriorityChange RuleAction = "priority_change" // 调整优先级
)

// Terminal 终止性动作匹配之后停止后续规则求值
// modify 是唯一的非终止动作，允许多条 modify 规则按优先级叠加
func (a RuleAction) Terminal() bool {
	return a != RuleActionModify
}

func (a RuleAction) String() string {
	return string(a)
}

// ConditionField 条件作用的事件字段
type ConditionField string

const (
	ConditionFieldCategory  ConditionField = "category"
	ConditionFieldPriority  ConditionField = "priority"
	ConditionFieldKeyword   ConditionField = "keyword"
	ConditionFieldSender    ConditionField = "sender"
	ConditionFieldFrequency ConditionField = "frequency"
)

// ConditionOperator 条件比较算子
type ConditionOperator string

const (
	OperatorEquals   ConditionOperator = "eq"
	OperatorNotEq    ConditionOperator = "neq"
	OperatorGte      ConditionOperator = "gte"
	OperatorLte      ConditionOperator = "lte"
	OperatorContains ConditionOperator = "contains"
)

// Condition 单个谓词，规则内的所有条件必须同时成立
type Condition struct {
	Field    ConditionField    `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    string            `json:"value"`
}

func (c Condition) Validate() error {
	switch c.Field {
	case ConditionFieldCategory, ConditionFieldPriority,
		ConditionFieldKeyword, ConditionFieldSender, ConditionFieldFrequency:
	default:
		return fmt.Errorf("%w: 未知的条件字段 %q", errs.ErrMalformedRule, c.Field)
	}
	switch c.Operator {
	case OperatorEquals, OperatorNotEq, OperatorGte, OperatorLte, OperatorContains:
	default:
		return fmt.Errorf("%w: 未知的条件算子 %q", errs.ErrMalformedRule, c.Operator)
	}
	if strings.TrimSpace(c.Value) == "" {
		return fmt.Errorf("%w: 条件值为空", errs.ErrMalformedRule)
	}
	return nil
}

// RuleScopeType 规则作用域类型
type RuleScopeType string

const (
	ScopeGlobal RuleScopeType = "global" // 对所有接收者生效
	ScopeUser   RuleScopeType = "user"   // 只对指定接收者生效
)

type RuleScope struct {
	Type   RuleScopeType `json:"type"`
	UserID string        `json:"userId"` // Type 为 user 时必填
}

// ActionParams 动作附加参数，不同动作只使用自己关心的字段
type ActionParams struct {
	// delay 动作：延迟时长
	Delay time.Duration `json:"delay"`
	// priority_change 动作：新的优先级
	NewPriority int `json:"newPriority"`
	// modify 动作：合并进事件载荷的键值
	SetPayload map[string]any `json:"setPayload"`
	// modify 动作：顺带调整优先级，0 表示不调整
	SetPriority int `json:"setPriority"`
	// block 动作：拦截原因，用于审计
	Reason string `json:"reason"`
}

// FilterRule 过滤规则领域模型
type FilterRule struct {
	ID           int64        // 规则唯一标识
	Name         string       // 规则名称
	Conditions   []Condition  // 谓词集合，全部命中才算匹配
	Action       RuleAction   // 命中后的动作
	ActionParams ActionParams // 动作参数
	Priority     int          // 规则优先级，越大越先求值
	IsActive     bool         // 是否启用
	Scope        RuleScope    // 作用域
}

func (r *FilterRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: Name = %q", errs.ErrInvalidParameter, r.Name)
	}

	if len(r.Conditions) == 0 {
		return fmt.Errorf("%w: 规则没有任何条件", errs.ErrInvalidParameter)
	}

	for _, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return err
		}
	}

	switch r.Action {
	case RuleActionAllow, RuleActionBlock, RuleActionDelay,
		RuleActionModify, RuleActionPriorityChange:
	default:
		return fmt.Errorf("%w: Action = %q", errs.ErrInvalidParameter, r.Action)
	}

	if r.Action == RuleActionDelay && r.ActionParams.Delay <= 0 {
		return fmt.Errorf("%w: delay 动作缺少延迟时长", errs.ErrInvalidParameter)
	}

	if r.Scope.Type == ScopeUser && r.Scope.UserID == "" {
		return fmt.Errorf("%w: user 作用域缺少用户ID", errs.ErrInvalidParameter)
	}

	return nil
}

// AppliesTo 规则是否对该接收者生效
func (r *FilterRule) AppliesTo(recipientID string) bool {
	if r.Scope.Type == ScopeGlobal {
		return true
	}
	return r.Scope.UserID == recipientID
}
