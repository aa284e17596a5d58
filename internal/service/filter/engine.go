package filter

import (
	"context"
	"fmt"
	"time"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/pkg/freqlimit"
	"gitee.com/flycash/notification-engine/internal/service/rule"
	"github.com/gotomicro/ego/core/elog"
)

// Engine 智能过滤引擎
// 对同一份输入求值两次必然得到同一个结论，唯一的副作用是频率计数，
// 而且只在事件最终走向投递时才计数
type Engine interface {
	// Evaluate 对单个接收者求过滤结论
	Evaluate(ctx context.Context, event domain.NotificationEvent, recipientID string) (domain.Disposition, error)
}

type engine struct {
	store   *rule.Store
	counter freqlimit.Counter
	logger  *elog.Component
	now     func() time.Time
}

// NewEngine 创建过滤引擎
func NewEngine(store *rule.Store, counter freqlimit.Counter) Engine {
	return &engine{
		store:   store,
		counter: counter,
		logger:  elog.DefaultLogger,
		now:     time.Now,
	}
}

// NewEngineWithClock 测试用，注入时钟
func NewEngineWithClock(store *rule.Store, counter freqlimit.Counter, now func() time.Time) Engine {
	return &engine{
		store:   store,
		counter: counter,
		logger:  elog.DefaultLogger,
		now:     now,
	}
}

func (e *engine) Evaluate(ctx context.Context, event domain.NotificationEvent, recipientID string) (domain.Disposition, error) {
	if err := event.Validate(); err != nil {
		return domain.Disposition{}, err
	}

	snap := e.store.Current()
	disposition, matchedTerminal := e.evaluateRules(ctx, snap, event, recipientID)
	if !matchedTerminal {
		disposition = e.applyPreferences(ctx, disposition)
	}

	// 被拦截的通知不计入接收者配额
	if disposition.Deliverable() {
		e.recordDelivery(ctx, snap, recipientID)
	}
	return disposition, nil
}

// evaluateRules 按优先级降序单趟遍历候选规则
// modify 命中后在派生副本上继续，终止性动作命中后立即返回
func (e *engine) evaluateRules(
	ctx context.Context,
	snap *rule.Snapshot,
	event domain.NotificationEvent,
	recipientID string,
) (domain.Disposition, bool) {
	current := event
	modified := false

	for _, r := range snap.CandidatesFor(recipientID) {
		matched, err := e.ruleMatches(ctx, r, current, recipientID)
		if err != nil {
			e.logger.Warn("规则求值出错，跳过该规则",
				elog.Int64("ruleID", r.ID),
				elog.String("rule", r.Name),
				elog.FieldErr(err),
			)
			continue
		}
		if !matched {
			continue
		}

		switch r.Action {
		case domain.RuleActionAllow:
			// allow 也是终止动作，命中后越过偏好检查，免打扰豁免规则靠它实现
			return domain.NewAllowDisposition(current, recipientID), true
		case domain.RuleActionBlock:
			reason := r.ActionParams.Reason
			if reason == "" {
				reason = fmt.Sprintf("命中拦截规则 %q", r.Name)
			}
			return domain.NewBlockDisposition(recipientID, reason), true
		case domain.RuleActionDelay:
			return domain.NewDelayDisposition(current, recipientID, e.now().Add(r.ActionParams.Delay)), true
		case domain.RuleActionPriorityChange:
			return domain.NewPriorityChangeDisposition(current, recipientID, r.ActionParams.NewPriority), true
		case domain.RuleActionModify:
			current = applyModify(current, r.ActionParams, !modified)
			modified = true
		}
	}

	if modified {
		return domain.NewModifyDisposition(current, recipientID), false
	}
	return domain.NewAllowDisposition(current, recipientID), false
}

func (e *engine) ruleMatches(
	ctx context.Context,
	r domain.FilterRule,
	event domain.NotificationEvent,
	recipientID string,
) (bool, error) {
	// 条件之间是合取关系，一个不中整条规则就不中
	for _, cond := range r.Conditions {
		ok, err := e.matchCondition(ctx, cond, event, recipientID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return len(r.Conditions) > 0, nil
}

// applyModify 在副本上叠加 modify 动作，firstModify 时才做深拷贝
func applyModify(event domain.NotificationEvent, params domain.ActionParams, firstModify bool) domain.NotificationEvent {
	if firstModify {
		event = event.Clone()
	}
	if event.Payload == nil {
		event.Payload = make(map[string]any, len(params.SetPayload))
	}
	for k, v := range params.SetPayload {
		event.Payload[k] = v
	}
	if params.SetPriority != 0 {
		event.Priority = params.SetPriority
	}
	return event
}

// applyPreferences 规则没有给出终止结论时按偏好兜底
// 检查顺序：关键字 → 类别开关 → 免打扰时段 → 频率限制，先命中先生效
func (e *engine) applyPreferences(ctx context.Context, d domain.Disposition) domain.Disposition {
	// 快照优先，快照里没有的用户回源数据库，查不到按默认偏好
	pref := e.store.LoadPreference(ctx, d.RecipientID)
	event := d.Event

	if kw, hit := pref.MatchKeyword(payloadText(event.Payload)); hit {
		return domain.NewBlockDisposition(d.RecipientID, fmt.Sprintf("命中用户拦截关键字 %q", kw))
	}

	if !pref.CategoryEnabled(event.Category) {
		return domain.NewBlockDisposition(d.RecipientID, fmt.Sprintf("用户已关闭类别 %q", event.Category))
	}

	// 紧急类别不受免打扰时段约束
	if !event.Category.Critical() {
		inQuiet, end, err := pref.QuietHours.Contains(e.now())
		if err != nil {
			e.logger.Warn("免打扰时段配置非法，跳过该检查",
				elog.String("userID", d.RecipientID), elog.FieldErr(err))
		} else if inQuiet {
			return domain.NewDelayDisposition(event, d.RecipientID, end)
		}
	}

	if delayed, until := e.overFrequencyLimit(ctx, pref, d.RecipientID); delayed {
		return domain.NewDelayDisposition(event, d.RecipientID, until)
	}

	return d
}

func (e *engine) overFrequencyLimit(ctx context.Context, pref domain.UserPreferences, recipientID string) (bool, time.Time) {
	limit := pref.FrequencyLimit
	if !limit.Enabled || limit.MaxCount <= 0 || limit.Window <= 0 {
		return false, time.Time{}
	}
	count, err := e.counter.Count(ctx, recipientID, limit.Window)
	if err != nil {
		e.logger.Warn("频率计数器不可用，跳过频率限制",
			elog.String("userID", recipientID), elog.FieldErr(err))
		return false, time.Time{}
	}
	if count < limit.MaxCount {
		return false, time.Time{}
	}
	reset, err := e.counter.WindowReset(ctx, recipientID, limit.Window)
	if err != nil {
		reset = e.now().Add(limit.Window)
	}
	return true, reset
}

func (e *engine) recordDelivery(ctx context.Context, snap *rule.Snapshot, recipientID string) {
	window := snap.PreferencesFor(recipientID).FrequencyLimit.Window
	if window <= 0 {
		// 没配频率限制也记一笔，频率条件规则还要用这个计数
		window = time.Hour
	}
	if err := e.counter.Record(ctx, recipientID, window); err != nil {
		e.logger.Warn("频率计数失败", elog.String("userID", recipientID), elog.FieldErr(err))
	}
}
