package filter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/errs"
	"gitee.com/flycash/notification-engine/internal/pkg/freqlimit"
	"gitee.com/flycash/notification-engine/internal/repository"
	"gitee.com/flycash/notification-engine/internal/service/rule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRuleRepo 内存规则仓库，只实现快照加载需要的部分
type fakeRuleRepo struct {
	rules []domain.FilterRule
}

func (f *fakeRuleRepo) FindAllActive(_ context.Context) ([]domain.FilterRule, error) {
	return f.rules, nil
}

func (f *fakeRuleRepo) GetByID(_ context.Context, id int64) (domain.FilterRule, error) {
	for _, r := range f.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.FilterRule{}, fmt.Errorf("%w: id=%d", errs.ErrRuleNotFound, id)
}

func (f *fakeRuleRepo) Save(_ context.Context, r domain.FilterRule) (domain.FilterRule, error) {
	f.rules = append(f.rules, r)
	return r, nil
}

func (f *fakeRuleRepo) Delete(_ context.Context, _ int64) error {
	return nil
}

type fakePrefRepo struct {
	prefs map[string]domain.UserPreferences
}

func (f *fakePrefRepo) GetByUserID(_ context.Context, userID string) (domain.UserPreferences, error) {
	if pref, ok := f.prefs[userID]; ok {
		return pref, nil
	}
	return domain.UserPreferences{}, fmt.Errorf("%w: userID=%s", errs.ErrPreferenceNotFound, userID)
}

func (f *fakePrefRepo) Save(_ context.Context, pref domain.UserPreferences) error {
	f.prefs[pref.UserID] = pref
	return nil
}

func (f *fakePrefRepo) Delete(_ context.Context, userID string) error {
	delete(f.prefs, userID)
	return nil
}

var (
	_ repository.FilterRuleRepository     = (*fakeRuleRepo)(nil)
	_ repository.UserPreferenceRepository = (*fakePrefRepo)(nil)
)

func newTestEngine(
	t *testing.T,
	rules []domain.FilterRule,
	prefs map[string]domain.UserPreferences,
	counter freqlimit.Counter,
	now func() time.Time,
) Engine {
	t.Helper()
	if prefs == nil {
		prefs = make(map[string]domain.UserPreferences)
	}
	store := rule.NewStore(&fakeRuleRepo{rules: rules}, &fakePrefRepo{prefs: prefs})
	require.NoError(t, store.Refresh(t.Context()))
	if counter == nil {
		counter = freqlimit.NewMemoryCounterWithClock(now)
	}
	return NewEngineWithClock(store, counter, now)
}

func testEvent(id string, category domain.Category, priority int) domain.NotificationEvent {
	return domain.NotificationEvent{
		ID:            id,
		Category:      category,
		TargetUserIDs: []string{"user-1"},
		Sender:        "ticket-system",
		Payload:       map[string]any{"title": "工单状态变更"},
		Priority:      priority,
		CreatedAt:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func fixedClock() time.Time {
	// 周五上午十点，不在任何免打扰窗口里
	return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
}

func TestEngine_Evaluate_RuleActions(t *testing.T) {
	t.Parallel()

	blockLowPriority := domain.FilterRule{
		ID:   1,
		Name: "拦截低优先级",
		Conditions: []domain.Condition{
			{Field: domain.ConditionFieldPriority, Operator: domain.OperatorLte, Value: "2"},
		},
		Action:       domain.RuleActionBlock,
		ActionParams: domain.ActionParams{Reason: "优先级太低"},
		Priority:     10,
		IsActive:     true,
		Scope:        domain.RuleScope{Type: domain.ScopeGlobal},
	}
	delayComments := domain.FilterRule{
		ID:   2,
		Name: "评论延迟半小时",
		Conditions: []domain.Condition{
			{Field: domain.ConditionFieldCategory, Operator: domain.OperatorEquals, Value: "comment"},
		},
		Action:       domain.RuleActionDelay,
		ActionParams: domain.ActionParams{Delay: 30 * time.Minute},
		Priority:     5,
		IsActive:     true,
		Scope:        domain.RuleScope{Type: domain.ScopeGlobal},
	}
	escalateSLA := domain.FilterRule{
		ID:   3,
		Name: "SLA告警提优先级",
		Conditions: []domain.Condition{
			{Field: domain.ConditionFieldCategory, Operator: domain.OperatorEquals, Value: "sla-warning"},
		},
		Action:       domain.RuleActionPriorityChange,
		ActionParams: domain.ActionParams{NewPriority: 9},
		Priority:     8,
		IsActive:     true,
		Scope:        domain.RuleScope{Type: domain.ScopeGlobal},
	}

	testCases := []struct {
		name     string
		event    domain.NotificationEvent
		wantKind domain.DispositionKind
		check    func(t *testing.T, d domain.Disposition)
	}{
		{
			name:     "命中拦截规则",
			event:    testEvent("evt-1", domain.CategoryTicketUpdate, 1),
			wantKind: domain.DispositionBlock,
			check: func(t *testing.T, d domain.Disposition) {
				t.Helper()
				assert.Equal(t, "优先级太低", d.Reason)
			},
		},
		{
			name:     "命中延迟规则",
			event:    testEvent("evt-2", domain.CategoryComment, 5),
			wantKind: domain.DispositionDelay,
			check: func(t *testing.T, d domain.Disposition) {
				t.Helper()
				assert.Equal(t, fixedClock().Add(30*time.Minute), d.Until)
			},
		},
		{
			name:     "命中调优先级规则",
			event:    testEvent("evt-3", domain.CategorySLAWarning, 5),
			wantKind: domain.DispositionPriorityChange,
			check: func(t *testing.T, d domain.Disposition) {
				t.Helper()
				assert.Equal(t, 9, d.NewPriority)
				assert.Equal(t, 9, d.Event.Priority)
			},
		},
		{
			name:     "没有规则命中则放行",
			event:    testEvent("evt-4", domain.CategoryStatusUpdate, 5),
			wantKind: domain.DispositionAllow,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			eng := newTestEngine(t,
				[]domain.FilterRule{blockLowPriority, delayComments, escalateSLA},
				nil, nil, fixedClock)

			got, err := eng.Evaluate(t.Context(), tc.event, "user-1")
			require.NoError(t, err)
			assert.Equal(t, tc.wantKind, got.Kind)
			assert.Equal(t, "user-1", got.RecipientID)
			if tc.check != nil {
				tc.check(t, got)
			}
		})
	}
}

func TestEngine_Evaluate_Deterministic(t *testing.T) {
	t.Parallel()

	rules := []domain.FilterRule{
		{
			ID:   1,
			Name: "拦截工单创建",
			Conditions: []domain.Condition{
				{Field: domain.ConditionFieldCategory, Operator: domain.OperatorEquals, Value: "ticket-create"},
			},
			Action:   domain.RuleActionBlock,
			Priority: 3,
			IsActive: true,
			Scope:    domain.RuleScope{Type: domain.ScopeGlobal},
		},
	}
	eng := newTestEngine(t, rules, nil, nil, fixedClock)
	event := testEvent("evt-1", domain.CategoryTicketCreate, 5)

	first, err := eng.Evaluate(t.Context(), event, "user-1")
	require.NoError(t, err)
	// 同一份输入重复求值，结论必须一致
	for i := 0; i < 5; i++ {
		got, err := eng.Evaluate(t.Context(), event, "user-1")
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}

func TestEngine_Evaluate_PriorityOrder(t *testing.T) {
	t.Parallel()

	cond := []domain.Condition{
		{Field: domain.ConditionFieldCategory, Operator: domain.OperatorEquals, Value: "ticket-update"},
	}
	testCases := []struct {
		name     string
		rules    []domain.FilterRule
		wantKind domain.DispositionKind
	}{
		{
			name: "高优先级规则先检查",
			rules: []domain.FilterRule{
				{ID: 1, Name: "低优放行", Conditions: cond, Action: domain.RuleActionAllow, Priority: 1, IsActive: true, Scope: domain.RuleScope{Type: domain.ScopeGlobal}},
				{ID: 2, Name: "高优拦截", Conditions: cond, Action: domain.RuleActionBlock, Priority: 10, IsActive: true, Scope: domain.RuleScope{Type: domain.ScopeGlobal}},
			},
			wantKind: domain.DispositionBlock,
		},
		{
			name: "同优先级按规则ID升序",
			rules: []domain.FilterRule{
				{ID: 7, Name: "后建的拦截", Conditions: cond, Action: domain.RuleActionBlock, Priority: 5, IsActive: true, Scope: domain.RuleScope{Type: domain.ScopeGlobal}},
				{ID: 3, Name: "先建的放行", Conditions: cond, Action: domain.RuleActionAllow, Priority: 5, IsActive: true, Scope: domain.RuleScope{Type: domain.ScopeGlobal}},
			},
			wantKind: domain.DispositionAllow,
		},
		{
			name: "用户规则和全局规则合并排序",
			rules: []domain.FilterRule{
				{ID: 1, Name: "全局放行", Conditions: cond, Action: domain.RuleActionAllow, Priority: 5, IsActive: true, Scope: domain.RuleScope{Type: domain.ScopeGlobal}},
				{ID: 2, Name: "用户拦截", Conditions: cond, Action: domain.RuleActionBlock, Priority: 9, IsActive: true, Scope: domain.RuleScope{Type: domain.ScopeUser, UserID: "user-1"}},
			},
			wantKind: domain.DispositionBlock,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			eng := newTestEngine(t, tc.rules, nil, nil, fixedClock)
			got, err := eng.Evaluate(t.Context(), testEvent("evt-1", domain.CategoryTicketUpdate, 5), "user-1")
			require.NoError(t, err)
			assert.Equal(t, tc.wantKind, got.Kind)
		})
	}
}

func TestEngine_Evaluate_ModifyComposes(t *testing.T) {
	t.Parallel()

	cond := []domain.Condition{
		{Field: domain.ConditionFieldCategory, Operator: domain.OperatorEquals, Value: "ticket-update"},
	}
	rules := []domain.FilterRule{
		{
			ID: 1, Name: "R1 打标A",
			Conditions:   cond,
			Action:       domain.RuleActionModify,
			ActionParams: domain.ActionParams{SetPayload: map[string]any{"tag": "A", "source": "r1"}},
			Priority:     10, IsActive: true,
			Scope: domain.RuleScope{Type: domain.ScopeGlobal},
		},
		{
			ID: 2, Name: "R2 打标B",
			Conditions:   cond,
			Action:       domain.RuleActionModify,
			ActionParams: domain.ActionParams{SetPayload: map[string]any{"tag": "B"}},
			Priority:     5, IsActive: true,
			Scope: domain.RuleScope{Type: domain.ScopeGlobal},
		},
	}
	eng := newTestEngine(t, rules, nil, nil, fixedClock)
	event := testEvent("evt-1", domain.CategoryTicketUpdate, 5)

	got, err := eng.Evaluate(t.Context(), event, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DispositionModify, got.Kind)
	// 两条 modify 依次叠加，低优先级的 R2 覆盖同名键
	assert.Equal(t, "B", got.Event.Payload["tag"])
	assert.Equal(t, "r1", got.Event.Payload["source"])
	// 原始事件不能被改动
	assert.NotContains(t, event.Payload, "tag")
}

func TestEngine_Evaluate_QuietHours(t *testing.T) {
	t.Parallel()

	quietPref := domain.UserPreferences{
		UserID: "user-1",
		QuietHours: domain.QuietHours{
			Enabled:  true,
			Start:    "22:00",
			End:      "08:00",
			Timezone: "UTC",
		},
	}
	// 23:30，处在免打扰窗口里
	nightClock := func() time.Time {
		return time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)
	}

	t.Run("免打扰时段内延迟到窗口结束", func(t *testing.T) {
		t.Parallel()
		eng := newTestEngine(t, nil,
			map[string]domain.UserPreferences{"user-1": quietPref}, nil, nightClock)

		got, err := eng.Evaluate(t.Context(), testEvent("evt-1", domain.CategoryTicketUpdate, 5), "user-1")
		require.NoError(t, err)
		assert.Equal(t, domain.DispositionDelay, got.Kind)
		assert.Equal(t, time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC), got.Until)
	})

	t.Run("紧急类别不受免打扰约束", func(t *testing.T) {
		t.Parallel()
		eng := newTestEngine(t, nil,
			map[string]domain.UserPreferences{"user-1": quietPref}, nil, nightClock)

		got, err := eng.Evaluate(t.Context(), testEvent("evt-2", domain.CategorySystemAlert, 5), "user-1")
		require.NoError(t, err)
		assert.Equal(t, domain.DispositionAllow, got.Kind)
	})

	t.Run("allow规则命中后越过免打扰检查", func(t *testing.T) {
		t.Parallel()
		bypass := domain.FilterRule{
			ID: 1, Name: "值班告警豁免",
			Conditions: []domain.Condition{
				{Field: domain.ConditionFieldSender, Operator: domain.OperatorEquals, Value: "ticket-system"},
			},
			Action:   domain.RuleActionAllow,
			Priority: 10, IsActive: true,
			Scope: domain.RuleScope{Type: domain.ScopeUser, UserID: "user-1"},
		}
		eng := newTestEngine(t, []domain.FilterRule{bypass},
			map[string]domain.UserPreferences{"user-1": quietPref}, nil, nightClock)

		got, err := eng.Evaluate(t.Context(), testEvent("evt-3", domain.CategoryTicketUpdate, 5), "user-1")
		require.NoError(t, err)
		assert.Equal(t, domain.DispositionAllow, got.Kind)
	})
}

func TestEngine_Evaluate_CategoryAndKeywordPreferences(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		pref     domain.UserPreferences
		event    domain.NotificationEvent
		wantKind domain.DispositionKind
	}{
		{
			name: "用户关闭的类别被拦截",
			pref: domain.UserPreferences{
				UserID:              "user-1",
				CategoryPreferences: map[domain.Category]bool{domain.CategoryComment: false},
			},
			event:    testEvent("evt-1", domain.CategoryComment, 5),
			wantKind: domain.DispositionBlock,
		},
		{
			name: "未配置的类别默认放行",
			pref: domain.UserPreferences{
				UserID:              "user-1",
				CategoryPreferences: map[domain.Category]bool{domain.CategoryComment: false},
			},
			event:    testEvent("evt-2", domain.CategoryTicketUpdate, 5),
			wantKind: domain.DispositionAllow,
		},
		{
			name: "载荷命中拦截关键字",
			pref: domain.UserPreferences{
				UserID:         "user-1",
				KeywordFilters: []string{"状态变更"},
			},
			event:    testEvent("evt-3", domain.CategoryTicketUpdate, 5),
			wantKind: domain.DispositionBlock,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			eng := newTestEngine(t, nil,
				map[string]domain.UserPreferences{"user-1": tc.pref}, nil, fixedClock)
			got, err := eng.Evaluate(t.Context(), tc.event, "user-1")
			require.NoError(t, err)
			assert.Equal(t, tc.wantKind, got.Kind)
		})
	}
}

func TestEngine_Evaluate_FrequencyLimit(t *testing.T) {
	t.Parallel()

	pref := domain.UserPreferences{
		UserID: "user-1",
		FrequencyLimit: domain.FrequencyLimit{
			Enabled:  true,
			MaxCount: 2,
			Window:   time.Hour,
		},
	}
	counter := freqlimit.NewMemoryCounterWithClock(fixedClock)
	eng := newTestEngine(t, nil,
		map[string]domain.UserPreferences{"user-1": pref}, counter, fixedClock)

	// 前两条放行并计数
	for i := 0; i < 2; i++ {
		got, err := eng.Evaluate(t.Context(), testEvent(fmt.Sprintf("evt-%d", i), domain.CategoryTicketUpdate, 5), "user-1")
		require.NoError(t, err)
		assert.Equal(t, domain.DispositionAllow, got.Kind)
	}

	// 第三条超限，延迟到窗口重置
	got, err := eng.Evaluate(t.Context(), testEvent("evt-3", domain.CategoryTicketUpdate, 5), "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DispositionDelay, got.Kind)
	assert.Equal(t, fixedClock().Add(time.Hour), got.Until)
}

func TestEngine_Evaluate_BlockedNotCounted(t *testing.T) {
	t.Parallel()

	rules := []domain.FilterRule{
		{
			ID: 1, Name: "拦截评论",
			Conditions: []domain.Condition{
				{Field: domain.ConditionFieldCategory, Operator: domain.OperatorEquals, Value: "comment"},
			},
			Action:   domain.RuleActionBlock,
			Priority: 10, IsActive: true,
			Scope: domain.RuleScope{Type: domain.ScopeGlobal},
		},
	}
	counter := freqlimit.NewMemoryCounterWithClock(fixedClock)
	eng := newTestEngine(t, rules, nil, counter, fixedClock)

	got, err := eng.Evaluate(t.Context(), testEvent("evt-1", domain.CategoryComment, 5), "user-1")
	require.NoError(t, err)
	require.Equal(t, domain.DispositionBlock, got.Kind)

	// 被拦截的通知不计入接收者配额
	count, err := counter.Count(t.Context(), "user-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	got, err = eng.Evaluate(t.Context(), testEvent("evt-2", domain.CategoryTicketUpdate, 5), "user-1")
	require.NoError(t, err)
	require.Equal(t, domain.DispositionAllow, got.Kind)
	count, err = counter.Count(t.Context(), "user-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEngine_Evaluate_MalformedRuleSkipped(t *testing.T) {
	t.Parallel()

	rules := []domain.FilterRule{
		{
			ID: 1, Name: "坏规则",
			Conditions: []domain.Condition{
				{Field: domain.ConditionFieldPriority, Operator: domain.OperatorGte, Value: "不是数字"},
			},
			Action:   domain.RuleActionBlock,
			Priority: 10, IsActive: true,
			Scope: domain.RuleScope{Type: domain.ScopeGlobal},
		},
		{
			ID: 2, Name: "正常拦截",
			Conditions: []domain.Condition{
				{Field: domain.ConditionFieldCategory, Operator: domain.OperatorEquals, Value: "ticket-update"},
			},
			Action:   domain.RuleActionBlock,
			Priority: 5, IsActive: true,
			Scope: domain.RuleScope{Type: domain.ScopeGlobal},
		},
	}
	eng := newTestEngine(t, rules, nil, nil, fixedClock)

	// 坏规则跳过，后面的规则照常生效
	got, err := eng.Evaluate(t.Context(), testEvent("evt-1", domain.CategoryTicketUpdate, 5), "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DispositionBlock, got.Kind)
}
