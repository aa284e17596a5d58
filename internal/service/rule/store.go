package rule

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/errs"
	"gitee.com/flycash/notification-engine/internal/repository"
	"github.com/gotomicro/ego/core/elog"
)

// Snapshot 规则和偏好的不可变快照
// 过滤引擎拿到快照之后整个求值过程内部看到的都是同一份数据
type Snapshot struct {
	global []domain.FilterRule
	byUser map[string][]domain.FilterRule
	prefs  map[string]domain.UserPreferences
}

// CandidatesFor 返回对该接收者生效的候选规则
// 已按优先级降序、规则ID升序排好，求值方直接顺序遍历即可
func (s *Snapshot) CandidatesFor(recipientID string) []domain.FilterRule {
	userRules := s.byUser[recipientID]
	if len(userRules) == 0 {
		return s.global
	}

	merged := make([]domain.FilterRule, 0, len(s.global)+len(userRules))
	merged = append(merged, s.global...)
	merged = append(merged, userRules...)
	sortRules(merged)
	return merged
}

// PreferencesFor 返回接收者偏好，没有记录时返回零值默认偏好
func (s *Snapshot) PreferencesFor(recipientID string) domain.UserPreferences {
	if pref, ok := s.prefs[recipientID]; ok {
		return pref
	}
	return domain.UserPreferences{UserID: recipientID}
}

func sortRules(rules []domain.FilterRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// Store 规则存储，持有当前快照
// 刷新时整体换指针，并发读永远不会看到半更新状态
type Store struct {
	ruleRepo repository.FilterRuleRepository
	prefRepo repository.UserPreferenceRepository
	snapshot atomic.Pointer[Snapshot]
	logger   *elog.Component
}

// NewStore 创建规则存储，返回前必须调用一次 Refresh
func NewStore(
	ruleRepo repository.FilterRuleRepository,
	prefRepo repository.UserPreferenceRepository,
) *Store {
	s := &Store{
		ruleRepo: ruleRepo,
		prefRepo: prefRepo,
		logger:   elog.DefaultLogger,
	}
	// 空快照兜底，Refresh 失败时求值方看到的是"没有规则"而不是 nil
	s.snapshot.Store(&Snapshot{
		byUser: make(map[string][]domain.FilterRule),
		prefs:  make(map[string]domain.UserPreferences),
	})
	return s
}

// Current 返回当前快照
func (s *Store) Current() *Snapshot {
	return s.snapshot.Load()
}

// Refresh 重新加载规则并原子切换快照
func (s *Store) Refresh(ctx context.Context) error {
	rules, err := s.ruleRepo.FindAllActive(ctx)
	if err != nil {
		return err
	}

	snap := &Snapshot{
		byUser: make(map[string][]domain.FilterRule),
		prefs:  make(map[string]domain.UserPreferences),
	}
	userIDs := make(map[string]struct{})
	for _, r := range rules {
		switch r.Scope.Type {
		case domain.ScopeGlobal:
			snap.global = append(snap.global, r)
		case domain.ScopeUser:
			snap.byUser[r.Scope.UserID] = append(snap.byUser[r.Scope.UserID], r)
			userIDs[r.Scope.UserID] = struct{}{}
		}
	}
	sortRules(snap.global)
	for uid := range snap.byUser {
		sortRules(snap.byUser[uid])
	}

	s.loadPreferences(ctx, snap)
	s.snapshot.Store(snap)
	return nil
}

// RefreshPreference 单个用户偏好变更后的定向刷新
func (s *Store) RefreshPreference(ctx context.Context, userID string) error {
	pref, err := s.prefRepo.GetByUserID(ctx, userID)
	old := s.snapshot.Load()
	snap := &Snapshot{
		global: old.global,
		byUser: old.byUser,
		prefs:  make(map[string]domain.UserPreferences, len(old.prefs)+1),
	}
	for k, v := range old.prefs {
		snap.prefs[k] = v
	}
	switch {
	case err == nil:
		snap.prefs[userID] = pref
	case errors.Is(err, errs.ErrPreferenceNotFound):
		delete(snap.prefs, userID)
	default:
		return err
	}
	s.snapshot.Store(snap)
	return nil
}

// SetPreference 直接写入快照中的偏好，测试和单机部署用
func (s *Store) SetPreference(pref domain.UserPreferences) {
	old := s.snapshot.Load()
	snap := &Snapshot{
		global: old.global,
		byUser: old.byUser,
		prefs:  make(map[string]domain.UserPreferences, len(old.prefs)+1),
	}
	for k, v := range old.prefs {
		snap.prefs[k] = v
	}
	snap.prefs[pref.UserID] = pref
	s.snapshot.Store(snap)
}

func (s *Store) loadPreferences(ctx context.Context, snap *Snapshot) {
	// 偏好跟着规则引用到的用户走，其余用户的偏好在求值时按需读取并刷进快照
	for uid := range snap.byUser {
		pref, err := s.prefRepo.GetByUserID(ctx, uid)
		if err != nil {
			if !errors.Is(err, errs.ErrPreferenceNotFound) {
				s.logger.Warn("加载用户偏好失败", elog.String("userID", uid), elog.FieldErr(err))
			}
			continue
		}
		snap.prefs[uid] = pref
	}
}

// LoadPreference 按需读取偏好：快照没有就回源数据库
// 查不到记录视为默认偏好，不算错误
func (s *Store) LoadPreference(ctx context.Context, userID string) domain.UserPreferences {
	snap := s.snapshot.Load()
	if pref, ok := snap.prefs[userID]; ok {
		return pref
	}
	pref, err := s.prefRepo.GetByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, errs.ErrPreferenceNotFound) {
			s.logger.Warn("读取用户偏好失败，按默认偏好处理",
				elog.String("userID", userID), elog.FieldErr(err))
		}
		return domain.UserPreferences{UserID: userID}
	}
	return pref
}
