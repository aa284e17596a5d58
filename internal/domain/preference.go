package domain

import (
	"fmt"
	"strings"
	"time"

	"gitee.com/flycash/notification-engine/internal/errs"
)

// QuietHours 免打扰时段，跨午夜窗口（如 22:00-08:00）也支持
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`    // "22:00"
	End      string `json:"end"`      // "08:00"
	Timezone string `json:"timezone"` // IANA 时区名
}

// Contains 判断 now 是否落在免打扰时段内，并返回时段结束时刻
func (q QuietHours) Contains(now time.Time) (bool, time.Time, error) {
	if !q.Enabled {
		return false, time.Time{}, nil
	}

	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%w: 时区 %q", errs.ErrInvalidParameter, q.Timezone)
	}
	local := now.In(loc)

	start, err := parseClock(q.Start, local, loc)
	if err != nil {
		return false, time.Time{}, err
	}
	end, err := parseClock(q.End, local, loc)
	if err != nil {
		return false, time.Time{}, err
	}

	// 跨午夜：22:00-08:00 表示 [22:00, 次日08:00)
	if !end.After(start) {
		if local.Before(end) {
			// 凌晨段，窗口起点在昨天
			return true, end, nil
		}
		end = end.Add(24 * time.Hour)
	}

	if !local.Before(start) && local.Before(end) {
		return true, end, nil
	}
	return false, time.Time{}, nil
}

func parseClock(clock string, base time.Time, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("15:04", clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: 时间格式 %q", errs.ErrInvalidParameter, clock)
	}
	return time.Date(base.Year(), base.Month(), base.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

// FrequencyLimit 滚动窗口内的通知上限
type FrequencyLimit struct {
	Enabled  bool          `json:"enabled"`
	MaxCount int           `json:"maxCount"`
	Window   time.Duration `json:"window"`
}

// UserPreferences 用户个性化配置，引擎只读
// 不存在记录时全部按默认值处理（不限制）
type UserPreferences struct {
	UserID              string            // 用户ID
	QuietHours          QuietHours        // 免打扰时段
	WorkingHours        QuietHours        // 工作时间窗口，结构与免打扰一致
	ChannelPreferences  map[string]bool   // 渠道开关
	CategoryPreferences map[Category]bool // 类别开关
	FrequencyLimit      FrequencyLimit    // 频率限制
	KeywordFilters      []string          // 拦截关键字
}

// CategoryEnabled 类别未配置时视为开启
func (p UserPreferences) CategoryEnabled(category Category) bool {
	if p.CategoryPreferences == nil {
		return true
	}
	enabled, ok := p.CategoryPreferences[category]
	if !ok {
		return true
	}
	return enabled
}

// MatchKeyword 载荷文本是否命中拦截关键字，返回命中的词
func (p UserPreferences) MatchKeyword(text string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, kw := range p.KeywordFilters {
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}
