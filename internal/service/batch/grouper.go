package batch

import (
	"fmt"
	"strconv"
	"sync"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/errs"
)

// GrouperFunc 自定义分组函数，返回分组键
type GrouperFunc func(event domain.NotificationEvent, recipientID string) string

// GrouperRegistry 自定义分组函数注册表
type GrouperRegistry struct {
	mu       sync.RWMutex
	groupers map[string]GrouperFunc
}

func NewGrouperRegistry() *GrouperRegistry {
	return &GrouperRegistry{
		groupers: make(map[string]GrouperFunc),
	}
}

// Register 注册分组函数，重名覆盖
func (r *GrouperRegistry) Register(name string, fn GrouperFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groupers[name] = fn
}

func (r *GrouperRegistry) get(name string) (GrouperFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.groupers[name]
	return fn, ok
}

// GroupingKey 按配置的分组策略推导分组键
// 自定义分组函数未注册时返回 errs.ErrGrouperNotFound，由调用方降级
func (r *GrouperRegistry) GroupingKey(
	cfg domain.BatchConfiguration,
	event domain.NotificationEvent,
	recipientID string,
) (string, error) {
	switch cfg.GroupBy {
	case domain.GroupByUser:
		return recipientID, nil
	case domain.GroupByTicket:
		return ticketKey(event, recipientID), nil
	case domain.GroupByType:
		return string(event.Category), nil
	case domain.GroupByPriority:
		return strconv.Itoa(event.Priority), nil
	case domain.GroupByCustom:
		fn, ok := r.get(cfg.CustomGrouper)
		if !ok {
			return "", fmt.Errorf("%w: %q", errs.ErrGrouperNotFound, cfg.CustomGrouper)
		}
		return fn(event, recipientID), nil
	default:
		return "", fmt.Errorf("%w: 未知分组策略 %q", errs.ErrInvalidParameter, cfg.GroupBy)
	}
}

// ticketKey 工单分组读载荷里的 ticketId，读不到退回按接收者分组
func ticketKey(event domain.NotificationEvent, recipientID string) string {
	if v, ok := event.Payload["ticketId"]; ok {
		switch id := v.(type) {
		case string:
			if id != "" {
				return id
			}
		case float64:
			// JSON 反序列化出来的数字是 float64
			return strconv.FormatInt(int64(id), 10)
		case int64:
			return strconv.FormatInt(id, 10)
		case int:
			return strconv.Itoa(id)
		}
	}
	return recipientID
}
