package batch

import (
	"gitee.com/flycash/notification-engine/internal/domain"
)

// KeyResolver 事件类别到通知族的映射
// 调用方可以整体覆盖，也可以只覆盖个别类别
type KeyResolver struct {
	mapping map[domain.Category]string
}

// NewKeyResolver 创建映射，overrides 覆盖内置映射
func NewKeyResolver(overrides map[domain.Category]string) *KeyResolver {
	mapping := map[domain.Category]string{
		domain.CategoryTicketUpdate: "ticket_updates",
		domain.CategoryTicketCreate: "ticket_updates",
		domain.CategorySLAWarning:   "sla_warnings",
		domain.CategoryComment:      "comment_notifications",
		domain.CategorySystemAlert:  "system_alerts",
		domain.CategoryStatusUpdate: "status_updates",
	}
	for category, key := range overrides {
		mapping[category] = key
	}
	return &KeyResolver{mapping: mapping}
}

// Resolve 未知类别直接用类别名当通知族，自动落到兜底配置
func (r *KeyResolver) Resolve(category domain.Category) string {
	if key, ok := r.mapping[category]; ok {
		return key
	}
	return string(category)
}
