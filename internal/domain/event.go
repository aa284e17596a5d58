package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"gitee.com/flycash/notification-engine/internal/errs"
)

// Category 通知类别
type Category string

const (
	CategoryTicketUpdate Category = "ticket-update" // 工单更新
	CategoryTicketCreate Category = "ticket-create" // 工单创建
	CategorySLAWarning   Category = "sla-warning"   // SLA 预警
	CategoryComment      Category = "comment"       // 工单评论
	CategorySystemAlert  Category = "system-alert"  // 系统告警
	CategoryStatusUpdate Category = "status-update" // 状态变更
)

// Critical 紧急类别不受免打扰时段约束
func (c Category) Critical() bool {
	return c == CategorySystemAlert || c == CategorySLAWarning
}

// NotificationEvent 通知事件领域模型
// 进入引擎后不可变，过滤和批处理产生的变更都体现在派生副本上
type NotificationEvent struct {
	ID            string         // 事件唯一标识，由调用方生成
	Category      Category       // 通知类别
	TargetUserIDs []string       // 接收者ID集合
	Sender        string         // 触发方标识（用户ID或者子系统名字）
	Payload       map[string]any // 业务载荷
	Priority      int            // 优先级，可被过滤规则修改
	CreatedAt     time.Time      // 创建时间
}

func (e *NotificationEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: ID = %q", errs.ErrInvalidParameter, e.ID)
	}

	if e.Category == "" {
		return fmt.Errorf("%w: Category = %q", errs.ErrInvalidParameter, e.Category)
	}

	if len(e.TargetUserIDs) == 0 {
		return fmt.Errorf("%w: TargetUserIDs = %v", errs.ErrInvalidParameter, e.TargetUserIDs)
	}

	if e.CreatedAt.IsZero() {
		return fmt.Errorf("%w: CreatedAt 未设置", errs.ErrInvalidParameter)
	}

	return nil
}

// Clone 返回深拷贝，modify 类规则在副本上生效，原始事件保持不变
func (e NotificationEvent) Clone() NotificationEvent {
	cloned := e
	cloned.TargetUserIDs = make([]string, len(e.TargetUserIDs))
	copy(cloned.TargetUserIDs, e.TargetUserIDs)
	cloned.Payload = make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		cloned.Payload[k] = v
	}
	return cloned
}

func (e *NotificationEvent) MarshalPayload() (string, error) {
	jsonBytes, err := json.Marshal(e.Payload)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

func (e *NotificationEvent) MarshalTargetUserIDs() (string, error) {
	jsonBytes, err := json.Marshal(e.TargetUserIDs)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}
