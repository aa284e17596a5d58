package domain

import "time"

// DispositionKind 过滤结论类型
type DispositionKind string

const (
	DispositionAllow          DispositionKind = "allow"
	DispositionBlock          DispositionKind = "block"
	DispositionDelay          DispositionKind = "delay"
	DispositionModify         DispositionKind = "modify"
	DispositionPriorityChange DispositionKind = "priority_change"
)

// Disposition 单个事件针对单个接收者的过滤结论
type Disposition struct {
	Kind DispositionKind
	// 结论承载的事件。对 Modify/PriorityChange 是变换后的派生副本，
	// Block 结论不携带事件
	Event NotificationEvent
	// 结论针对的接收者
	RecipientID string
	// Block 结论：拦截原因
	Reason string
	// Delay 结论：延迟到什么时候
	Until time.Time
	// PriorityChange 结论：新的优先级
	NewPriority int
}

// Deliverable 该结论是否会走向投递（直接或者延迟后）
func (d Disposition) Deliverable() bool {
	return d.Kind != DispositionBlock
}

func NewAllowDisposition(event NotificationEvent, recipientID string) Disposition {
	return Disposition{Kind: DispositionAllow, Event: event, RecipientID: recipientID}
}

func NewBlockDisposition(recipientID, reason string) Disposition {
	return Disposition{Kind: DispositionBlock, RecipientID: recipientID, Reason: reason}
}

func NewDelayDisposition(event NotificationEvent, recipientID string, until time.Time) Disposition {
	return Disposition{Kind: DispositionDelay, Event: event, RecipientID: recipientID, Until: until}
}

func NewModifyDisposition(event NotificationEvent, recipientID string) Disposition {
	return Disposition{Kind: DispositionModify, Event: event, RecipientID: recipientID}
}

func NewPriorityChangeDisposition(event NotificationEvent, recipientID string, newPriority int) Disposition {
	event.Priority = newPriority
	return Disposition{
		Kind:        DispositionPriorityChange,
		Event:       event,
		RecipientID: recipientID,
		NewPriority: newPriority,
	}
}
