package domain

import (
	"fmt"
	"time"

	"gitee.com/flycash/notification-engine/internal/errs"
)

// BatchStatus 批次状态
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "PENDING"   // 等待凑满或者到期
	BatchStatusReady     BatchStatus = "READY"     // 已触发，等待投递
	BatchStatusProcessed BatchStatus = "PROCESSED" // 投递成功
	BatchStatusFailed    BatchStatus = "FAILED"    // 重试耗尽，留待人工处理
)

func (s BatchStatus) String() string {
	return string(s)
}

// GroupBy 分组策略
type GroupBy string

const (
	GroupByUser     GroupBy = "user"     // 按接收者分组
	GroupByTicket   GroupBy = "ticket"   // 按工单分组
	GroupByType     GroupBy = "type"     // 按通知类别分组
	GroupByPriority GroupBy = "priority" // 按优先级分组
	GroupByCustom   GroupBy = "custom"   // 使用注册的自定义分组函数
)

// BatchConfiguration 批处理配置，一个 batchKey 只有一条生效配置
type BatchConfiguration struct {
	BatchKey      string        // 通知族标识
	MaxBatchSize  int           // 批次大小阈值，>=1
	MaxWaitTime   time.Duration // 最长等待时间
	GroupBy       GroupBy       // 分组策略
	CustomGrouper string        // GroupBy 为 custom 时引用的分组函数名
	IsActive      bool          // 是否启用
}

func (c *BatchConfiguration) Validate() error {
	if c.BatchKey == "" {
		return fmt.Errorf("%w: BatchKey = %q", errs.ErrInvalidParameter, c.BatchKey)
	}

	if c.MaxBatchSize < 1 {
		return fmt.Errorf("%w: MaxBatchSize = %d", errs.ErrInvalidParameter, c.MaxBatchSize)
	}

	if c.MaxWaitTime < 0 {
		return fmt.Errorf("%w: MaxWaitTime = %v", errs.ErrInvalidParameter, c.MaxWaitTime)
	}

	switch c.GroupBy {
	case GroupByUser, GroupByTicket, GroupByType, GroupByPriority:
	case GroupByCustom:
		if c.CustomGrouper == "" {
			return fmt.Errorf("%w: custom 分组缺少分组函数名", errs.ErrInvalidParameter)
		}
	default:
		return fmt.Errorf("%w: GroupBy = %q", errs.ErrInvalidParameter, c.GroupBy)
	}

	return nil
}

// FallbackBatchConfiguration 找不到生效配置时的兜底：立即投递
func FallbackBatchConfiguration(batchKey string) BatchConfiguration {
	return BatchConfiguration{
		BatchKey:     batchKey,
		MaxBatchSize: 1,
		MaxWaitTime:  0,
		GroupBy:      GroupByUser,
		IsActive:     true,
	}
}

// DefaultBatchConfigurations 六个内置通知族的建议配置，租户可覆盖
func DefaultBatchConfigurations() []BatchConfiguration {
	return []BatchConfiguration{
		{BatchKey: "digest_email", MaxBatchSize: 50, MaxWaitTime: 15 * time.Minute, GroupBy: GroupByUser, IsActive: true},
		{BatchKey: "ticket_updates", MaxBatchSize: 10, MaxWaitTime: 5 * time.Minute, GroupBy: GroupByTicket, IsActive: true},
		{BatchKey: "sla_warnings", MaxBatchSize: 20, MaxWaitTime: 2 * time.Minute, GroupBy: GroupByPriority, IsActive: true},
		{BatchKey: "system_alerts", MaxBatchSize: 5, MaxWaitTime: time.Minute, GroupBy: GroupByType, IsActive: true},
		{BatchKey: "comment_notifications", MaxBatchSize: 15, MaxWaitTime: 3 * time.Minute, GroupBy: GroupByTicket, IsActive: true},
		{BatchKey: "status_updates", MaxBatchSize: 25, MaxWaitTime: 10 * time.Minute, GroupBy: GroupByUser, IsActive: true},
	}
}

// NotificationBatch 待投递的聚合批次
// 在 PROCESSED/FAILED 之前由批处理引擎独占持有，持久层只负责镜像
type NotificationBatch struct {
	ID          uint64              // 批次ID，引擎生成
	BatchKey    string              // 通知族
	GroupingKey string              // 分组键
	Members     []NotificationEvent // 成员事件，保持提交顺序
	TargetUsers []string            // 成员接收者并集
	CreatedAt   time.Time           // 创建时间
	ScheduledAt time.Time           // 硬性投递截止时刻
	Status      BatchStatus         // 当前状态
	Version     int                 // 版本号，用于CAS操作
}

// Append 追加成员并维护接收者并集，返回新副本
func (b NotificationBatch) Append(event NotificationEvent) NotificationBatch {
	members := make([]NotificationEvent, 0, len(b.Members)+1)
	members = append(members, b.Members...)
	members = append(members, event)
	b.Members = members

	seen := make(map[string]struct{}, len(b.TargetUsers))
	users := make([]string, 0, len(b.TargetUsers)+len(event.TargetUserIDs))
	for _, u := range b.TargetUsers {
		seen[u] = struct{}{}
		users = append(users, u)
	}
	for _, u := range event.TargetUserIDs {
		if _, ok := seen[u]; !ok {
			seen[u] = struct{}{}
			users = append(users, u)
		}
	}
	b.TargetUsers = users
	return b
}

// Full 是否达到大小阈值
func (b NotificationBatch) Full(maxBatchSize int) bool {
	return len(b.Members) >= maxBatchSize
}

// Due 是否到达时间阈值
func (b NotificationBatch) Due(now time.Time) bool {
	return !b.ScheduledAt.After(now)
}
