package batch

import (
	"testing"
	"time"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrouperRegistry_GroupingKey(t *testing.T) {
	t.Parallel()

	registry := NewGrouperRegistry()
	registry.Register("by-sender", func(event domain.NotificationEvent, _ string) string {
		return event.Sender
	})

	event := domain.NotificationEvent{
		ID:            "evt-1",
		Category:      domain.CategoryTicketUpdate,
		TargetUserIDs: []string{"user-1"},
		Sender:        "sla-monitor",
		Payload:       map[string]any{"ticketId": "T-42"},
		Priority:      7,
		CreatedAt:     time.Now(),
	}

	testCases := []struct {
		name    string
		cfg     domain.BatchConfiguration
		event   domain.NotificationEvent
		want    string
		wantErr error
	}{
		{
			name: "按接收者分组",
			cfg:  domain.BatchConfiguration{GroupBy: domain.GroupByUser},
			want: "user-1",
		},
		{
			name: "按工单分组",
			cfg:  domain.BatchConfiguration{GroupBy: domain.GroupByTicket},
			want: "T-42",
		},
		{
			name: "载荷里没有工单号退回按接收者",
			cfg:  domain.BatchConfiguration{GroupBy: domain.GroupByTicket},
			event: domain.NotificationEvent{
				ID: "evt-2", Category: domain.CategoryComment,
				TargetUserIDs: []string{"user-1"}, CreatedAt: time.Now(),
			},
			want: "user-1",
		},
		{
			name: "JSON数字形式的工单号",
			cfg:  domain.BatchConfiguration{GroupBy: domain.GroupByTicket},
			event: domain.NotificationEvent{
				ID: "evt-3", Category: domain.CategoryTicketUpdate,
				TargetUserIDs: []string{"user-1"},
				Payload:       map[string]any{"ticketId": float64(42)},
				CreatedAt:     time.Now(),
			},
			want: "42",
		},
		{
			name: "按类别分组",
			cfg:  domain.BatchConfiguration{GroupBy: domain.GroupByType},
			want: "ticket-update",
		},
		{
			name: "按优先级分组",
			cfg:  domain.BatchConfiguration{GroupBy: domain.GroupByPriority},
			want: "7",
		},
		{
			name: "自定义分组函数",
			cfg:  domain.BatchConfiguration{GroupBy: domain.GroupByCustom, CustomGrouper: "by-sender"},
			want: "sla-monitor",
		},
		{
			name:    "自定义分组函数未注册",
			cfg:     domain.BatchConfiguration{GroupBy: domain.GroupByCustom, CustomGrouper: "不存在"},
			wantErr: errs.ErrGrouperNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ev := tc.event
			if ev.ID == "" {
				ev = event
			}
			got, err := registry.GroupingKey(tc.cfg, ev, "user-1")
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestKeyResolver_Resolve(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		overrides map[domain.Category]string
		category  domain.Category
		want      string
	}{
		{
			name:     "内置映射",
			category: domain.CategorySLAWarning,
			want:     "sla_warnings",
		},
		{
			name:     "工单创建和工单更新共用一个通知族",
			category: domain.CategoryTicketCreate,
			want:     "ticket_updates",
		},
		{
			name:      "覆盖内置映射",
			overrides: map[domain.Category]string{domain.CategoryComment: "digest_email"},
			category:  domain.CategoryComment,
			want:      "digest_email",
		},
		{
			name:     "未知类别用类别名当通知族",
			category: domain.Category("marketing"),
			want:     "marketing",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := NewKeyResolver(tc.overrides)
			assert.Equal(t, tc.want, r.Resolve(tc.category))
		})
	}
}
