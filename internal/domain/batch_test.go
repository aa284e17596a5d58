package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationBatch_Append(t *testing.T) {
	t.Parallel()

	batch := NotificationBatch{
		ID:          1,
		BatchKey:    "ticket_updates",
		GroupingKey: "T-1",
	}
	ev1 := NotificationEvent{ID: "evt-1", TargetUserIDs: []string{"user-1"}}
	ev2 := NotificationEvent{ID: "evt-2", TargetUserIDs: []string{"user-2", "user-1"}}

	batch = batch.Append(ev1)
	batch = batch.Append(ev2)

	// 成员保持提交顺序
	require.Len(t, batch.Members, 2)
	assert.Equal(t, "evt-1", batch.Members[0].ID)
	assert.Equal(t, "evt-2", batch.Members[1].ID)
	// 接收者并集去重且保序
	assert.Equal(t, []string{"user-1", "user-2"}, batch.TargetUsers)
}

func TestNotificationBatch_FullAndDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	batch := NotificationBatch{
		Members:     []NotificationEvent{{ID: "evt-1"}, {ID: "evt-2"}},
		ScheduledAt: now,
	}

	assert.True(t, batch.Full(2))
	assert.False(t, batch.Full(3))
	assert.True(t, batch.Due(now))
	assert.True(t, batch.Due(now.Add(time.Second)))
	assert.False(t, batch.Due(now.Add(-time.Second)))
}

func TestBatchConfiguration_Validate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		cfg     BatchConfiguration
		wantErr bool
	}{
		{
			name: "合法配置",
			cfg: BatchConfiguration{
				BatchKey: "ticket_updates", MaxBatchSize: 10,
				MaxWaitTime: 5 * time.Minute, GroupBy: GroupByTicket,
			},
		},
		{
			name:    "缺批次键",
			cfg:     BatchConfiguration{MaxBatchSize: 10, GroupBy: GroupByUser},
			wantErr: true,
		},
		{
			name:    "批次大小小于1",
			cfg:     BatchConfiguration{BatchKey: "k", MaxBatchSize: 0, GroupBy: GroupByUser},
			wantErr: true,
		},
		{
			name: "custom分组缺函数名",
			cfg: BatchConfiguration{
				BatchKey: "k", MaxBatchSize: 1, GroupBy: GroupByCustom,
			},
			wantErr: true,
		},
		{
			name: "custom分组带函数名",
			cfg: BatchConfiguration{
				BatchKey: "k", MaxBatchSize: 1,
				GroupBy: GroupByCustom, CustomGrouper: "by-region",
			},
		},
		{
			name:    "未知分组策略",
			cfg:     BatchConfiguration{BatchKey: "k", MaxBatchSize: 1, GroupBy: "hash"},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNotificationEvent_Clone(t *testing.T) {
	t.Parallel()

	original := NotificationEvent{
		ID:            "evt-1",
		Category:      CategoryTicketUpdate,
		TargetUserIDs: []string{"user-1"},
		Payload:       map[string]any{"title": "原始标题"},
		Priority:      5,
		CreatedAt:     time.Now(),
	}

	clone := original.Clone()
	clone.Payload["title"] = "改过的标题"
	clone.TargetUserIDs[0] = "user-2"
	clone.Priority = 9

	assert.Equal(t, "原始标题", original.Payload["title"])
	assert.Equal(t, "user-1", original.TargetUserIDs[0])
	assert.Equal(t, 5, original.Priority)
}
