package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"gitee.com/flycash/notification-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIdempotencyService 内存幂等服务
type fakeIdempotencyService struct {
	seen map[string]struct{}
	err  error
}

func newFakeIdempotencyService() *fakeIdempotencyService {
	return &fakeIdempotencyService{seen: make(map[string]struct{})}
}

func (f *fakeIdempotencyService) Exists(_ context.Context, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.seen[key]
	return ok, nil
}

func (f *fakeIdempotencyService) Mark(_ context.Context, key string) error {
	if f.err != nil {
		return f.err
	}
	f.seen[key] = struct{}{}
	return nil
}

func (f *fakeIdempotencyService) MExists(ctx context.Context, keys ...string) ([]bool, error) {
	out := make([]bool, 0, len(keys))
	for _, key := range keys {
		seen, err := f.Exists(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, seen)
	}
	return out, nil
}

func testBatch(id uint64) domain.NotificationBatch {
	return domain.NotificationBatch{
		ID:          id,
		BatchKey:    "ticket_updates",
		GroupingKey: "user-1",
		Members:     []domain.NotificationEvent{{ID: "evt-1"}},
		TargetUsers: []string{"user-1"},
		CreatedAt:   time.Now(),
		ScheduledAt: time.Now(),
		Status:      domain.BatchStatusReady,
	}
}

func TestDedupeDispatcher_Dispatch(t *testing.T) {
	t.Parallel()

	t.Run("重复投递被挡掉", func(t *testing.T) {
		t.Parallel()
		inner := NewMockDispatcher()
		d := NewDedupeDispatcher(inner, newFakeIdempotencyService())

		require.NoError(t, d.Dispatch(t.Context(), testBatch(1)))
		require.NoError(t, d.Dispatch(t.Context(), testBatch(1)))
		assert.Len(t, inner.Dispatched(), 1)
	})

	t.Run("不同批次互不影响", func(t *testing.T) {
		t.Parallel()
		inner := NewMockDispatcher()
		d := NewDedupeDispatcher(inner, newFakeIdempotencyService())

		require.NoError(t, d.Dispatch(t.Context(), testBatch(1)))
		require.NoError(t, d.Dispatch(t.Context(), testBatch(2)))
		assert.Len(t, inner.Dispatched(), 2)
	})

	t.Run("投递失败不记幂等键，重试照常下发", func(t *testing.T) {
		t.Parallel()
		inner := NewMockDispatcher()
		inner.Err = errors.New("下游投递系统不可用")
		d := NewDedupeDispatcher(inner, newFakeIdempotencyService())

		// 前两次失败必须原样上抛，不能因为查重被吞成功
		require.Error(t, d.Dispatch(t.Context(), testBatch(1)))
		require.Error(t, d.Dispatch(t.Context(), testBatch(1)))

		inner.Err = nil
		require.NoError(t, d.Dispatch(t.Context(), testBatch(1)))
		assert.Len(t, inner.Dispatched(), 1)

		// 成功之后才算投过，再来才是重复
		require.NoError(t, d.Dispatch(t.Context(), testBatch(1)))
		assert.Len(t, inner.Dispatched(), 1)
	})

	t.Run("幂等服务故障时照常投递", func(t *testing.T) {
		t.Parallel()
		inner := NewMockDispatcher()
		svc := newFakeIdempotencyService()
		svc.err = errors.New("redis 不可用")
		d := NewDedupeDispatcher(inner, svc)

		require.NoError(t, d.Dispatch(t.Context(), testBatch(1)))
		require.NoError(t, d.Dispatch(t.Context(), testBatch(1)))
		// 宁可重投也不丢投递
		assert.Len(t, inner.Dispatched(), 2)
	})
}
