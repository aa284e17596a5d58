package dispatcher

import (
	"context"
	"sync"

	"gitee.com/flycash/notification-engine/internal/domain"
)

// Dispatcher 投递方接口，由社交推送/邮件/移动推送等外部子系统实现
// 批处理引擎至少一次重投，实现方必须按批次ID幂等
type Dispatcher interface {
	// Dispatch 投递一个批次快照，返回 nil 代表投递方已接手
	Dispatch(ctx context.Context, batch domain.NotificationBatch) error
}

// MockDispatcher 记录收到的批次，测试和本地联调用
type MockDispatcher struct {
	mu      sync.Mutex
	batches []domain.NotificationBatch
	// Err 非空时每次投递都返回它，用来模拟投递故障
	Err error
}

func NewMockDispatcher() *MockDispatcher {
	return &MockDispatcher{}
}

func (m *MockDispatcher) Dispatch(_ context.Context, batch domain.NotificationBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.batches = append(m.batches, batch)
	return nil
}

// Dispatched 返回已投递批次的副本
func (m *MockDispatcher) Dispatched() []domain.NotificationBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.NotificationBatch, len(m.batches))
	copy(out, m.batches)
	return out
}
