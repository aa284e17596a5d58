package freqlimit

import (
	"context"
	"sync"
	"time"
)

var _ Counter = (*MemoryCounter)(nil)

// MemoryCounter 进程内滑动窗口计数器，单副本部署和测试用
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// NewMemoryCounterWithClock 测试用，注入时钟
func NewMemoryCounterWithClock(now func() time.Time) *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[string][]time.Time),
		now:     now,
	}
}

func (m *MemoryCounter) Count(_ context.Context, key string, window time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prune(key, window)), nil
}

func (m *MemoryCounter) Record(_ context.Context, key string, window time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append(m.prune(key, window), m.now())
	return nil
}

func (m *MemoryCounter) WindowReset(_ context.Context, key string, window time.Duration) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.prune(key, window)
	if len(kept) == 0 {
		return m.now(), nil
	}
	return kept[0].Add(window), nil
}

// prune 丢掉已滑出窗口的记录，调用方必须持有锁
func (m *MemoryCounter) prune(key string, window time.Duration) []time.Time {
	cutoff := m.now().Add(-window)
	all := m.entries[key]
	idx := 0
	for idx < len(all) && !all[idx].After(cutoff) {
		idx++
	}
	kept := all[idx:]
	if len(kept) == 0 {
		delete(m.entries, key)
		return nil
	}
	m.entries[key] = kept
	return kept
}
