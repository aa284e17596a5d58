package batch

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"gitee.com/flycash/notification-engine/internal/domain"
	"github.com/gotomicro/ego/core/elog"
)

// Submitter 延迟队列到期后的投递目标
type Submitter interface {
	Submit(ctx context.Context, event domain.NotificationEvent, recipientID string) (domain.NotificationBatch, error)
}

type delayItem struct {
	event       domain.NotificationEvent
	recipientID string
	until       time.Time
}

// delayHeap 按到期时刻排序的小顶堆
type delayHeap []delayItem

func (h delayHeap) Len() int           { return len(h) }
func (h delayHeap) Less(i, j int) bool { return h[i].until.Before(h[j].until) }
func (h delayHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x any)        { *h = append(*h, x.(delayItem)) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// DelayQueue 延迟投递队列
// 静默时段和频率限制产生的延迟事件在这里等待，到期直接并入批次，不再重新过滤
// 纯内存实现，进程重启丢失在等事件，接受这个取舍
type DelayQueue struct {
	mu        sync.Mutex
	items     delayHeap
	wake      chan struct{}
	submitter Submitter
	now       func() time.Time
	logger    *elog.Component
}

func NewDelayQueue(submitter Submitter) *DelayQueue {
	return &DelayQueue{
		items:     delayHeap{},
		wake:      make(chan struct{}, 1),
		submitter: submitter,
		now:       time.Now,
		logger:    elog.DefaultLogger,
	}
}

// Add 放入延迟事件，until 已过期的下一轮立刻投递
func (q *DelayQueue) Add(event domain.NotificationEvent, recipientID string, until time.Time) {
	q.mu.Lock()
	heap.Push(&q.items, delayItem{event: event, recipientID: recipientID, until: until})
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len 在等事件数
func (q *DelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Start 阻塞运行，ctx 取消后返回
func (q *DelayQueue) Start(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		wait, ok := q.nextWait()
		if !ok {
			// 队列空，等新事件
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		if wait > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-q.wake:
				// 来了更早到期的事件，重算等待时间
				continue
			case <-ctx.Done():
				return
			}
		}
		q.drainDue(ctx)
	}
}

func (q *DelayQueue) nextWait() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return 0, false
	}
	return q.items[0].until.Sub(q.now()), true
}

func (q *DelayQueue) drainDue(ctx context.Context) {
	now := q.now()
	for {
		q.mu.Lock()
		if q.items.Len() == 0 || q.items[0].until.After(now) {
			q.mu.Unlock()
			return
		}
		item := heap.Pop(&q.items).(delayItem)
		q.mu.Unlock()

		if _, err := q.submitter.Submit(ctx, item.event, item.recipientID); err != nil {
			q.logger.Error("延迟事件并入批次失败",
				elog.String("eventID", item.event.ID),
				elog.String("recipientID", item.recipientID),
				elog.FieldErr(err))
		}
	}
}
