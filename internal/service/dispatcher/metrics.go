// Package dispatcher 的指标装饰器，为投递实现添加指标收集
package dispatcher

import (
	"context"
	"time"

	"gitee.com/flycash/notification-engine/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsDispatcher 为投递实现添加指标收集的装饰器
type MetricsDispatcher struct {
	dispatcher              Dispatcher
	dispatchDurationSummary *prometheus.SummaryVec
	dispatchCounter         *prometheus.CounterVec
	batchSizeSummary        *prometheus.SummaryVec
}

// NewMetricsDispatcher 创建一个新的带有指标收集的投递装饰器
func NewMetricsDispatcher(d Dispatcher) *MetricsDispatcher {
	dispatchDurationSummary := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "batch_dispatch_duration_seconds",
			Help:       "批次投递耗时统计（秒）",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.95: 0.005, 0.99: 0.001},
			MaxAge:     time.Minute * 5,
		},
		[]string{"batch_key", "status"},
	)

	dispatchCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_dispatch_total",
			Help: "批次投递总数",
		},
		[]string{"batch_key", "status"},
	)

	batchSizeSummary := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:   "batch_dispatch_size",
			Help:   "投递批次的成员数统计",
			MaxAge: time.Minute * 5,
		},
		[]string{"batch_key"},
	)

	// 注册指标
	prometheus.MustRegister(dispatchDurationSummary, dispatchCounter, batchSizeSummary)

	return &MetricsDispatcher{
		dispatcher:              d,
		dispatchDurationSummary: dispatchDurationSummary,
		dispatchCounter:         dispatchCounter,
		batchSizeSummary:        batchSizeSummary,
	}
}

// Dispatch 投递批次并记录指标
func (m *MetricsDispatcher) Dispatch(ctx context.Context, batch domain.NotificationBatch) error {
	startTime := time.Now()

	err := m.dispatcher.Dispatch(ctx, batch)

	duration := time.Since(startTime).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}

	m.dispatchCounter.WithLabelValues(batch.BatchKey, status).Inc()
	m.dispatchDurationSummary.WithLabelValues(batch.BatchKey, status).Observe(duration)
	m.batchSizeSummary.WithLabelValues(batch.BatchKey).Observe(float64(len(batch.Members)))

	return err
}
