package metrics

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// 频率窗口、布隆去重和缓存失效都走同一个 Redis，挂个钩子看清楚命令量

var (
	commandCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_engine_redis_commands_total",
			Help: "Total number of Redis commands executed",
		},
		[]string{"command", "status"},
	)

	commandDuration = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "notification_engine_redis_command_duration_seconds",
			Help:       "Redis command execution time in seconds",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"command"},
	)

	pipelineCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_engine_redis_pipelines_total",
			Help: "Total number of Redis pipeline executions",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(commandCounter, commandDuration, pipelineCounter)
}

const (
	successStatus = "success"
	errorStatus   = "error"
)

// Hook 实现 redis.Hook，为所有 Redis 操作收集指标
type Hook struct{}

func NewHook() *Hook {
	return &Hook{}
}

func (h *Hook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *Hook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		commandDuration.WithLabelValues(cmd.Name()).Observe(time.Since(start).Seconds())
		commandCounter.WithLabelValues(cmd.Name(), status(err)).Inc()
		return err
	}
}

func (h *Hook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		pipelineCounter.WithLabelValues(status(err)).Inc()
		return err
	}
}

// redis.Nil 是正常的未命中，不算错误
func status(err error) string {
	if err != nil && !errors.Is(err, redis.Nil) {
		return errorStatus
	}
	return successStatus
}
