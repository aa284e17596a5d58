package retry

import (
	"fmt"
	"time"

	"github.com/ecodeclub/ekit/retry"
)

// Config 投递重试配置
type Config struct {
	Type               string                    `json:"type"` // 重试策略
	FixedInterval      *FixedIntervalConfig      `json:"fixedInterval"`
	ExponentialBackoff *ExponentialBackoffConfig `json:"exponentialBackoff"`
}

type ExponentialBackoffConfig struct {
	// 初始重试间隔 单位ms
	InitialInterval int `json:"initialInterval"`
	// 最大重试间隔 单位ms
	MaxInterval int `json:"maxInterval"`
	// 最大重试次数
	MaxRetries int32 `json:"maxRetries"`
}

type FixedIntervalConfig struct {
	MaxRetries int32 `json:"maxRetries"`
	Interval   int   `json:"interval"`
}

// NewRetry 根据配置构造重试策略，配置不识别时返回错误
func NewRetry(cfg Config) (retry.Strategy, error) {
	switch cfg.Type {
	case "fixed":
		return retry.NewFixedIntervalRetryStrategy(msToDuration(cfg.FixedInterval.Interval), cfg.FixedInterval.MaxRetries)
	case "exponential":
		return retry.NewExponentialBackoffRetryStrategy(msToDuration(cfg.ExponentialBackoff.InitialInterval), msToDuration(cfg.ExponentialBackoff.MaxInterval), cfg.ExponentialBackoff.MaxRetries)
	default:
		return nil, fmt.Errorf("unknown retry type: %s", cfg.Type)
	}
}

// DefaultConfig 投递失败的默认策略：有界指数退避
func DefaultConfig() Config {
	return Config{
		Type: "exponential",
		ExponentialBackoff: &ExponentialBackoffConfig{
			InitialInterval: 1000,
			MaxInterval:     30000,
			MaxRetries:      3,
		},
	}
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
