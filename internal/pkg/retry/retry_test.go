package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRetry(t *testing.T) {
	t.Parallel()

	t.Run("固定间隔策略", func(t *testing.T) {
		t.Parallel()
		strategy, err := NewRetry(Config{
			Type:          "fixed",
			FixedInterval: &FixedIntervalConfig{MaxRetries: 2, Interval: 1000},
		})
		require.NoError(t, err)

		interval, ok := strategy.Next()
		assert.True(t, ok)
		assert.Equal(t, time.Second, interval)
		_, ok = strategy.Next()
		assert.True(t, ok)
		// 重试次数用完
		_, ok = strategy.Next()
		assert.False(t, ok)
	})

	t.Run("指数退避策略", func(t *testing.T) {
		t.Parallel()
		strategy, err := NewRetry(Config{
			Type: "exponential",
			ExponentialBackoff: &ExponentialBackoffConfig{
				InitialInterval: 1000,
				MaxInterval:     4000,
				MaxRetries:      3,
			},
		})
		require.NoError(t, err)

		first, ok := strategy.Next()
		assert.True(t, ok)
		assert.Equal(t, time.Second, first)
		second, ok := strategy.Next()
		assert.True(t, ok)
		assert.Equal(t, 2*time.Second, second)
	})

	t.Run("未知策略类型", func(t *testing.T) {
		t.Parallel()
		_, err := NewRetry(Config{Type: "random"})
		assert.Error(t, err)
	})
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	strategy, err := NewRetry(DefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, strategy)
}
