package cache

import (
	"context"
	"fmt"
	"time"

	"gitee.com/flycash/notification-engine/internal/domain"
	"github.com/pkg/errors"
)

const (
	BatchConfigPrefix = "batchconfig"

	DefaultExpiredTime = 10 * time.Minute
)

var ErrKeyNotFound = errors.New("key not found")

// BatchConfigCache 批处理配置缓存
// 配置是读多写少的数据，管理面更新时通过键空间通知失效
type BatchConfigCache interface {
	Get(ctx context.Context, batchKey string) (domain.BatchConfiguration, error)
	Set(ctx context.Context, cfg domain.BatchConfiguration) error
	Del(ctx context.Context, batchKey string) error
}

func BatchConfigKey(batchKey string) string {
	return fmt.Sprintf("%s:%s", BatchConfigPrefix, batchKey)
}
