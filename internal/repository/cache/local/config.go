package local

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/repository/cache"
	"github.com/gotomicro/ego/core/elog"
	ca "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const defaultTimeout = 3 * time.Second

// Cache 进程内配置缓存
// 订阅 redis 键空间通知，别的实例改了配置这里能跟着失效
type Cache struct {
	rdb    *redis.Client
	logger *elog.Component
	c      *ca.Cache
}

func NewCache(rdb *redis.Client, c *ca.Cache) *Cache {
	return &Cache{
		rdb:    rdb,
		logger: elog.DefaultLogger,
		c:      c,
	}
}

func (l *Cache) Get(_ context.Context, batchKey string) (domain.BatchConfiguration, error) {
	key := cache.BatchConfigKey(batchKey)
	v, ok := l.c.Get(key)
	if !ok {
		return domain.BatchConfiguration{}, cache.ErrKeyNotFound
	}
	return v.(domain.BatchConfiguration), nil
}

func (l *Cache) Set(_ context.Context, cfg domain.BatchConfiguration) error {
	key := cache.BatchConfigKey(cfg.BatchKey)
	l.c.Set(key, cfg, ca.NoExpiration)
	return nil
}

func (l *Cache) Del(_ context.Context, batchKey string) error {
	l.c.Delete(cache.BatchConfigKey(batchKey))
	return nil
}

// Loop 监听 redis 键空间通知，保持本地缓存和共享缓存一致
// 阻塞运行，ctx 取消后退出
func (l *Cache) Loop(ctx context.Context) {
	pubsub := l.rdb.PSubscribe(ctx, "__keyspace@*__:"+cache.BatchConfigPrefix+":*")
	defer pubsub.Close()
	ch := pubsub.Channel()
	for msg := range ch {
		channel := msg.Channel
		idx := strings.Index(channel, ":")
		if idx < 0 || idx+1 >= len(channel) {
			l.logger.Error("监听redis键不正确", elog.String("channel", channel))
			continue
		}
		key := channel[idx+1:]
		event := msg.Payload
		handleCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		l.handleConfigChange(handleCtx, key, event)
		cancel()
	}
}

func (l *Cache) handleConfigChange(ctx context.Context, key, event string) {
	switch event {
	case "set":
		res := l.rdb.Get(ctx, key)
		if res.Err() != nil {
			l.logger.Error("订阅完获取键失败", elog.String("key", key))
			return
		}
		var config domain.BatchConfiguration
		err := json.Unmarshal([]byte(res.Val()), &config)
		if err != nil {
			l.logger.Error("反序列化失败", elog.String("key", key), elog.String("val", res.Val()))
			return
		}
		l.c.Set(key, config, ca.NoExpiration)
	case "del", "expired":
		l.c.Delete(key)
	}
}
