package ioc

import (
	"context"
	"time"

	"gitee.com/flycash/notification-engine/internal/pkg/freqlimit"
	"gitee.com/flycash/notification-engine/internal/pkg/idempotent"
	"gitee.com/flycash/notification-engine/internal/repository"
	localcache "gitee.com/flycash/notification-engine/internal/repository/cache/local"
	rediscache "gitee.com/flycash/notification-engine/internal/repository/cache/redis"
	"gitee.com/flycash/notification-engine/internal/repository/dao"
	"gitee.com/flycash/notification-engine/internal/service/batch"
	configsvc "gitee.com/flycash/notification-engine/internal/service/config"
	"gitee.com/flycash/notification-engine/internal/service/dispatcher"
	"gitee.com/flycash/notification-engine/internal/service/engine"
	"gitee.com/flycash/notification-engine/internal/service/filter"
	"gitee.com/flycash/notification-engine/internal/service/rule"
	"github.com/ego-component/egorm"
	dlockRedis "github.com/meoying/dlock-go/redis"
	ca "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const (
	localCacheExpiration = 10 * time.Minute
	localCacheCleanup    = time.Minute

	bloomFilterName = "notification_engine:dispatched_batches"
	bloomCapacity   = 1_000_000
	bloomErrorRate  = 0.001
)

// App 组装完成的通知引擎和它的管理面服务
type App struct {
	Engine    *engine.NotificationEngine
	RuleSvc   rule.FilterRuleService
	PrefSvc   rule.UserPreferenceService
	ConfigSvc configsvc.BatchConfigService

	store      *rule.Store
	localCache *localcache.Cache
}

// InitApp 组装整个引擎，d 是业务方的派发器实现
func InitApp(db *egorm.Component, rdb *redis.Client, d dispatcher.Dispatcher) *App {
	ruleRepo := repository.NewFilterRuleRepository(dao.NewFilterRuleDAO(db))
	prefRepo := repository.NewUserPreferenceRepository(dao.NewUserPreferenceDAO(db))
	batchRepo := repository.NewBatchRepository(dao.NewNotificationBatchDAO(db))

	local := localcache.NewCache(rdb, ca.New(localCacheExpiration, localCacheCleanup))
	configRepo := repository.NewBatchConfigRepository(
		dao.NewBatchConfigDAO(db),
		local,
		rediscache.NewCache(rdb),
	)

	store := rule.NewStore(ruleRepo, prefRepo)
	filterEngine := filter.NewEngine(store, freqlimit.NewRedisSlidingWindowCounter(rdb))
	cfgSvc := configsvc.NewBatchConfigService(configRepo)

	// 派发链：业务派发器外面套指标采集，再套按批次ID去重
	dispatchChain := dispatcher.NewDedupeDispatcher(
		dispatcher.NewMetricsDispatcher(d),
		idempotent.NewBloomService(rdb, bloomFilterName, bloomCapacity, bloomErrorRate),
	)
	flusher := batch.NewFlusher(batchRepo, dispatchChain)
	batcher := batch.NewEngine(batchRepo, cfgSvc, batch.NewKeyResolver(nil), batch.NewGrouperRegistry(), flusher)
	scheduler := batch.NewScheduler(batchRepo, flusher, dlockRedis.NewClient(rdb))

	return &App{
		Engine:     engine.New(filterEngine, batcher, scheduler, flusher),
		RuleSvc:    rule.NewFilterRuleService(ruleRepo, store),
		PrefSvc:    rule.NewUserPreferenceService(prefRepo, store),
		ConfigSvc:  cfgSvc,
		store:      store,
		localCache: local,
	}
}

// Start 补默认配置、加载规则快照、启动缓存失效订阅和引擎后台组件
func (a *App) Start(ctx context.Context) error {
	if err := a.ConfigSvc.EnsureDefaults(ctx); err != nil {
		return err
	}
	if err := a.store.Refresh(ctx); err != nil {
		return err
	}
	go a.localCache.Loop(ctx)
	return a.Engine.Start(ctx)
}

func (a *App) Close() {
	a.Engine.Close()
}
