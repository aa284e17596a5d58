package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gitee.com/flycash/notification-engine/internal/ioc"
	"gitee.com/flycash/notification-engine/internal/service/dispatcher"
	"github.com/gotomicro/ego/core/econf"
	"github.com/gotomicro/ego/core/elog"
	"gopkg.in/yaml.v2"
)

func main() {
	loadConfig()

	db := ioc.InitDB()
	if err := ioc.InitTables(db); err != nil {
		elog.Panic("初始化数据表失败", elog.FieldErr(err))
	}
	rdb := ioc.InitRedisClient()

	// 真实接入方替换成自己的派发器实现
	app := ioc.InitApp(db, rdb, dispatcher.NewLogDispatcher())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		elog.Panic("启动通知引擎失败", elog.FieldErr(err))
	}
	elog.Info("通知引擎已启动")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	elog.Info("收到退出信号，开始优雅停机")
	app.Close()
}

func loadConfig() {
	path := os.Getenv("NOTIFICATION_ENGINE_CONFIG")
	if path == "" {
		path = "config/config.yaml"
	}
	f, err := os.Open(path)
	if err != nil {
		elog.Panic("打开配置文件失败", elog.FieldErr(err))
	}
	defer f.Close()
	if err := econf.LoadFromReader(f, yaml.Unmarshal); err != nil {
		elog.Panic("加载配置失败", elog.FieldErr(err))
	}
}
