package ioc

import (
	"fmt"

	"gitee.com/flycash/notification-engine/internal/repository/dao"
	"github.com/ego-component/egorm"
	"github.com/gotomicro/ego/core/econf"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB() *egorm.Component {
	type Config struct {
		DSN string
	}
	var cfg Config
	err := econf.UnmarshalKey("mysql", &cfg)
	if err != nil {
		panic(err)
	}
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		panic(fmt.Errorf("数据库连接失败: %w", err))
	}
	return db
}

// InitTables 建表，演示和测试环境用，生产环境走 SQL 脚本
func InitTables(db *egorm.Component) error {
	return db.AutoMigrate(
		&dao.FilterRule{},
		&dao.UserPreference{},
		&dao.BatchConfig{},
		&dao.NotificationBatch{},
	)
}
