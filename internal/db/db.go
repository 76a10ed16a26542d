package db

import (
	"fmt"

	"driftbottle/internal/config"
	"driftbottle/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 建立数据库连接并迁移表结构
// 生产用 postgres，开发和测试可以用纯 Go 的 sqlite 驱动
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "driftbottle.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "host=localhost user=postgres password=postgres dbname=driftbottle port=5432 sslmode=disable"
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := gdb.AutoMigrate(&models.Bottle{}, &models.Comment{}); err != nil {
		return nil, fmt.Errorf("迁移表结构失败: %w", err)
	}
	return gdb, nil
}
