// Package database 负责初始化结构化查询后端与 Redis 连接。
package database

import (
	"context"
	"database/sql"
	"fmt"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/pkg/log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // SQLite driver
)

// OpenSQL 按驱动打开结构化查询后端并配置连接池。
// mysql 与 postgres 通过 gorm 建立连接后取出底层 *sql.DB；sqlite 使用纯 Go 驱动直接打开。
func OpenSQL(cfg config.SQLConfig) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		db, err = sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
	case "mysql", "postgres":
		var dialector gorm.Dialector
		if cfg.Driver == "mysql" {
			dialector = mysql.Open(cfg.DSN)
		} else {
			dialector = postgres.Open(cfg.DSN)
		}
		gdb, gerr := gorm.Open(dialector, &gorm.Config{
			Logger: gormLogger.Default.LogMode(gormLogger.Silent),
		})
		if gerr != nil {
			return nil, fmt.Errorf("failed to connect database: %w", gerr)
		}
		db, err = gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db.SetMaxIdleConns(10)           // 设置空闲连接池中连接的最大数量
	db.SetMaxOpenConns(100)          // 设置打开数据库连接的最大数量
	db.SetConnMaxLifetime(time.Hour) // 设置了连接可复用的最大时间

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Infof("%s database connected successfully", cfg.Driver)
	return db, nil
}
