package database

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"equihire-go/internal/config"
	"equihire-go/internal/model"
	"equihire-go/pkg/log"
)

var DB *gorm.DB

// Open 按 driver 打开 MySQL 或 PostgreSQL 连接并配置连接池。
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "mysql":
		dialector = mysql.Open(cfg.MySQL.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.Postgres.DSN)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)           // 设置空闲连接池中连接的最大数量
	sqlDB.SetMaxOpenConns(100)          // 设置打开数据库连接的最大数量
	sqlDB.SetConnMaxLifetime(time.Hour) // 设置了连接可复用的最大时间
	return db, nil
}

// InitDB 初始化全局数据库连接并迁移匹配相关的表，失败时直接退出。
func InitDB(cfg config.DatabaseConfig) {
	db, err := Open(cfg)
	if err != nil {
		log.Fatal("failed to connect database", err)
	}
	if err := AutoMigrate(db); err != nil {
		log.Fatal("failed to migrate database", err)
	}
	DB = db
	log.Infof("%s database connected successfully", driverName(cfg.Driver))
}

// AutoMigrate 创建或更新匹配流水线使用的表。pgvector 的向量表由索引自行维护。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Job{},
		&model.Resume{},
		&model.ProtectedAttribute{},
		&model.MatchResultRecord{},
		&model.FairnessReportRecord{},
		&model.ExplanationRecord{},
	)
}

func driverName(driver string) string {
	if driver == "" {
		return "mysql"
	}
	return driver
}
