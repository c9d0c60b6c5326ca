package database

import (
	"fmt"
	"sync"

	"github.com/blues/stamp/internal/config"
	"github.com/blues/stamp/internal/logger"
	"github.com/blues/stamp/internal/model"
	"github.com/glebarez/sqlite"
	"golang.org/x/sync/singleflight"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var (
	mu       sync.RWMutex
	instance *gorm.DB
	group    singleflight.Group
)

// Get 返回进程共享的数据库连接，首次调用时初始化。
// 并发的首次调用只会打开一个连接；初始化失败不缓存，下次调用重试。
func Get(cfg config.DatabaseConfig) (*gorm.DB, error) {
	mu.RLock()
	db := instance
	mu.RUnlock()
	if db != nil {
		return db, nil
	}

	v, err, _ := group.Do("db", func() (interface{}, error) {
		mu.RLock()
		existing := instance
		mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		opened, err := Open(cfg)
		if err != nil {
			return nil, err
		}

		mu.Lock()
		instance = opened
		mu.Unlock()
		return opened, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*gorm.DB), nil
}

// Close 关闭共享连接
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if instance == nil {
		return nil
	}

	sqlDB, err := instance.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	instance = nil

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	logger.Info("Database connection closed")
	return nil
}

// Open 打开新连接并迁移表结构
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 禁用 GORM 的默认日志输出
		NamingStrategy: &schema.NamingStrategy{
			SingularTable: true, // 禁用复数表名
		},
		TranslateError: true, // 唯一索引冲突统一为 gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	logger.Info("Database connection established (driver: %s)", cfg.Driver)
	return db, nil
}

// Migrate 自动迁移
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.StampModel{},
		&model.ChainEventModel{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// dialectorFor 根据驱动类型创建 dialector
func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
		return postgres.Open(dsn), nil
	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite_path is required for sqlite driver")
		}
		return sqlite.Open(cfg.SQLitePath), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}
