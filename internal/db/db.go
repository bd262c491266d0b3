// Package db opens the shared gorm handle and keeps the schema migrated.
package db

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/roomtalk/internal/chat"
	"github.com/suPer8Hu/roomtalk/internal/jobs"
	"github.com/suPer8Hu/roomtalk/internal/models"
	"github.com/suPer8Hu/roomtalk/internal/usage"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := gdb.AutoMigrate(
		&models.User{},
		&models.Subscription{},
		&chat.Chatroom{},
		&chat.Message{},
		&usage.Record{},
		&jobs.ReplyJob{},
	); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return gdb, nil
}
