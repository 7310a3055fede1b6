// Package repository implements the relational store on gorm.
package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nickcecere/ragchat/internal/model"
)

// Open connects to the configured database and migrates the schema.
// driver is one of sqlite, mysql or postgres.
func Open(ctx context.Context, driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("create database directory failed: %w", err)
		}
		dialector = sqlite.Open(dsn + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s failed: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get %s sql db failed: %w", driver, err)
	}
	if driver == "sqlite" || driver == "" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping %s failed: %w", driver, err)
	}

	if err := db.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		return nil, fmt.Errorf("auto migrate failed: %w", err)
	}

	log.Debug("Opened relational store", "driver", driver)
	return db, nil
}

// Repositories bundles every repository over one connection.
type Repositories struct {
	DB            *gorm.DB
	Users         *UserRepository
	Documents     *DocumentRepository
	Conversations *ConversationRepository
	Messages      *MessageRepository
	APIKeys       *APIKeyRepository
}

func New(db *gorm.DB) *Repositories {
	return &Repositories{
		DB:            db,
		Users:         NewUserRepository(db),
		Documents:     NewDocumentRepository(db),
		Conversations: NewConversationRepository(db),
		Messages:      NewMessageRepository(db),
		APIKeys:       NewAPIKeyRepository(db),
	}
}

// Close releases the underlying connection pool.
func (r *Repositories) Close() error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
