package database

import (
	"errors"

	"github.com/MarcoPoloResearchLab/courier/internal/directory"
	"github.com/MarcoPoloResearchLab/courier/internal/messaging"
	"github.com/MarcoPoloResearchLab/courier/internal/notifications"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingPath = errors.New("database path is required")

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, errMissingPath
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// one writer; transactions must only use their tx handle
	sqlDB.SetMaxOpenConns(1)

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&directory.Tenant{},
		&directory.User{},
		&messaging.Conversation{},
		&messaging.ConversationMember{},
		&messaging.Message{},
		&notifications.Notification{},
		&migrationRecord{},
	)
}
