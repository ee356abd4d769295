package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/courier/internal/messaging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillSenderReadReceipts = "2026-09-01_backfill_sender_read_receipts"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillSenderReadReceipts, apply: backfillSenderReadReceipts},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Messages imported before receipts existed carry no readers; the sender always has seen their own message.
func backfillSenderReadReceipts(db *gorm.DB) error {
	return db.Model(&messaging.Message{}).
		Where("read_by IS NULL OR read_by IN ?", []string{"", "[]", "null"}).
		Update("read_by", gorm.Expr("json_array(sender_id)")).Error
}
