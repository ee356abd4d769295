package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/courier/internal/messaging"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsSenderReadReceipts(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&messaging.Message{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	createdAt := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	legacy := []struct {
		id     string
		readBy string
	}{
		{id: "legacy-empty", readBy: "[]"},
		{id: "legacy-null", readBy: "null"},
	}
	for _, row := range legacy {
		if err := database.Exec(
			"INSERT INTO messages (id, conversation_id, sender_id, content, read_by, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			row.id, "conv-1", "user-a", "hi", row.readBy, createdAt,
		).Error; err != nil {
			testContext.Fatalf("failed to insert legacy message: %v", err)
		}
	}
	current := messaging.Message{
		ID:             "current",
		ConversationID: "conv-1",
		SenderID:       "user-a",
		Content:        "hello",
		ReadBy:         []string{"user-a", "user-b"},
		CreatedAt:      createdAt,
	}
	if err := database.Create(&current).Error; err != nil {
		testContext.Fatalf("failed to insert message: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	for _, row := range legacy {
		var stored messaging.Message
		if err := database.Where("id = ?", row.id).Take(&stored).Error; err != nil {
			testContext.Fatalf("failed to reload message: %v", err)
		}
		if len(stored.ReadBy) != 1 || stored.ReadBy[0] != "user-a" {
			testContext.Fatalf("expected sender backfilled for %s, got %v", row.id, stored.ReadBy)
		}
	}
	var untouched messaging.Message
	if err := database.Where("id = ?", current.ID).Take(&untouched).Error; err != nil {
		testContext.Fatalf("failed to reload message: %v", err)
	}
	if len(untouched.ReadBy) != 2 {
		testContext.Fatalf("expected existing receipts preserved, got %v", untouched.ReadBy)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillSenderReadReceipts).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestOpenSQLiteIsRepeatable(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "courier.db")

	for attempt := 0; attempt < 2; attempt++ {
		database, err := OpenSQLite(databasePath, zap.NewNop())
		if err != nil {
			testContext.Fatalf("open attempt %d failed: %v", attempt, err)
		}
		var applied int64
		if err := database.Model(&migrationRecord{}).Count(&applied).Error; err != nil {
			testContext.Fatalf("failed to count migrations: %v", err)
		}
		if applied != 1 {
			testContext.Fatalf("expected one recorded migration, got %d", applied)
		}
		sqlDB, _ := database.DB()
		_ = sqlDB.Close()
	}
}

func TestOpenSQLiteRequiresPath(testContext *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatal("expected missing path error")
	}
}
