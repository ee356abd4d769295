package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/courier/internal/auth"
	"github.com/MarcoPoloResearchLab/courier/internal/notifications"
	"github.com/MarcoPoloResearchLab/courier/internal/realtime"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var (
	alice = auth.Identity{UserID: "user-a", TenantID: "tenant-1", FirstName: "Alice", LastName: "Arden", AvatarURL: "https://cdn.example.com/a.png"}
	bob   = auth.Identity{UserID: "user-b", TenantID: "tenant-1", FirstName: "Bob", LastName: "Baker"}
	carol = auth.Identity{UserID: "user-c", TenantID: "tenant-1", FirstName: "Carol", LastName: "Cole"}
)

const testConversationID = "conv-1"

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Conversation{}, &ConversationMember{}, &Message{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func seedConversation(t *testing.T, db *gorm.DB, conversationID string, memberIDs ...string) {
	t.Helper()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	conversation := Conversation{
		ID:        conversationID,
		TenantID:  "tenant-1",
		Type:      ConversationTypeDirect,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(&conversation).Error; err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}
	for index, memberID := range memberIDs {
		member := ConversationMember{
			ConversationID: conversationID,
			UserID:         memberID,
			JoinedAt:       now.Add(time.Duration(index) * time.Minute),
		}
		if err := db.Create(&member).Error; err != nil {
			t.Fatalf("failed to seed member: %v", err)
		}
	}
}

func newTestStore(t *testing.T, db *gorm.DB) *Store {
	t.Helper()
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

type recordingNotifier struct {
	mu      sync.Mutex
	created []notifications.NewNotification
	err     error
}

func (r *recordingNotifier) Create(_ context.Context, input notifications.NewNotification) (notifications.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return notifications.Notification{}, r.err
	}
	r.created = append(r.created, input)
	return notifications.Notification{ID: "n-" + input.UserID, UserID: input.UserID, Type: input.Type}, nil
}

func readFrame(t *testing.T, conn *realtime.Conn) realtime.Frame {
	t.Helper()
	select {
	case raw := <-conn.Outbound():
		var frame realtime.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("failed to decode frame: %v", err)
		}
		return frame
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected frame within deadline")
	}
	return realtime.Frame{}
}

func expectSilence(t *testing.T, conn *realtime.Conn) {
	t.Helper()
	select {
	case raw := <-conn.Outbound():
		t.Fatalf("did not expect frame, got %s", raw)
	default:
	}
}
