package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/courier/internal/events"
	"github.com/MarcoPoloResearchLab/courier/internal/metrics"
	"github.com/MarcoPoloResearchLab/courier/internal/realtime"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

var (
	ErrInvalidNotification = errors.New("notifications: tenant, user, type and title are required")
	errMissingDatabase     = errors.New("notifications: database handle is required")
)

// Emitter pushes events to a room.
type Emitter interface {
	Emit(room realtime.Room, event string, payload interface{}) int
}

// ServiceConfig wires the notification service.
type ServiceConfig struct {
	Database  *gorm.DB
	Emitter   Emitter
	Publisher events.Publisher
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service creates, counts and marks notifications.
type Service struct {
	db        *gorm.DB
	emitter   Emitter
	publisher events.Publisher
	clock     func() time.Time
	logger    *zap.Logger
}

// NewService constructs the notification service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		db:        cfg.Database,
		emitter:   cfg.Emitter,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Create persists a notification and pushes notification:new to the owner's personal room.
func (s *Service) Create(ctx context.Context, input NewNotification) (Notification, error) {
	if strings.TrimSpace(input.TenantID) == "" || strings.TrimSpace(input.UserID) == "" ||
		!input.Type.Valid() || strings.TrimSpace(input.Title) == "" {
		return Notification{}, ErrInvalidNotification
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Notification{}, fmt.Errorf("notifications: generate id: %w", err)
	}
	notification := Notification{
		ID:        id.String(),
		TenantID:  input.TenantID,
		UserID:    input.UserID,
		Type:      input.Type,
		Title:     input.Title,
		Message:   input.Message,
		CreatedAt: s.clock().UTC(),
	}
	if link := strings.TrimSpace(input.Link); link != "" {
		notification.Link = &link
	}
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return Notification{}, fmt.Errorf("notifications: create: %w", err)
	}
	metrics.NotificationsCreated.WithLabelValues(string(notification.Type)).Inc()

	if s.emitter != nil {
		s.emitter.Emit(realtime.UserRoom(notification.UserID), realtime.EventNotificationNew, notification)
	}
	events.PublishQuietly(ctx, s.publisher, s.logger, events.Event{
		TenantID: notification.TenantID,
		Kind:     events.KindNotificationCreated,
		Payload:  notification,
	})
	return notification, nil
}

// Count returns the number of unread notifications for userID.
func (s *Service) Count(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).
		Error
	if err != nil {
		return 0, fmt.Errorf("notifications: count: %w", err)
	}
	return count, nil
}

// MarkRead flips one notification owned by userID. It reports false when no row
// matches, including when the notification belongs to someone else.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Update("is_read", true)
	if result.Error != nil {
		return false, fmt.Errorf("notifications: mark read: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkAllRead flips every unread notification of userID and returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if result.Error != nil {
		return 0, fmt.Errorf("notifications: mark all read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// List returns the newest notifications of userID.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	var records []Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).
		Error
	if err != nil {
		return nil, fmt.Errorf("notifications: list: %w", err)
	}
	return records, nil
}
