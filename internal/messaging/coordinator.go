package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/courier/internal/auth"
	"github.com/MarcoPoloResearchLab/courier/internal/events"
	"github.com/MarcoPoloResearchLab/courier/internal/metrics"
	"github.com/MarcoPoloResearchLab/courier/internal/notifications"
	"github.com/MarcoPoloResearchLab/courier/internal/realtime"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	opCoordinatorNew = "messaging.coordinator.new"
	opSend           = "messaging.send"
	opMarkRead       = "messaging.mark_read"

	messageNotificationTitle = "New message"
)

var (
	// ErrNotAMember is shared with the room topology so the dispatcher maps both the same way.
	ErrNotAMember      = realtime.ErrNotAMember
	ErrEmptyContent    = errors.New("messaging: message content is required")
	errMissingDatabase = errors.New("messaging: database handle is required")
	errMissingStore    = errors.New("messaging: store is required")
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Emitter pushes an event to a room.
type Emitter interface {
	Emit(room realtime.Room, event string, payload interface{}) int
}

// Broadcaster fans frames out to rooms, optionally skipping the originating connection.
type Broadcaster interface {
	Emitter
	EmitExcept(room realtime.Room, except *realtime.Conn, event string, payload interface{}) int
}

// Notifier creates and pushes notifications.
type Notifier interface {
	Create(ctx context.Context, input notifications.NewNotification) (notifications.Notification, error)
}

// CoordinatorConfig wires the messaging coordinator.
type CoordinatorConfig struct {
	Store       *Store
	Broadcaster Broadcaster
	Notifier    Notifier
	Publisher   events.Publisher
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Coordinator validates, persists and fans out chat messages.
type Coordinator struct {
	store         *Store
	broadcaster   Broadcaster
	notifier      Notifier
	publisher     events.Publisher
	clock         func() time.Time
	logger        *zap.Logger
	conversations *keyedLock
}

// NewCoordinator constructs a coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opCoordinatorNew, "missing_store", errMissingStore)
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
	return &Coordinator{
		store:         cfg.Store,
		broadcaster:   cfg.Broadcaster,
		notifier:      cfg.Notifier,
		publisher:     publisher,
		clock:         clock,
		logger:        logger,
		conversations: newKeyedLock(),
	}, nil
}

// Send persists a message from sender and broadcasts it to the conversation room, then
// notifies every other member. Nothing is broadcast unless the message was committed.
func (c *Coordinator) Send(ctx context.Context, sender auth.Identity, request SendPayload) (MessageView, error) {
	conversationID := strings.TrimSpace(request.ConversationID)
	if conversationID == "" {
		return MessageView{}, ErrNotAMember
	}
	member, err := c.store.IsMember(ctx, conversationID, sender.UserID)
	if err != nil {
		return MessageView{}, newServiceError(opSend, "membership_lookup_failed", err)
	}
	if !member {
		return MessageView{}, ErrNotAMember
	}
	if strings.TrimSpace(request.Content) == "" {
		return MessageView{}, ErrEmptyContent
	}

	view, err := c.commitAndBroadcast(ctx, sender, conversationID, request.Content)
	if err != nil {
		return MessageView{}, err
	}

	events.PublishQuietly(ctx, c.publisher, c.logger, events.Event{
		TenantID: sender.TenantID,
		Kind:     events.KindMessageCreated,
		Payload:  view,
	})
	c.notifyMembers(ctx, sender, view.Message)
	return view, nil
}

// commitAndBroadcast holds the conversation lock so broadcast order follows commit order.
func (c *Coordinator) commitAndBroadcast(ctx context.Context, sender auth.Identity, conversationID, content string) (MessageView, error) {
	release := c.conversations.lock(conversationID)
	defer release()

	id, err := uuid.NewV7()
	if err != nil {
		return MessageView{}, newServiceError(opSend, "id_generation_failed", err)
	}
	message := Message{
		ID:             id.String(),
		ConversationID: conversationID,
		SenderID:       sender.UserID,
		Content:        content,
		ReadBy:         []string{sender.UserID},
		CreatedAt:      c.clock().UTC(),
	}
	if err := c.store.CreateMessage(ctx, &message); err != nil {
		return MessageView{}, newServiceError(opSend, "persist_failed", err)
	}
	metrics.MessagesPersisted.Inc()

	view := MessageView{
		Message: message,
		Sender: Sender{
			ID:        sender.UserID,
			FirstName: sender.FirstName,
			LastName:  sender.LastName,
			AvatarURL: sender.AvatarURL,
		},
	}
	if c.broadcaster != nil {
		c.broadcaster.Emit(realtime.ConversationRoom(conversationID), realtime.EventMessageNew, view)
	}
	return view, nil
}

// notifyMembers creates a MESSAGE_RECEIVED notification for every member except the sender,
// whether or not they are viewing the conversation. Failures are logged per member.
func (c *Coordinator) notifyMembers(ctx context.Context, sender auth.Identity, message Message) {
	if c.notifier == nil {
		return
	}
	memberIDs, err := c.store.MemberIDs(ctx, message.ConversationID)
	if err != nil {
		c.logger.Error("failed to list conversation members",
			zap.String("conversation_id", message.ConversationID),
			zap.Error(err),
		)
		return
	}
	name := strings.TrimSpace(sender.FirstName)
	if name == "" {
		name = sender.DisplayName()
	}
	for _, memberID := range memberIDs {
		if memberID == sender.UserID {
			continue
		}
		_, err := c.notifier.Create(ctx, notifications.NewNotification{
			TenantID: sender.TenantID,
			UserID:   memberID,
			Type:     notifications.TypeMessageReceived,
			Title:    messageNotificationTitle,
			Message:  fmt.Sprintf("%s sent you a message", name),
			Link:     "/messages/" + message.ConversationID,
		})
		if err != nil {
			c.logger.Error("failed to create message notification",
				zap.String("conversation_id", message.ConversationID),
				zap.String("message_id", message.ID),
				zap.String("recipient_id", memberID),
				zap.Error(err),
			)
		}
	}
}
