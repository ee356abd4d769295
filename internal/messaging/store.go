package messaging

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Store persists conversations, memberships and messages.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a gorm handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: db}, nil
}

// IsMember reports whether a membership row exists for (conversationID, userID).
func (s *Store) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).
		Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MemberIDs lists the user ids of every member of conversationID.
func (s *Store) MemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&ConversationMember{}).
		Where("conversation_id = ?", conversationID).
		Order("joined_at ASC").
		Order("user_id ASC").
		Pluck("user_id", &ids).
		Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// CreateMessage inserts the message and bumps the conversation's recency in one transaction.
func (s *Store) CreateMessage(ctx context.Context, message *Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		return tx.Model(&Conversation{}).
			Where("id = ?", message.ConversationID).
			Updates(map[string]interface{}{
				"last_message_at": message.CreatedAt,
				"updated_at":      message.CreatedAt,
			}).
			Error
	})
}

// FindMessage loads a message by id. Missing rows report found=false without an error.
func (s *Store) FindMessage(ctx context.Context, messageID string) (Message, bool, error) {
	var message Message
	err := s.db.WithContext(ctx).Where("id = ?", messageID).Take(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	return message, true, nil
}

// AppendReader adds userID to the message's readBy list unless it is already present.
// Callers serialize per message; the transaction keeps the read-modify-write atomic against other writers.
func (s *Store) AppendReader(ctx context.Context, messageID, userID string) (Message, bool, error) {
	var (
		message Message
		added   bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", messageID).Take(&message).Error; err != nil {
			return err
		}
		if message.HasReader(userID) {
			return nil
		}
		message.ReadBy = append(message.ReadBy, userID)
		if err := tx.Model(&Message{}).
			Where("id = ?", messageID).
			Update("read_by", message.ReadBy).
			Error; err != nil {
			return err
		}
		added = true
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	return message, added, nil
}

// LastMessageAt returns the recency stamp of a conversation.
func (s *Store) LastMessageAt(ctx context.Context, conversationID string) (*time.Time, error) {
	var conversation Conversation
	if err := s.db.WithContext(ctx).Where("id = ?", conversationID).Take(&conversation).Error; err != nil {
		return nil, err
	}
	return conversation.LastMessageAt, nil
}
