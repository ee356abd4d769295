package messaging

import (
	"time"

	"gorm.io/datatypes"
)

// ConversationType classifies a conversation.
type ConversationType string

const (
	ConversationTypeCase    ConversationType = "CASE"
	ConversationTypeSupport ConversationType = "SUPPORT"
	ConversationTypeDirect  ConversationType = "DIRECT"
)

// Conversation is a tenant-scoped thread. Only LastMessageAt is written here.
type Conversation struct {
	ID            string           `gorm:"column:id;primaryKey;size:64" json:"id"`
	TenantID      string           `gorm:"column:tenant_id;size:64;not null;index" json:"tenantId"`
	Type          ConversationType `gorm:"column:type;size:16;not null" json:"type"`
	CaseID        *string          `gorm:"column:case_id;size:64" json:"caseId"`
	LastMessageAt *time.Time       `gorm:"column:last_message_at;index" json:"lastMessageAt"`
	CreatedAt     time.Time        `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ConversationMember is the membership oracle row.
type ConversationMember struct {
	ConversationID string    `gorm:"column:conversation_id;primaryKey;size:64"`
	UserID         string    `gorm:"column:user_id;primaryKey;size:64;index"`
	JoinedAt       time.Time `gorm:"column:joined_at;not null"`
}

func (ConversationMember) TableName() string {
	return "conversation_members"
}

// Message is a persisted chat message. ReadBy keeps first-read order and never repeats an id.
type Message struct {
	ID             string                      `gorm:"column:id;primaryKey;size:64" json:"id"`
	ConversationID string                      `gorm:"column:conversation_id;size:64;not null;index:idx_messages_conversation_created,priority:1" json:"conversationId"`
	SenderID       string                      `gorm:"column:sender_id;size:64;not null" json:"senderId"`
	Content        string                      `gorm:"column:content;type:text;not null" json:"content"`
	ReadBy         datatypes.JSONSlice[string] `gorm:"column:read_by;not null" json:"readBy"`
	CreatedAt      time.Time                   `gorm:"column:created_at;not null;index:idx_messages_conversation_created,priority:2" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}

// HasReader reports whether userID already appears in ReadBy.
func (m Message) HasReader(userID string) bool {
	for _, reader := range m.ReadBy {
		if reader == userID {
			return true
		}
	}
	return false
}

// Sender is the display snippet embedded in message:new.
type Sender struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// MessageView is the message:new payload.
type MessageView struct {
	Message
	Sender Sender `json:"sender"`
}

// SendPayload is the message:send request body.
type SendPayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// ReadPayload is pushed to the sender when someone new reads a message.
type ReadPayload struct {
	MessageID string `json:"messageId"`
	ReadBy    string `json:"readBy"`
}

// TypingRequest is the typing request body.
type TypingRequest struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// TypingPayload is relayed as typing:start or typing:stop.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
}
