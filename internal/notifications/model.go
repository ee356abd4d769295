package notifications

import "time"

// Type enumerates notification categories.
type Type string

const (
	TypeLeadAssigned     Type = "LEAD_ASSIGNED"
	TypeCaseUpdate       Type = "CASE_UPDATE"
	TypeDocumentUploaded Type = "DOCUMENT_UPLOADED"
	TypeDocumentReviewed Type = "DOCUMENT_REVIEWED"
	TypeMessageReceived  Type = "MESSAGE_RECEIVED"
	TypeJobMatch         Type = "JOB_MATCH"
	TypeSystem           Type = "SYSTEM"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeLeadAssigned, TypeCaseUpdate, TypeDocumentUploaded, TypeDocumentReviewed,
		TypeMessageReceived, TypeJobMatch, TypeSystem:
		return true
	default:
		return false
	}
}

// Notification is a persisted, per-user alert.
type Notification struct {
	ID        string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	TenantID  string    `gorm:"column:tenant_id;size:64;not null;index" json:"tenantId"`
	UserID    string    `gorm:"column:user_id;size:64;not null;index:idx_notifications_user_read,priority:1" json:"userId"`
	Type      Type      `gorm:"column:type;size:32;not null" json:"type"`
	Title     string    `gorm:"column:title;size:255;not null" json:"title"`
	Message   string    `gorm:"column:message;type:text;not null" json:"message"`
	Link      *string   `gorm:"column:link;size:512" json:"link"`
	Read      bool      `gorm:"column:is_read;not null;default:false;index:idx_notifications_user_read,priority:2" json:"read"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index" json:"createdAt"`
}

// TableName exposes the table backing notifications.
func (Notification) TableName() string {
	return "notifications"
}

// NewNotification is the input to Service.Create.
type NewNotification struct {
	TenantID string
	UserID   string
	Type     Type
	Title    string
	Message  string
	Link     string
}

// CountPayload answers notifications:count.
type CountPayload struct {
	Count int64 `json:"count"`
}

// UpdatedPayload confirms notification:read.
type UpdatedPayload struct {
	ID   string `json:"id"`
	Read bool   `json:"read"`
}
