package directory

import (
	"strings"
	"time"
)

// Status is the lifecycle state shared by users and tenants.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusPending   Status = "PENDING"
)

// Tenant is an organization sharing the process with other tenants.
type Tenant struct {
	ID        string    `gorm:"column:id;primaryKey;size:64"`
	Name      string    `gorm:"column:name;size:190;not null"`
	Status    Status    `gorm:"column:status;size:32;not null;default:ACTIVE"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing tenants.
func (Tenant) TableName() string {
	return "tenants"
}

// User is the subset of the user record the realtime layer consults.
type User struct {
	ID        string    `gorm:"column:id;primaryKey;size:64"`
	TenantID  string    `gorm:"column:tenant_id;size:64;not null;index"`
	Email     string    `gorm:"column:email;size:320;not null"`
	FirstName string    `gorm:"column:first_name;size:120"`
	LastName  string    `gorm:"column:last_name;size:120"`
	AvatarURL string    `gorm:"column:avatar_url;size:512"`
	Role      string    `gorm:"column:role;size:32;not null"`
	Status    Status    `gorm:"column:status;size:32;not null;default:ACTIVE"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
	Tenant    Tenant    `gorm:"foreignKey:TenantID;references:ID"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
