package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/courier/internal/auth"
	"gorm.io/gorm"
)

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service resolves user identities and their tenant's status from the relational store.
type Service struct {
	db *gorm.DB
}

// NewService constructs the directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("directory: database connection required")
	}
	return &Service{db: cfg.Database}, nil
}

// ResolveIdentity loads the user with its tenant and rejects inactive accounts.
// Status is read on every call so deactivation takes effect on the next handshake.
func (s *Service) ResolveIdentity(ctx context.Context, userID string) (auth.Identity, error) {
	userID = normalize(userID)
	if userID == "" {
		return auth.Identity{}, auth.ErrUserNotFound
	}

	var user User
	err := s.db.WithContext(ctx).
		Preload("Tenant").
		Where("id = ?", userID).
		Take(&user).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auth.Identity{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.Identity{}, fmt.Errorf("directory: load user: %w", err)
	}

	if user.Status != StatusActive {
		return auth.Identity{}, auth.ErrAccountInactive
	}
	if user.Tenant.ID == "" || user.Tenant.Status != StatusActive {
		return auth.Identity{}, auth.ErrTenantInactive
	}

	return auth.Identity{
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Role:      user.Role,
		Email:     normalize(user.Email),
		FirstName: normalize(user.FirstName),
		LastName:  normalize(user.LastName),
		AvatarURL: normalize(user.AvatarURL),
	}, nil
}
