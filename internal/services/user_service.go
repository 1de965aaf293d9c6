package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/carecoord/internal/models"
	apperrors "github.com/charlesng35/carecoord/pkg/errors"
)

// UserService is the narrow user directory the notification engine depends on.
type UserService struct {
	db *gorm.DB
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db}, nil
}

// FindByID loads an active, non-deleted user.
func (s *UserService) FindByID(ctx context.Context, userID string) (*models.User, error) {
	ctx = ensureContext(ctx)
	var user models.User
	if err := s.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", strings.TrimSpace(userID), true).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("user")
		}
		return nil, fmt.Errorf("user service: find user: %w", err)
	}
	return &user, nil
}

// UpdateStatus mirrors realtime presence onto the user row.
func (s *UserService) UpdateStatus(ctx context.Context, userID string, online bool, sessionID string, lastSeen time.Time) error {
	ctx = ensureContext(ctx)
	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", strings.TrimSpace(userID)).
		Updates(map[string]any{
			"is_online":    online,
			"session_id":   sessionID,
			"last_seen_at": lastSeen.UTC(),
		}).Error; err != nil {
		return fmt.Errorf("user service: update status: %w", err)
	}
	return nil
}

// SetPushToken registers the user's device token, replacing any previous one.
func (s *UserService) SetPushToken(ctx context.Context, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperrors.NewBadRequest("push token is required")
	}
	return s.updatePushToken(ctx, userID, &token)
}

// ClearPushToken removes the user's device token.
func (s *UserService) ClearPushToken(ctx context.Context, userID string) error {
	return s.updatePushToken(ctx, userID, nil)
}

func (s *UserService) updatePushToken(ctx context.Context, userID string, token *string) error {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperrors.ErrUnauthorized
	}

	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("push_token", token)
	if result.Error != nil {
		return fmt.Errorf("user service: update push token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFound("user")
	}
	return nil
}
