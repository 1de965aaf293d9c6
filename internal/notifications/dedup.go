package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/carecoord/internal/models"
	"github.com/charlesng35/carecoord/internal/services"
)

// DedupGuard is the fast-path duplicate check for sweep notifications. The unique
// index on (user_id, dedup_tag, dedup_reference) remains the authoritative guard.
type DedupGuard struct {
	db *gorm.DB
}

// NewDedupGuard constructs a DedupGuard.
func NewDedupGuard(db *gorm.DB) (*DedupGuard, error) {
	if db == nil {
		return nil, errors.New("dedup guard: db is required")
	}
	return &DedupGuard{db: db}, nil
}

// ShouldNotify reports false when recipientID already holds a non-deleted notification
// with exactly this tag and reference timestamp.
func (g *DedupGuard) ShouldNotify(ctx context.Context, recipientID, tag string, reference time.Time) (bool, error) {
	recipientID = strings.TrimSpace(recipientID)
	tag = strings.TrimSpace(tag)
	if recipientID == "" || tag == "" {
		return false, errors.New("dedup guard: recipient and tag are required")
	}

	var count int64
	if err := g.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND dedup_tag = ? AND dedup_reference = ? AND is_deleted = ?",
			recipientID, tag, services.NormaliseDedupReference(reference), false).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("dedup guard: lookup: %w", err)
	}
	return count == 0, nil
}
