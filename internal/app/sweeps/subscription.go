package sweeps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/carecoord/internal/models"
	"github.com/charlesng35/carecoord/internal/notifications"
	"github.com/charlesng35/carecoord/pkg/logger"
)

var defaultOffsetDays = []int{7, 3, 1}

// SubscriptionSweep warns subscription owners when the current period ends
// exactly N UTC days from now, once per (owner, offset, period end).
type SubscriptionSweep struct {
	db         *gorm.DB
	notifier   Notifier
	dedup      DedupChecker
	offsetDays []int
	log        *zap.Logger
}

// NewSubscriptionSweep constructs the subscription expiry sweep.
func NewSubscriptionSweep(db *gorm.DB, notifier Notifier, dedup DedupChecker, offsetDays []int) (*SubscriptionSweep, error) {
	if db == nil || notifier == nil || dedup == nil {
		return nil, errors.New("subscription sweep: db, notifier and dedup guard are required")
	}
	if len(offsetDays) == 0 {
		offsetDays = defaultOffsetDays
	}
	return &SubscriptionSweep{
		db:         db,
		notifier:   notifier,
		dedup:      dedup,
		offsetDays: offsetDays,
		log:        logger.WithModule("sweeps"),
	}, nil
}

// Name implements Sweep.
func (s *SubscriptionSweep) Name() string { return "subscription" }

// ExpiryTag is the dedup tag for a warning sent days before expiry.
func ExpiryTag(days int) string {
	return fmt.Sprintf("subscription_expiring_%dd", days)
}

// Run implements Sweep.
func (s *SubscriptionSweep) Run(ctx context.Context, now time.Time) error {
	today := startOfUTCDay(now)

	var errs error
	for _, days := range s.offsetDays {
		dayStart := today.AddDate(0, 0, days)
		dayEnd := dayStart.Add(24 * time.Hour)

		var subs []models.Subscription
		if err := s.db.WithContext(ctx).
			Where("status = ?", models.SubscriptionActive).
			Where("current_period_end >= ? AND current_period_end < ?", dayStart, dayEnd).
			Find(&subs).Error; err != nil {
			errs = multierr.Append(errs, fmt.Errorf("subscription sweep: load %dd: %w", days, err))
			continue
		}

		for _, sub := range subs {
			if err := s.warn(ctx, sub, days); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

func (s *SubscriptionSweep) warn(ctx context.Context, sub models.Subscription, days int) error {
	tag := ExpiryTag(days)
	ok, err := s.dedup.ShouldNotify(ctx, sub.UserID, tag, sub.CurrentPeriodEnd)
	if err != nil {
		return fmt.Errorf("subscription sweep: dedup %s: %w", sub.ID, err)
	}
	if !ok {
		return nil
	}

	priority := models.PriorityNormal
	if days <= 1 {
		priority = models.PriorityHigh
	}
	unit := "days"
	if days == 1 {
		unit = "day"
	}

	created, err := s.notifier.NotifyUser(ctx, sub.UserID, notifications.Event{
		Title:    fmt.Sprintf("Subscription expires in %d %s", days, unit),
		Message:  fmt.Sprintf("Your %s plan ends on %s. Renew to keep your care team connected.", sub.Plan, sub.CurrentPeriodEnd.UTC().Format("2006-01-02")),
		Priority: priority,
		Payload: notifications.SubscriptionPayload{
			SubscriptionID: sub.ID,
			Plan:           sub.Plan,
			PeriodEnd:      sub.CurrentPeriodEnd,
			DaysLeft:       days,
			Tag:            tag,
		},
	}, notifications.AllChannels())
	if err != nil {
		return fmt.Errorf("subscription sweep: notify %s: %w", sub.ID, err)
	}
	if len(created) > 0 {
		s.log.Info("subscription expiry warning sent", zap.String("subscription_id", sub.ID), zap.Int("days", days))
	}
	return nil
}
