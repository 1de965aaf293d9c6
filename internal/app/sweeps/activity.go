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
	apperrors "github.com/charlesng35/carecoord/pkg/errors"
	"github.com/charlesng35/carecoord/pkg/logger"
)

// ActivitySweep announces scheduled activities whose start falls in (now - lookback, now].
type ActivitySweep struct {
	db       *gorm.DB
	notifier Notifier
	lookback time.Duration
	log      *zap.Logger
}

// NewActivitySweep constructs the activity sweep.
func NewActivitySweep(db *gorm.DB, notifier Notifier, lookback time.Duration) (*ActivitySweep, error) {
	if db == nil || notifier == nil {
		return nil, errors.New("activity sweep: db and notifier are required")
	}
	if lookback <= 0 {
		return nil, errors.New("activity sweep: lookback must be positive")
	}
	return &ActivitySweep{db: db, notifier: notifier, lookback: lookback, log: logger.WithModule("sweeps")}, nil
}

// Name implements Sweep.
func (s *ActivitySweep) Name() string { return "activity" }

// Run implements Sweep.
func (s *ActivitySweep) Run(ctx context.Context, now time.Time) error {
	now = now.UTC()
	var activities []models.Activity
	if err := s.db.WithContext(ctx).
		Where("status = ? AND is_notified = ?", models.ActivityScheduled, false).
		Where("scheduled_at > ? AND scheduled_at <= ?", now.Add(-s.lookback), now).
		Order("scheduled_at ASC").
		Find(&activities).Error; err != nil {
		return fmt.Errorf("activity sweep: load activities: %w", err)
	}

	var errs error
	for _, activity := range activities {
		_, err := s.notifier.NotifyPatientCircle(ctx, activity.PatientID, notifications.Event{
			Title:    "Activity starting",
			Message:  fmt.Sprintf("%s is scheduled for %s", activity.Title, activity.ScheduledAt.UTC().Format("15:04 MST")),
			Priority: models.PriorityNormal,
			Payload: notifications.ActivityPayload{
				ActivityID:  activity.ID,
				PatientID:   activity.PatientID,
				Title:       activity.Title,
				ScheduledAt: activity.ScheduledAt,
			},
		}, notifications.AllChannels())
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			errs = multierr.Append(errs, fmt.Errorf("activity sweep: activity %s: %w", activity.ID, err))
			continue
		}

		if err := s.db.WithContext(ctx).
			Model(&models.Activity{}).
			Where("id = ? AND is_notified = ?", activity.ID, false).
			Updates(map[string]any{"is_notified": true, "notified_at": now}).Error; err != nil {
			errs = multierr.Append(errs, fmt.Errorf("activity sweep: mark activity %s: %w", activity.ID, err))
		}
	}
	if len(activities) > 0 {
		s.log.Info("activity reminders processed", zap.Int("activities", len(activities)))
	}
	return errs
}
