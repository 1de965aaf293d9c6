package sweeps

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/carecoord/internal/models"
	"github.com/charlesng35/carecoord/internal/notifications"
	apperrors "github.com/charlesng35/carecoord/pkg/errors"
	"github.com/charlesng35/carecoord/pkg/logger"
)

const slotKeyLayout = "2006-01-02T15:04Z07:00"

// endDateSlack covers the widest gap between an end date's UTC midnight and the last
// local slot of that day in any timezone.
const endDateSlack = 48 * time.Hour

// MedicationSweep notifies a patient's care circle when a daily dose slot falls due.
// A slot is due when its instant lies in (now - lookback, now]. LastNotifiedSlot holds
// the key of the latest slot already announced so a slot fires once however many ticks
// overlap its window. EndDate is an inclusive calendar day in the reminder's timezone.
type MedicationSweep struct {
	db       *gorm.DB
	notifier Notifier
	lookback time.Duration
	log      *zap.Logger
}

// NewMedicationSweep constructs the medication sweep.
func NewMedicationSweep(db *gorm.DB, notifier Notifier, lookback time.Duration) (*MedicationSweep, error) {
	if db == nil || notifier == nil {
		return nil, errors.New("medication sweep: db and notifier are required")
	}
	if lookback <= 0 {
		return nil, errors.New("medication sweep: lookback must be positive")
	}
	return &MedicationSweep{db: db, notifier: notifier, lookback: lookback, log: logger.WithModule("sweeps")}, nil
}

// Name implements Sweep.
func (s *MedicationSweep) Name() string { return "medication" }

type dueSlot struct {
	key   string
	label string
	at    time.Time
}

// Run implements Sweep.
func (s *MedicationSweep) Run(ctx context.Context, now time.Time) error {
	var reminders []models.MedicationReminder
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.ReminderActive).
		Where("start_date <= ?", now.UTC()).
		Where("end_date IS NULL OR end_date >= ?", now.UTC().Add(-(endDateSlack+s.lookback))).
		Find(&reminders).Error; err != nil {
		return fmt.Errorf("medication sweep: load reminders: %w", err)
	}

	var errs error
	notified := 0
	for i := range reminders {
		reminder := &reminders[i]
		for _, slot := range s.dueSlots(reminder, now) {
			if err := s.notify(ctx, reminder, slot, now); err != nil {
				errs = multierr.Append(errs, err)
				break
			}
			notified++
		}
	}
	if notified > 0 {
		s.log.Info("medication reminders sent", zap.Int("slots", notified))
	}
	return errs
}

// dueSlots returns the slots inside the window that are later than the last announced slot, oldest first.
func (s *MedicationSweep) dueSlots(reminder *models.MedicationReminder, now time.Time) []dueSlot {
	loc := time.UTC
	if tz := strings.TrimSpace(reminder.Timezone); tz != "" {
		if loaded, err := time.LoadLocation(tz); err == nil {
			loc = loaded
		} else {
			s.log.Warn("unknown reminder timezone, using UTC", zap.String("reminder_id", reminder.ID), zap.String("timezone", tz))
		}
	}

	var lastDay time.Time
	if reminder.EndDate != nil {
		lastDay = calendarDay(reminder.EndDate.UTC())
	}

	windowStart := now.Add(-s.lookback)
	local := now.In(loc)
	seen := make(map[string]struct{})
	var slots []dueSlot
	for _, raw := range reminder.SpecificTimes {
		clock, err := time.Parse("15:04", strings.TrimSpace(raw))
		if err != nil {
			s.log.Warn("invalid reminder time", zap.String("reminder_id", reminder.ID), zap.String("time", raw))
			continue
		}
		// The window can straddle local midnight.
		for _, day := range []time.Time{local.AddDate(0, 0, -1), local} {
			at := time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
			if !at.After(windowStart) || at.After(now) {
				continue
			}
			if !lastDay.IsZero() && calendarDay(at).After(lastDay) {
				continue
			}
			key := at.UTC().Format(slotKeyLayout)
			if _, dup := seen[key]; dup || key <= reminder.LastNotifiedSlot {
				continue
			}
			seen[key] = struct{}{}
			slots = append(slots, dueSlot{key: key, label: clock.Format("15:04"), at: at})
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].key < slots[j].key })
	return slots
}

// calendarDay keeps only the date of t as seen in its own location.
func calendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *MedicationSweep) notify(ctx context.Context, reminder *models.MedicationReminder, slot dueSlot, now time.Time) error {
	message := fmt.Sprintf("Time to take %s at %s", reminder.MedicationName, slot.label)
	if dosage := strings.TrimSpace(reminder.Dosage); dosage != "" {
		message = fmt.Sprintf("Time to take %s (%s) at %s", reminder.MedicationName, dosage, slot.label)
	}

	_, err := s.notifier.NotifyPatientCircle(ctx, reminder.PatientID, notifications.Event{
		Title:    "Medication reminder",
		Message:  message,
		Priority: models.PriorityHigh,
		Payload: notifications.MedicationPayload{
			ReminderID:     reminder.ID,
			PatientID:      reminder.PatientID,
			MedicationName: reminder.MedicationName,
			Dosage:         reminder.Dosage,
			Slot:           slot.label,
			DueAt:          slot.at,
		},
	}, notifications.AllChannels())
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("medication sweep: reminder %s: %w", reminder.ID, err)
	}
	if err != nil {
		s.log.Warn("medication reminder for unknown patient", zap.String("reminder_id", reminder.ID), zap.String("patient_id", reminder.PatientID))
	}

	notifiedAt := now.UTC()
	result := s.db.WithContext(ctx).
		Model(&models.MedicationReminder{}).
		Where("id = ? AND COALESCE(last_notified_slot, '') = ?", reminder.ID, reminder.LastNotifiedSlot).
		Updates(map[string]any{
			"last_notified_at":   notifiedAt,
			"last_notified_slot": slot.key,
		})
	if result.Error != nil {
		return fmt.Errorf("medication sweep: mark reminder %s: %w", reminder.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		s.log.Warn("medication reminder advanced concurrently", zap.String("reminder_id", reminder.ID))
	}
	reminder.LastNotifiedAt = &notifiedAt
	reminder.LastNotifiedSlot = slot.key
	return nil
}
