package sweeps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/charlesng35/carecoord/internal/models"
)

func seedReminder(t *testing.T, f sweepFixture, id, patientID, timezone string, times ...string) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.MedicationReminder{
		BaseModel:      models.BaseModel{ID: id},
		PatientID:      patientID,
		MedicationName: "Metformin",
		Dosage:         "500mg",
		SpecificTimes:  datatypes.JSONSlice[string](times),
		Timezone:       timezone,
		Status:         models.ReminderActive,
		StartDate:      at("2024-01-01T00:00:00Z"),
	}).Error)
}

func loadReminder(t *testing.T, f sweepFixture, id string) models.MedicationReminder {
	t.Helper()
	var reminder models.MedicationReminder
	require.NoError(t, f.db.First(&reminder, "id = ?", id).Error)
	return reminder
}

func TestMedicationSweepFiresSlotOnce(t *testing.T) {
	f := newSweepFixture(t)
	seedCircle(t, f.db, "patient-1", "carer-1")
	seedReminder(t, f, "rem-1", "patient-1", "UTC", "08:00")

	sweep, err := NewMedicationSweep(f.db, f.dispatcher, 5*time.Minute)
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T08:02:00Z")))

	rows := f.notificationsFor(t, "carer-1")
	require.Len(t, rows, 1)
	require.Equal(t, models.NotificationMedication, rows[0].Type)
	require.Equal(t, models.PriorityHigh, rows[0].Priority)
	require.NotNil(t, rows[0].PatientID)
	require.Equal(t, "patient-1", *rows[0].PatientID)

	reminder := loadReminder(t, f, "rem-1")
	require.NotNil(t, reminder.LastNotifiedAt)
	require.Equal(t, "2024-01-15T08:00Z", reminder.LastNotifiedSlot)

	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T08:04:00Z")))
	require.Len(t, f.notificationsFor(t, "carer-1"), 1)
}

func TestMedicationSweepIgnoresSlotsOutsideWindow(t *testing.T) {
	f := newSweepFixture(t)
	seedCircle(t, f.db, "patient-1", "carer-1")
	seedReminder(t, f, "rem-1", "patient-1", "UTC", "08:00")

	sweep, err := NewMedicationSweep(f.db, f.dispatcher, 5*time.Minute)
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T07:59:00Z")))
	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T08:06:00Z")))
	require.Empty(t, f.notificationsFor(t, "carer-1"))
}

func TestMedicationSweepAdjacentSlots(t *testing.T) {
	f := newSweepFixture(t)
	seedCircle(t, f.db, "patient-1", "carer-1")
	seedReminder(t, f, "rem-1", "patient-1", "UTC", "08:03", "08:00")

	sweep, err := NewMedicationSweep(f.db, f.dispatcher, 5*time.Minute)
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T08:02:00Z")))
	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T08:04:00Z")))
	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T08:05:00Z")))

	rows := f.notificationsFor(t, "carer-1")
	require.Len(t, rows, 2)
	require.Equal(t, "2024-01-15T08:03Z", loadReminder(t, f, "rem-1").LastNotifiedSlot)
}

func TestMedicationSweepUsesReminderTimezone(t *testing.T) {
	f := newSweepFixture(t)
	seedCircle(t, f.db, "patient-1", "carer-1")
	seedReminder(t, f, "rem-1", "patient-1", "America/New_York", "08:00")

	sweep, err := NewMedicationSweep(f.db, f.dispatcher, 5*time.Minute)
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T08:02:00Z")))
	require.Empty(t, f.notificationsFor(t, "carer-1"))

	// 08:00 EST is 13:00 UTC in January.
	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T13:01:00Z")))
	require.Len(t, f.notificationsFor(t, "carer-1"), 1)
	require.Equal(t, "2024-01-15T13:00Z", loadReminder(t, f, "rem-1").LastNotifiedSlot)
}

func TestMedicationSweepWindowAcrossMidnight(t *testing.T) {
	f := newSweepFixture(t)
	seedCircle(t, f.db, "patient-1", "carer-1")
	seedReminder(t, f, "rem-1", "patient-1", "UTC", "23:58")

	sweep, err := NewMedicationSweep(f.db, f.dispatcher, 5*time.Minute)
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background(), at("2024-01-16T00:01:00Z")))
	require.Len(t, f.notificationsFor(t, "carer-1"), 1)
	require.Equal(t, "2024-01-15T23:58Z", loadReminder(t, f, "rem-1").LastNotifiedSlot)
}

func TestMedicationSweepSkipsInactiveAndExpiredReminders(t *testing.T) {
	f := newSweepFixture(t)
	seedCircle(t, f.db, "patient-1", "carer-1")
	seedReminder(t, f, "paused", "patient-1", "UTC", "08:00")
	seedReminder(t, f, "ended", "patient-1", "UTC", "08:00")
	require.NoError(t, f.db.Model(&models.MedicationReminder{}).Where("id = ?", "paused").Update("status", models.ReminderPaused).Error)
	require.NoError(t, f.db.Model(&models.MedicationReminder{}).Where("id = ?", "ended").Update("end_date", at("2024-01-10T00:00:00Z")).Error)

	sweep, err := NewMedicationSweep(f.db, f.dispatcher, 5*time.Minute)
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T08:02:00Z")))
	require.Empty(t, f.notificationsFor(t, "carer-1"))
}

func TestMedicationSweepFiresDosesOnFinalDay(t *testing.T) {
	f := newSweepFixture(t)
	seedCircle(t, f.db, "patient-1", "carer-1")
	seedReminder(t, f, "utc", "patient-1", "UTC", "08:00")
	seedReminder(t, f, "east", "patient-1", "America/New_York", "08:00")
	require.NoError(t, f.db.Model(&models.MedicationReminder{}).
		Where("id IN ?", []string{"utc", "east"}).
		Update("end_date", at("2024-01-15T00:00:00Z")).Error)

	sweep, err := NewMedicationSweep(f.db, f.dispatcher, 5*time.Minute)
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T08:02:00Z")))
	require.Equal(t, "2024-01-15T08:00Z", loadReminder(t, f, "utc").LastNotifiedSlot)

	// 08:00 EST on the final day is 13:00 UTC.
	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T13:01:00Z")))
	require.Equal(t, "2024-01-15T13:00Z", loadReminder(t, f, "east").LastNotifiedSlot)
	require.Len(t, f.notificationsFor(t, "carer-1"), 2)

	require.NoError(t, sweep.Run(context.Background(), at("2024-01-16T08:02:00Z")))
	require.NoError(t, sweep.Run(context.Background(), at("2024-01-16T13:01:00Z")))
	require.Len(t, f.notificationsFor(t, "carer-1"), 2)
}

func TestMedicationSweepMarksReminderForUnknownPatient(t *testing.T) {
	f := newSweepFixture(t)
	seedReminder(t, f, "rem-1", "ghost", "UTC", "08:00")

	sweep, err := NewMedicationSweep(f.db, f.dispatcher, 5*time.Minute)
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T08:02:00Z")))
	require.Equal(t, "2024-01-15T08:00Z", loadReminder(t, f, "rem-1").LastNotifiedSlot)
}
