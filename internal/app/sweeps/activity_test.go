package sweeps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/carecoord/internal/models"
)

func seedActivity(t *testing.T, f sweepFixture, id, status string, scheduledAt time.Time, notified bool) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.Activity{
		BaseModel:   models.BaseModel{ID: id},
		PatientID:   "patient-1",
		Title:       "Physiotherapy " + id,
		ScheduledAt: scheduledAt,
		Status:      status,
		IsNotified:  notified,
	}).Error)
}

func TestActivitySweepNotifiesDueActivitiesOnce(t *testing.T) {
	f := newSweepFixture(t)
	seedCircle(t, f.db, "patient-1", "carer-1")
	now := at("2024-01-15T10:00:00Z")

	seedActivity(t, f, "due", models.ActivityScheduled, now.Add(-2*time.Minute), false)
	seedActivity(t, f, "stale", models.ActivityScheduled, now.Add(-10*time.Minute), false)
	seedActivity(t, f, "future", models.ActivityScheduled, now.Add(time.Minute), false)
	seedActivity(t, f, "done", models.ActivityScheduled, now.Add(-time.Minute), true)
	seedActivity(t, f, "cancelled", models.ActivityCancelled, now.Add(-time.Minute), false)

	sweep, err := NewActivitySweep(f.db, f.dispatcher, 5*time.Minute)
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background(), now))
	rows := f.notificationsFor(t, "carer-1")
	require.Len(t, rows, 1)
	require.Equal(t, models.NotificationActivity, rows[0].Type)
	require.Equal(t, models.PriorityNormal, rows[0].Priority)

	var due models.Activity
	require.NoError(t, f.db.First(&due, "id = ?", "due").Error)
	require.True(t, due.IsNotified)
	require.NotNil(t, due.NotifiedAt)

	require.NoError(t, sweep.Run(context.Background(), now.Add(time.Minute)))
	require.Len(t, f.notificationsFor(t, "carer-1"), 1)
}

func TestActivitySweepRejectsInvalidLookback(t *testing.T) {
	f := newSweepFixture(t)
	_, err := NewActivitySweep(f.db, f.dispatcher, 0)
	require.Error(t, err)
}
