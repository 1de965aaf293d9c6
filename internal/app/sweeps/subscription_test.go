package sweeps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/carecoord/internal/models"
)

func seedSubscription(t *testing.T, f sweepFixture, id, ownerID string, periodEnd time.Time) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.Subscription{
		BaseModel:        models.BaseModel{ID: id},
		UserID:           ownerID,
		Plan:             "clinic",
		Status:           models.SubscriptionActive,
		CurrentPeriodEnd: periodEnd,
	}).Error)
}

func TestSubscriptionSweepWarnsOncePerOffset(t *testing.T) {
	f := newSweepFixture(t)
	seedUser(t, f.db, "owner-1", models.RoleHospital)
	seedUser(t, f.db, "owner-2", models.RoleHospital)
	now := at("2024-01-15T09:00:00Z")

	seedSubscription(t, f, "sub-7", "owner-1", at("2024-01-22T18:30:00Z"))
	seedSubscription(t, f, "sub-5", "owner-2", at("2024-01-20T12:00:00Z"))

	sweep, err := NewSubscriptionSweep(f.db, f.dispatcher, f.dedup, nil)
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background(), now))
	require.NoError(t, sweep.Run(context.Background(), now.Add(time.Hour)))

	rows := f.notificationsFor(t, "owner-1")
	require.Len(t, rows, 1)
	require.Equal(t, models.NotificationSystem, rows[0].Type)
	require.NotNil(t, rows[0].DedupTag)
	require.Equal(t, "subscription_expiring_7d", *rows[0].DedupTag)
	require.NotNil(t, rows[0].DedupReference)
	require.True(t, rows[0].DedupReference.Equal(at("2024-01-22T18:30:00Z")))

	require.Empty(t, f.notificationsFor(t, "owner-2"))
}

func TestSubscriptionSweepLastDayIsHighPriority(t *testing.T) {
	f := newSweepFixture(t)
	seedUser(t, f.db, "owner-1", models.RoleHospital)
	seedSubscription(t, f, "sub-1", "owner-1", at("2024-01-16T00:00:00Z"))

	sweep, err := NewSubscriptionSweep(f.db, f.dispatcher, f.dedup, []int{1})
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T23:59:00Z")))
	rows := f.notificationsFor(t, "owner-1")
	require.Len(t, rows, 1)
	require.Equal(t, models.PriorityHigh, rows[0].Priority)
	require.Equal(t, "Subscription expires in 1 day", rows[0].Title)
}

func TestSubscriptionSweepIgnoresCanceledPlans(t *testing.T) {
	f := newSweepFixture(t)
	seedUser(t, f.db, "owner-1", models.RoleHospital)
	seedSubscription(t, f, "sub-1", "owner-1", at("2024-01-18T10:00:00Z"))
	require.NoError(t, f.db.Model(&models.Subscription{}).Where("id = ?", "sub-1").Update("status", models.SubscriptionCanceled).Error)

	sweep, err := NewSubscriptionSweep(f.db, f.dispatcher, f.dedup, nil)
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T09:00:00Z")))
	require.Empty(t, f.notificationsFor(t, "owner-1"))
}

func TestExpiryTag(t *testing.T) {
	require.Equal(t, "subscription_expiring_3d", ExpiryTag(3))
}
