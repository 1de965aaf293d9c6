package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/carecoord/internal/models"
)

func TestAutoMigrateCreatesTables(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	for _, model := range []any{
		&models.User{},
		&models.Patient{},
		&models.Notification{},
		&models.MedicationReminder{},
		&models.RiskAssessment{},
		&models.MessageDeletion{},
	} {
		require.True(t, migrator.HasTable(model), "expected table for %T", model)
	}
	require.True(t, migrator.HasTable("patient_caregivers"))
	require.True(t, migrator.HasIndex(&models.Notification{}, "idx_notifications_dedup"))
}

func TestNotificationDedupIndexRejectsDuplicates(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	tag := "subscription_expiring_7d"
	ref := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	first := models.Notification{UserID: "u1", Type: models.NotificationSystem, Priority: models.PriorityNormal, Title: "a", DedupTag: &tag, DedupReference: &ref, ChannelInApp: true}
	require.NoError(t, db.Create(&first).Error)

	dup := models.Notification{UserID: "u1", Type: models.NotificationSystem, Priority: models.PriorityNormal, Title: "b", DedupTag: &tag, DedupReference: &ref, ChannelInApp: true}
	require.Error(t, db.Create(&dup).Error)

	// Rows without dedup fields never collide.
	for i := 0; i < 2; i++ {
		plain := models.Notification{UserID: "u1", Type: models.NotificationSystem, Priority: models.PriorityNormal, Title: "plain", ChannelInApp: true}
		require.NoError(t, db.Create(&plain).Error)
	}
}

func TestAutoMigrateNilHandle(t *testing.T) {
	require.Error(t, AutoMigrate(nil))
}
