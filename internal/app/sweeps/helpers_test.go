package sweeps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/carecoord/internal/database/testutil"
	"github.com/charlesng35/carecoord/internal/models"
	"github.com/charlesng35/carecoord/internal/notifications"
	"github.com/charlesng35/carecoord/internal/services"
)

type sweepFixture struct {
	db         *gorm.DB
	dispatcher *notifications.Dispatcher
	dedup      *notifications.DedupGuard
}

func newSweepFixture(t *testing.T) sweepFixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	store, err := services.NewNotificationService(db, nil)
	require.NoError(t, err)
	resolver, err := notifications.NewResolver(db)
	require.NoError(t, err)
	users, err := services.NewUserService(db)
	require.NoError(t, err)
	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherConfig{
		Store:    store,
		Resolver: resolver,
		Users:    users,
	})
	require.NoError(t, err)
	dedup, err := notifications.NewDedupGuard(db)
	require.NoError(t, err)

	return sweepFixture{db: db, dispatcher: dispatcher, dedup: dedup}
}

func (f sweepFixture) notificationsFor(t *testing.T, userID string) []models.Notification {
	t.Helper()
	var rows []models.Notification
	require.NoError(t, f.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&rows).Error)
	return rows
}

func seedUser(t *testing.T, db *gorm.DB, id string, role models.UserRole) {
	t.Helper()
	require.NoError(t, db.Create(&models.User{
		BaseModel: models.BaseModel{ID: id},
		Name:      id,
		Email:     id + "@example.com",
		Role:      role,
		IsActive:  true,
	}).Error)
}

// seedCircle creates a patient with one caregiver.
func seedCircle(t *testing.T, db *gorm.DB, patientID, caregiverID string) {
	t.Helper()
	seedUser(t, db, caregiverID, models.RoleCaregiver)
	require.NoError(t, db.Create(&models.Patient{
		BaseModel: models.BaseModel{ID: patientID},
		Name:      patientID,
		IsActive:  true,
	}).Error)
	require.NoError(t, db.Table("patient_caregivers").Create(map[string]any{"patient_id": patientID, "user_id": caregiverID}).Error)
}

func at(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return parsed
}
