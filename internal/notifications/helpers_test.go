package notifications

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/carecoord/internal/models"
	"github.com/charlesng35/carecoord/internal/push"
)

func seedUser(t *testing.T, db *gorm.DB, id string, role models.UserRole, mutate ...func(*models.User)) models.User {
	t.Helper()
	user := models.User{
		BaseModel: models.BaseModel{ID: id},
		Name:      id,
		Email:     id + "@example.com",
		Role:      role,
		IsActive:  true,
	}
	for _, fn := range mutate {
		fn(&user)
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func seedPatient(t *testing.T, db *gorm.DB, id string, hospitalID *string, caregivers, family []string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Patient{
		BaseModel:  models.BaseModel{ID: id},
		Name:       id,
		HospitalID: hospitalID,
		IsActive:   true,
	}).Error)
	for _, userID := range caregivers {
		require.NoError(t, db.Table("patient_caregivers").Create(map[string]any{"patient_id": id, "user_id": userID}).Error)
	}
	for _, userID := range family {
		require.NoError(t, db.Table("patient_family_members").Create(map[string]any{"patient_id": id, "user_id": userID}).Error)
	}
}

func strPtr(s string) *string { return &s }

type emitted struct {
	UserID  string
	Event   string
	Payload any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) EmitToUser(userID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{UserID: userID, Event: event, Payload: payload})
}

func (f *fakeEmitter) all() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.events...)
}

type pushCall struct {
	UserIDs []string
	Message push.Message
	Data    map[string]any
}

type fakePush struct {
	mu    sync.Mutex
	calls []pushCall
	err   error
}

func (f *fakePush) SendToUsers(_ context.Context, userIDs []string, msg push.Message, data map[string]any) (push.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pushCall{UserIDs: userIDs, Message: msg, Data: data})
	if f.err != nil {
		return push.Result{}, f.err
	}
	return push.Result{Success: len(userIDs)}, nil
}

func (f *fakePush) sent() []pushCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pushCall(nil), f.calls...)
}
