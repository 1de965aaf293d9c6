package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/carecoord/internal/models"
)

type emittedEvent struct {
	Target  string
	Event   string
	Payload any
	Exclude string
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emittedEvent
}

func (r *recordingEmitter) EmitToUser(userID, event string, payload any) {
	r.record(emittedEvent{Target: "user:" + userID, Event: event, Payload: payload})
}

func (r *recordingEmitter) EmitToUsers(userIDs []string, event string, payload any) {
	for _, id := range userIDs {
		r.EmitToUser(id, event, payload)
	}
}

func (r *recordingEmitter) EmitToConversation(conversationID, event string, payload any, excludeConnID string) {
	r.record(emittedEvent{Target: "conversation:" + conversationID, Event: event, Payload: payload, Exclude: excludeConnID})
}

func (r *recordingEmitter) record(event emittedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) named(event string) []emittedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emittedEvent
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func seedUser(t *testing.T, db *gorm.DB, id string, role models.UserRole) models.User {
	t.Helper()
	user := models.User{
		BaseModel: models.BaseModel{ID: id},
		Name:      id,
		Email:     id + "@example.com",
		Role:      role,
		IsActive:  true,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}
