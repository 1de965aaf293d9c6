package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/carecoord/pkg/logger"
)

// PresenceStore mirrors presence changes onto the user directory.
type PresenceStore interface {
	UpdateStatus(ctx context.Context, userID string, online bool, sessionID string, lastSeen time.Time) error
}

// Session is the registry's view of a user's current connection.
type Session struct {
	ID       string
	Online   bool
	LastSeen time.Time
}

// Registry tracks one session per user. The most recent connection wins.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	store    PresenceStore
	now      func() time.Time
	log      *zap.Logger
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry constructs a registry. store may be nil when presence is not persisted.
func NewRegistry(store PresenceStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]Session),
		store:    store,
		now:      time.Now,
		log:      logger.WithModule("realtime"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect records sessionID as the user's current session and marks the user online.
func (r *Registry) Connect(ctx context.Context, userID, sessionID string) Session {
	now := r.now().UTC()
	session := Session{ID: sessionID, Online: true, LastSeen: now}

	r.mu.Lock()
	r.sessions[userID] = session
	r.mu.Unlock()

	r.persist(ctx, userID, session)
	return session
}

// Disconnect marks the user offline when sessionID is still the tracked session.
// It reports whether presence changed; a stale session closing after a newer one connected is ignored.
func (r *Registry) Disconnect(ctx context.Context, userID, sessionID string) (Session, bool) {
	r.mu.Lock()
	current, ok := r.sessions[userID]
	if !ok || current.ID != sessionID {
		r.mu.Unlock()
		return current, false
	}
	current.Online = false
	current.LastSeen = r.now().UTC()
	r.sessions[userID] = current
	r.mu.Unlock()

	r.persist(ctx, userID, current)
	return current, true
}

// Lookup returns the tracked session for userID.
func (r *Registry) Lookup(userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[userID]
	return session, ok
}

// IsOnline reports whether the user currently has a live tracked session.
func (r *Registry) IsOnline(userID string) bool {
	session, ok := r.Lookup(userID)
	return ok && session.Online
}

// OnlineUsers lists users with a live tracked session.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.sessions))
	for userID, session := range r.sessions {
		if session.Online {
			users = append(users, userID)
		}
	}
	return users
}

func (r *Registry) persist(ctx context.Context, userID string, session Session) {
	if r.store == nil {
		return
	}
	if err := r.store.UpdateStatus(ctx, userID, session.Online, session.ID, session.LastSeen); err != nil {
		r.log.Warn("presence update failed",
			zap.String("user_id", userID),
			zap.Bool("online", session.Online),
			zap.Error(err),
		)
	}
}
