package notifications

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/carecoord/internal/models"
	"github.com/charlesng35/carecoord/internal/push"
	"github.com/charlesng35/carecoord/internal/realtime"
	"github.com/charlesng35/carecoord/internal/services"
	"github.com/charlesng35/carecoord/internal/worker"
	apperrors "github.com/charlesng35/carecoord/pkg/errors"
	"github.com/charlesng35/carecoord/pkg/logger"
)

const defaultPushTimeout = 10 * time.Second

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, input services.CreateNotificationInput) ([]services.NotificationDTO, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

// RecipientResolver computes recipient sets.
type RecipientResolver interface {
	ResolveForPatient(ctx context.Context, patientID string) (RecipientSet, error)
	ResolveHospitalStaff(ctx context.Context, hospitalAdminID string, roles []models.UserRole, excludeUserID string) ([]string, error)
	ResolveSuperAdmins(ctx context.Context) ([]string, error)
}

// Emitter delivers realtime events to a user's sessions.
type Emitter interface {
	EmitToUser(userID, event string, payload any)
}

// PushSender delivers mobile push notifications.
type PushSender interface {
	SendToUsers(ctx context.Context, userIDs []string, msg push.Message, data map[string]any) (push.Result, error)
}

// TaskRunner runs push delivery off the caller's goroutine.
type TaskRunner interface {
	SubmitDetached(task worker.Task) error
}

// UserLookup loads the recipient for role-guarded sends.
type UserLookup interface {
	FindByID(ctx context.Context, userID string) (*models.User, error)
}

// CountPayload accompanies notification:count.
type CountPayload struct {
	Delta  int   `json:"delta"`
	Unread int64 `json:"unread"`
}

// DispatcherConfig wires the dispatcher's collaborators. Only Store is required.
type DispatcherConfig struct {
	Store       Store
	Resolver    RecipientResolver
	Emitter     Emitter
	Push        PushSender
	Pool        TaskRunner
	Users       UserLookup
	PushTimeout time.Duration
}

// Dispatcher persists notifications and then fans them out to the realtime and
// push channels. Channel failures are logged and never returned.
type Dispatcher struct {
	store       Store
	resolver    RecipientResolver
	emitter     Emitter
	push        PushSender
	pool        TaskRunner
	users       UserLookup
	pushTimeout time.Duration
	log         *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, errors.New("dispatcher: store is required")
	}
	timeout := cfg.PushTimeout
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	return &Dispatcher{
		store:       cfg.Store,
		resolver:    cfg.Resolver,
		emitter:     cfg.Emitter,
		push:        cfg.Push,
		pool:        cfg.Pool,
		users:       cfg.Users,
		pushTimeout: timeout,
		log:         logger.WithModule("dispatcher"),
	}, nil
}

// NotifyUsers stores one notification per recipient, emits realtime events for each stored
// record and schedules a single push dispatch for all of them. The stored records are returned
// whatever the channels do; only a store failure for the whole batch is an error.
func (d *Dispatcher) NotifyUsers(ctx context.Context, recipientIDs []string, event Event, opts Options) ([]services.NotificationDTO, error) {
	recipients := uniqueIDs(recipientIDs)
	if len(recipients) == 0 {
		return []services.NotificationDTO{}, nil
	}

	input := services.CreateNotificationInput{
		RecipientIDs: recipients,
		Type:         event.Type(),
		Priority:     event.Priority,
		Title:        event.Title,
		Message:      event.Message,
		PatientID:    event.PatientID,
	}
	if event.Payload != nil {
		input.Data = event.Payload.Render()
		if keyed, ok := event.Payload.(Deduplicated); ok {
			tag, reference := keyed.DedupKey()
			input.DedupTag = tag
			input.DedupReference = &reference
		}
	}

	created, err := d.store.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return created, nil
	}

	if opts.EmitEvent {
		d.emitCreated(ctx, created, opts.EmitCount)
	}
	if opts.SendPush {
		d.schedulePush(created, event, input.Data)
	}
	return created, nil
}

// NotifyUser notifies a single user. When requireRole is given and the user does not
// hold one of those roles the call does nothing.
func (d *Dispatcher) NotifyUser(ctx context.Context, userID string, event Event, opts Options, requireRole ...models.UserRole) ([]services.NotificationDTO, error) {
	if len(requireRole) > 0 {
		if d.users == nil {
			return []services.NotificationDTO{}, nil
		}
		user, err := d.users.FindByID(ctx, userID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return []services.NotificationDTO{}, nil
			}
			return nil, err
		}
		if !hasRole(user.Role, requireRole) {
			d.log.Debug("notify user skipped: role mismatch",
				zap.String("user_id", userID),
				zap.String("role", string(user.Role)),
			)
			return []services.NotificationDTO{}, nil
		}
	}
	return d.NotifyUsers(ctx, []string{userID}, event, opts)
}

// NotifySuperAdmins notifies every active super admin.
func (d *Dispatcher) NotifySuperAdmins(ctx context.Context, event Event, opts Options) ([]services.NotificationDTO, error) {
	if d.resolver == nil {
		return nil, errors.New("dispatcher: resolver is required")
	}
	ids, err := d.resolver.ResolveSuperAdmins(ctx)
	if err != nil {
		return nil, err
	}
	return d.NotifyUsers(ctx, ids, event, opts)
}

// NotifyHospitalStaff notifies the hospital's active staff holding one of roles.
func (d *Dispatcher) NotifyHospitalStaff(ctx context.Context, hospitalAdminID string, roles []models.UserRole, excludeUserID string, event Event, opts Options) ([]services.NotificationDTO, error) {
	if d.resolver == nil {
		return nil, errors.New("dispatcher: resolver is required")
	}
	ids, err := d.resolver.ResolveHospitalStaff(ctx, hospitalAdminID, roles, excludeUserID)
	if err != nil {
		return nil, err
	}
	return d.NotifyUsers(ctx, ids, event, opts)
}

// NotifyPatientCircle notifies the patient's hospital admin, caregivers and family.
func (d *Dispatcher) NotifyPatientCircle(ctx context.Context, patientID string, event Event, opts Options) ([]services.NotificationDTO, error) {
	if d.resolver == nil {
		return nil, errors.New("dispatcher: resolver is required")
	}
	set, err := d.resolver.ResolveForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if event.PatientID == nil {
		id := patientID
		event.PatientID = &id
	}
	return d.NotifyUsers(ctx, set.All, event, opts)
}

// NotifyNewMessage implements services.MessageNotifier.
func (d *Dispatcher) NotifyNewMessage(ctx context.Context, message services.MessageDTO, recipientIDs []string) {
	_, err := d.NotifyUsers(ctx, recipientIDs, Event{
		Title:    "New message",
		Message:  truncate(message.Content, 120),
		Priority: models.PriorityNormal,
		Payload: MessagePayload{
			ConversationID: message.ConversationID,
			MessageID:      message.ID,
			SenderID:       message.SenderID,
		},
	}, AllChannels())
	if err != nil {
		d.log.Warn("message notification failed",
			zap.String("conversation_id", message.ConversationID),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) emitCreated(ctx context.Context, created []services.NotificationDTO, withCount bool) {
	if d.emitter == nil {
		return
	}
	for i := range created {
		record := created[i]
		d.emitter.EmitToUser(record.UserID, realtime.EventNotificationNew, services.NotificationEventPayload{
			Notification:   &record,
			NotificationID: record.ID,
		})
		if !withCount {
			continue
		}
		unread, err := d.store.UnreadCount(ctx, record.UserID)
		if err != nil {
			d.log.Warn("unread count failed", zap.String("user_id", record.UserID), zap.Error(err))
			continue
		}
		d.emitter.EmitToUser(record.UserID, realtime.EventNotificationCount, CountPayload{Delta: 1, Unread: unread})
	}
}

func (d *Dispatcher) schedulePush(created []services.NotificationDTO, event Event, rendered map[string]any) {
	if d.push == nil {
		return
	}

	recipients := make([]string, 0, len(created))
	for _, record := range created {
		recipients = append(recipients, record.UserID)
	}
	first := created[0]
	msg := push.Message{Title: first.Title, Body: first.Message}
	data := make(map[string]any, len(rendered)+3)
	for k, v := range rendered {
		data[k] = v
	}
	data["type"] = string(first.Type)
	data["priority"] = string(first.Priority)
	if event.PatientID != nil {
		data["patientId"] = *event.PatientID
	}

	task := func(ctx context.Context) {
		sendCtx, cancel := context.WithTimeout(ctx, d.pushTimeout)
		defer cancel()

		result, err := d.push.SendToUsers(sendCtx, recipients, msg, data)
		if err != nil {
			d.log.Warn("push dispatch failed",
				zap.String("type", string(first.Type)),
				zap.Int("recipients", len(recipients)),
				zap.Error(err),
			)
			return
		}
		d.log.Debug("push dispatch finished",
			zap.String("type", string(first.Type)),
			zap.Int("success", result.Success),
			zap.Int("failure", result.Failure),
			zap.Int("invalid_tokens", result.InvalidTokens),
		)
	}

	if d.pool == nil {
		task(context.Background())
		return
	}
	if err := d.pool.SubmitDetached(task); err != nil {
		d.log.Warn("push dispatch not scheduled", zap.Error(err))
	}
}

func hasRole(role models.UserRole, allowed []models.UserRole) bool {
	for _, want := range allowed {
		if role == want {
			return true
		}
	}
	return false
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}
