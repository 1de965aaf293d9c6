package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/carecoord/internal/models"
	"github.com/charlesng35/carecoord/internal/realtime"
	apperrors "github.com/charlesng35/carecoord/pkg/errors"
	"github.com/charlesng35/carecoord/pkg/logger"
	"github.com/charlesng35/carecoord/pkg/metrics"
)

const dailyDateLayout = "2006-01-02"

// NotificationChannels reports which delivery channels a notification was intended for.
type NotificationChannels struct {
	InApp bool `json:"inApp"`
	Email bool `json:"email"`
}

// NotificationDTO is the API representation of a notification.
type NotificationDTO struct {
	ID             string                      `json:"id"`
	UserID         string                      `json:"userId"`
	PatientID      *string                     `json:"patientId,omitempty"`
	Type           models.NotificationType     `json:"type"`
	Priority       models.NotificationPriority `json:"priority"`
	Title          string                      `json:"title"`
	Message        string                      `json:"message"`
	Data           map[string]any              `json:"data,omitempty"`
	Channels       NotificationChannels        `json:"channels"`
	IsRead         bool                        `json:"isRead"`
	ReadAt         *time.Time                  `json:"readAt"`
	IsAcknowledged bool                        `json:"isAcknowledged"`
	AcknowledgedAt *time.Time                  `json:"acknowledgedAt"`
	CreatedAt      time.Time                   `json:"createdAt"`
	UpdatedAt      time.Time                   `json:"updatedAt"`
}

// CreateNotificationInput describes one notification fanned out to every recipient.
type CreateNotificationInput struct {
	RecipientIDs []string
	Type         models.NotificationType
	Priority     models.NotificationPriority
	Title        string
	Message      string
	Data         map[string]any
	PatientID    *string
	// DedupTag and DedupReference are set only by sweeps. The store's unique index
	// rejects a second row for the same (recipient, tag, reference).
	DedupTag       string
	DedupReference *time.Time
	ChannelEmail   bool
}

// ListNotificationsInput filters a user's notification feed.
type ListNotificationsInput struct {
	UserID   string
	Type     models.NotificationType
	Priority models.NotificationPriority
	IsRead   *bool
	Since    *time.Time
	Page     int
	Limit    int
}

// NotificationPage is a page of a user's feed.
type NotificationPage struct {
	Items   []NotificationDTO `json:"items"`
	Page    int               `json:"page"`
	Limit   int               `json:"limit"`
	Total   int64             `json:"total"`
	HasMore bool              `json:"hasMore"`
}

// NotificationCounts summarises unread notifications.
type NotificationCounts struct {
	OverallUnread int64            `json:"overallUnread"`
	ByType        map[string]int64 `json:"byType"`
}

// MarkAllReadInput narrows a bulk mark-read.
type MarkAllReadInput struct {
	UserID   string
	Type     models.NotificationType
	Priority models.NotificationPriority
}

// MarkAllReadResult reports the outcome of a bulk mark-read.
type MarkAllReadResult struct {
	Matched    int64 `json:"matched"`
	Modified   int64 `json:"modified"`
	UnreadLeft int64 `json:"unreadLeft"`
}

// DailyListInput selects one UTC calendar day of a notification type.
type DailyListInput struct {
	UserID string
	Type   models.NotificationType
	// Date is YYYY-MM-DD. Empty means today (UTC).
	Date      string
	PatientID string
	Page      int
	Limit     int
}

// DailyNotificationPage is a page of one day's notifications.
type DailyNotificationPage struct {
	Date       string            `json:"date"`
	Items      []NotificationDTO `json:"items"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	Total      int64             `json:"total"`
	TotalPages int               `json:"totalPages"`
	HasMore    bool              `json:"hasMore"`
}

// NotificationEventPayload accompanies notification:new, notification:updated and notification:deleted.
type NotificationEventPayload struct {
	Notification   *NotificationDTO `json:"notification,omitempty"`
	NotificationID string           `json:"notificationId,omitempty"`
}

// BulkUpdateEventPayload accompanies notification:bulk-updated.
type BulkUpdateEventPayload struct {
	MarkAllReadResult
	Type     models.NotificationType     `json:"type,omitempty"`
	Priority models.NotificationPriority `json:"priority,omitempty"`
}

// NotificationServiceOption customises a NotificationService.
type NotificationServiceOption func(*NotificationService)

// WithNotificationClock overrides the clock used for created and state timestamps.
func WithNotificationClock(now func() time.Time) NotificationServiceOption {
	return func(s *NotificationService) {
		if now != nil {
			s.now = now
		}
	}
}

// NotificationService is the durable notification store.
type NotificationService struct {
	db      *gorm.DB
	emitter Emitter
	now     func() time.Time
	log     *zap.Logger
}

// NewNotificationService constructs a NotificationService. emitter may be nil.
func NewNotificationService(db *gorm.DB, emitter Emitter, opts ...NotificationServiceOption) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	svc := &NotificationService{
		db:      db,
		emitter: emitter,
		now:     time.Now,
		log:     logger.WithModule("notifications"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create inserts one notification per recipient. Rows are inserted independently: a failed
// row never aborts the others and dedup conflicts are skipped. An error is returned only
// when no row could be stored and at least one insert failed for a reason other than a conflict.
func (s *NotificationService) Create(ctx context.Context, input CreateNotificationInput) ([]NotificationDTO, error) {
	ctx = ensureContext(ctx)

	recipients := normaliseIDs(input.RecipientIDs)
	if len(recipients) == 0 {
		return []NotificationDTO{}, nil
	}
	if !input.Type.Valid() {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown notification type %q", input.Type))
	}
	priority := input.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	if !priority.Valid() {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown notification priority %q", priority))
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewBadRequest("notification title is required")
	}

	data, err := encodeJSON(input.Data)
	if err != nil {
		return nil, fmt.Errorf("notification service: encode data: %w", err)
	}

	var dedupTag *string
	var dedupRef *time.Time
	if tag := strings.TrimSpace(input.DedupTag); tag != "" && input.DedupReference != nil {
		ref := NormaliseDedupReference(*input.DedupReference)
		dedupTag, dedupRef = &tag, &ref
	}

	now := s.now().UTC()
	created := make([]NotificationDTO, 0, len(recipients))
	var (
		skipped int
		errs    error
	)
	for _, recipient := range recipients {
		row := models.Notification{
			BaseModel:      models.BaseModel{CreatedAt: now, UpdatedAt: now},
			UserID:         recipient,
			PatientID:      input.PatientID,
			Type:           input.Type,
			Priority:       priority,
			Title:          title,
			Message:        strings.TrimSpace(input.Message),
			Data:           data,
			DedupTag:       dedupTag,
			DedupReference: dedupRef,
			ChannelInApp:   true,
			ChannelEmail:   input.ChannelEmail,
		}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			if isUniqueConstraintError(err) {
				skipped++
				metrics.NotificationsSkipped.WithLabelValues("duplicate").Inc()
				continue
			}
			metrics.NotificationsSkipped.WithLabelValues("error").Inc()
			errs = multierr.Append(errs, fmt.Errorf("recipient %s: %w", recipient, err))
			continue
		}
		metrics.NotificationsCreated.WithLabelValues(string(row.Type)).Inc()
		created = append(created, mapNotification(row))
	}

	if skipped > 0 {
		s.log.Debug("skipped duplicate notifications",
			zap.String("type", string(input.Type)),
			zap.Int("skipped", skipped),
		)
	}
	if errs != nil {
		failed := len(multierr.Errors(errs))
		if len(created) == 0 {
			return nil, fmt.Errorf("notification service: create notifications: %w", errs)
		}
		s.log.Warn("partial notification batch failure",
			zap.String("type", string(input.Type)),
			zap.Int("created", len(created)),
			zap.Int("failed", failed),
			zap.Error(errs),
		)
	}
	return created, nil
}

// List returns a page of the user's non-deleted notifications, newest first.
func (s *NotificationService) List(ctx context.Context, input ListNotificationsInput) (NotificationPage, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return NotificationPage{}, apperrors.ErrUnauthorized
	}
	if input.Type != "" && !input.Type.Valid() {
		return NotificationPage{}, apperrors.NewBadRequest(fmt.Sprintf("unknown notification type %q", input.Type))
	}
	if input.Priority != "" && !input.Priority.Valid() {
		return NotificationPage{}, apperrors.NewBadRequest(fmt.Sprintf("unknown notification priority %q", input.Priority))
	}

	page, limit := normalisePage(input.Page, input.Limit)
	filtered := func() *gorm.DB {
		query := s.visible(ctx, userID)
		if input.Type != "" {
			query = query.Where("type = ?", input.Type)
		}
		if input.Priority != "" {
			query = query.Where("priority = ?", input.Priority)
		}
		if input.IsRead != nil {
			if *input.IsRead {
				query = query.Where("is_read = ?", true)
			} else {
				query = query.Where("(is_read = ? OR is_read IS NULL)", false)
			}
		}
		if input.Since != nil {
			query = query.Where("created_at >= ?", input.Since.UTC())
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return NotificationPage{}, fmt.Errorf("notification service: count notifications: %w", err)
	}

	offset := (page - 1) * limit
	var rows []models.Notification
	if err := filtered().
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return NotificationPage{}, fmt.Errorf("notification service: list notifications: %w", err)
	}

	return NotificationPage{
		Items:   mapNotificationRows(rows),
		Page:    page,
		Limit:   limit,
		Total:   total,
		HasMore: int64(offset+len(rows)) < total,
	}, nil
}

// Counts aggregates the user's unread notifications overall and per type.
func (s *NotificationService) Counts(ctx context.Context, userID string) (NotificationCounts, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return NotificationCounts{}, apperrors.ErrUnauthorized
	}

	var rows []struct {
		Type  string
		Count int64
	}
	if err := s.unread(ctx, userID).
		Select("type, COUNT(*) AS count").
		Group("type").
		Scan(&rows).Error; err != nil {
		return NotificationCounts{}, fmt.Errorf("notification service: count by type: %w", err)
	}

	counts := NotificationCounts{ByType: make(map[string]int64, len(rows))}
	for _, row := range rows {
		counts.ByType[row.Type] = row.Count
		counts.OverallUnread += row.Count
	}
	return counts, nil
}

// UnreadCount returns the number of unread, non-deleted notifications for the user.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)
	var total int64
	if err := s.unread(ctx, userID).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("notification service: unread count: %w", err)
	}
	return total, nil
}

// MarkRead sets or clears the read flag of a notification owned by userID.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string, isRead bool) (*NotificationDTO, error) {
	now := s.now().UTC()
	updates := map[string]any{"is_read": isRead, "read_at": nil}
	if isRead {
		updates["read_at"] = now
	}
	return s.mutate(ctx, userID, notificationID, updates, func(row *models.Notification) {
		row.IsRead = isRead
		row.ReadAt = nil
		if isRead {
			row.ReadAt = &now
		}
	}, realtime.EventNotificationUpdated)
}

// Acknowledge marks a notification as acknowledged. Read state is left alone.
func (s *NotificationService) Acknowledge(ctx context.Context, userID, notificationID string) (*NotificationDTO, error) {
	now := s.now().UTC()
	return s.mutate(ctx, userID, notificationID, map[string]any{
		"is_acknowledged": true,
		"acknowledged_at": now,
	}, func(row *models.Notification) {
		row.IsAcknowledged = true
		row.AcknowledgedAt = &now
	}, realtime.EventNotificationUpdated)
}

// SoftDelete hides a notification from every subsequent query. The row is retained.
func (s *NotificationService) SoftDelete(ctx context.Context, userID, notificationID string) (*NotificationDTO, error) {
	now := s.now().UTC()
	return s.mutate(ctx, userID, notificationID, map[string]any{
		"is_deleted": true,
		"deleted_at": now,
	}, func(row *models.Notification) {
		row.IsDeleted = true
		row.DeletedAt = &now
	}, realtime.EventNotificationDeleted)
}

// MarkAllRead marks every unread notification matching the filters as read and
// recomputes the remaining unread total in the same transaction.
func (s *NotificationService) MarkAllRead(ctx context.Context, input MarkAllReadInput) (MarkAllReadResult, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return MarkAllReadResult{}, apperrors.ErrUnauthorized
	}
	if input.Type != "" && !input.Type.Valid() {
		return MarkAllReadResult{}, apperrors.NewBadRequest(fmt.Sprintf("unknown notification type %q", input.Type))
	}
	if input.Priority != "" && !input.Priority.Valid() {
		return MarkAllReadResult{}, apperrors.NewBadRequest(fmt.Sprintf("unknown notification priority %q", input.Priority))
	}

	now := s.now().UTC()
	var result MarkAllReadResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		matching := func() *gorm.DB {
			query := unreadScope(tx.Model(&models.Notification{}), userID)
			if input.Type != "" {
				query = query.Where("type = ?", input.Type)
			}
			if input.Priority != "" {
				query = query.Where("priority = ?", input.Priority)
			}
			return query
		}

		if err := matching().Count(&result.Matched).Error; err != nil {
			return fmt.Errorf("count matches: %w", err)
		}
		if result.Matched == 0 {
			return unreadScope(tx.Model(&models.Notification{}), userID).Count(&result.UnreadLeft).Error
		}

		update := matching().Updates(map[string]any{
			"is_read":    true,
			"read_at":    now,
			"updated_at": now,
		})
		if update.Error != nil {
			return fmt.Errorf("update: %w", update.Error)
		}
		result.Modified = update.RowsAffected

		return unreadScope(tx.Model(&models.Notification{}), userID).Count(&result.UnreadLeft).Error
	})
	if err != nil {
		return MarkAllReadResult{}, fmt.Errorf("notification service: mark all read: %w", err)
	}

	s.emit(userID, realtime.EventNotificationBulkUpdated, BulkUpdateEventPayload{
		MarkAllReadResult: result,
		Type:              input.Type,
		Priority:          input.Priority,
	})
	return result, nil
}

// ListDailyByType returns the user's notifications of one type created within a UTC calendar day.
func (s *NotificationService) ListDailyByType(ctx context.Context, input DailyListInput) (DailyNotificationPage, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return DailyNotificationPage{}, apperrors.ErrUnauthorized
	}

	notificationType := input.Type
	if notificationType == "" {
		notificationType = models.NotificationAIRisk
	}
	if !notificationType.Valid() {
		return DailyNotificationPage{}, apperrors.NewBadRequest(fmt.Sprintf("unknown notification type %q", notificationType))
	}

	start, err := parseUTCDay(input.Date, s.now())
	if err != nil {
		return DailyNotificationPage{}, err
	}
	end := start.Add(24 * time.Hour)

	page, limit := normalisePage(input.Page, input.Limit)
	patientID := strings.TrimSpace(input.PatientID)
	window := func() *gorm.DB {
		query := s.visible(ctx, userID).
			Where("type = ?", notificationType).
			Where("created_at >= ? AND created_at < ?", start, end)
		if patientID != "" {
			query = query.Where("patient_id = ?", patientID)
		}
		return query
	}

	var total int64
	if err := window().Count(&total).Error; err != nil {
		return DailyNotificationPage{}, fmt.Errorf("notification service: count daily: %w", err)
	}

	offset := (page - 1) * limit
	var rows []models.Notification
	if err := window().
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return DailyNotificationPage{}, fmt.Errorf("notification service: list daily: %w", err)
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return DailyNotificationPage{
		Date:       start.Format(dailyDateLayout),
		Items:      mapNotificationRows(rows),
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasMore:    int64(offset+len(rows)) < total,
	}, nil
}

func (s *NotificationService) mutate(
	ctx context.Context,
	userID, notificationID string,
	updates map[string]any,
	apply func(*models.Notification),
	event string,
) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	notificationID = strings.TrimSpace(notificationID)
	if userID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	if notificationID == "" {
		return nil, apperrors.NewBadRequest("notification id is required")
	}

	var row models.Notification
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND is_deleted = ?", notificationID, userID, false).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("notification")
		}
		return nil, fmt.Errorf("notification service: load notification: %w", err)
	}

	now := s.now().UTC()
	updates["updated_at"] = now
	if err := s.db.WithContext(ctx).Model(&row).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("notification service: update notification: %w", err)
	}
	apply(&row)
	row.UpdatedAt = now

	dto := mapNotification(row)
	if event == realtime.EventNotificationDeleted {
		s.emit(userID, event, NotificationEventPayload{NotificationID: row.ID})
	} else {
		s.emit(userID, event, NotificationEventPayload{Notification: &dto, NotificationID: row.ID})
	}
	return &dto, nil
}

func (s *NotificationService) visible(ctx context.Context, userID string) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_deleted = ?", userID, false)
}

func (s *NotificationService) unread(ctx context.Context, userID string) *gorm.DB {
	return unreadScope(s.db.WithContext(ctx).Model(&models.Notification{}), userID)
}

func unreadScope(query *gorm.DB, userID string) *gorm.DB {
	return query.
		Where("user_id = ? AND is_deleted = ?", userID, false).
		Where("(is_read = ? OR is_read IS NULL)", false)
}

func (s *NotificationService) emit(userID, event string, payload any) {
	if s.emitter == nil {
		return
	}
	s.emitter.EmitToUser(userID, event, payload)
}

func parseUTCDay(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		today := now.UTC()
		return time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.ParseInLocation(dailyDateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, apperrors.NewBadRequest("date must be formatted as YYYY-MM-DD")
	}
	return day, nil
}

// NormaliseDedupReference gives dedup timestamps one canonical form across drivers
// so stored references can be matched exactly.
func NormaliseDedupReference(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Microsecond)
}

func mapNotificationRows(rows []models.Notification) []NotificationDTO {
	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items
}

func mapNotification(row models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:             row.ID,
		UserID:         row.UserID,
		PatientID:      row.PatientID,
		Type:           row.Type,
		Priority:       row.Priority,
		Title:          row.Title,
		Message:        row.Message,
		Data:           decodeJSON(row.Data),
		Channels:       NotificationChannels{InApp: row.ChannelInApp, Email: row.ChannelEmail},
		IsRead:         row.IsRead,
		ReadAt:         row.ReadAt,
		IsAcknowledged: row.IsAcknowledged,
		AcknowledgedAt: row.AcknowledgedAt,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}
