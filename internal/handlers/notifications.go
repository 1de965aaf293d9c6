package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/carecoord/internal/models"
	"github.com/charlesng35/carecoord/internal/services"
	"github.com/charlesng35/carecoord/pkg/errors"
	"github.com/charlesng35/carecoord/pkg/response"
)

// NotificationHandler exposes a user's notification feed over HTTP.
type NotificationHandler struct {
	service *services.NotificationService
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(service *services.NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, errors.New("NOTIFICATION_HANDLER", "notification service is required", http.StatusInternalServerError)
	}
	return &NotificationHandler{service: service}, nil
}

// List returns the current user's notifications, newest first.
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	isRead, err := parseBoolQuery(c, "isRead")
	if err != nil {
		response.Error(c, err)
		return
	}
	since, err := parseTimeQuery(c, "since")
	if err != nil {
		response.Error(c, err)
		return
	}

	page, err := h.service.List(requestContext(c), services.ListNotificationsInput{
		UserID:   userID,
		Type:     models.NotificationType(strings.TrimSpace(c.Query("type"))),
		Priority: models.NotificationPriority(strings.TrimSpace(c.Query("priority"))),
		IsRead:   isRead,
		Since:    since,
		Page:     parseIntQuery(c, "page", 1),
		Limit:    parseIntQuery(c, "limit", 20),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, page)
}

// Counts returns unread totals overall and per type.
func (h *NotificationHandler) Counts(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	counts, err := h.service.Counts(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, counts)
}

type markReadRequest struct {
	IsRead *bool `json:"isRead"`
}

// MarkRead sets the read state of one notification. The body is optional and defaults to read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req markReadRequest
	if !bindOptional(c, &req) {
		return
	}
	isRead := true
	if req.IsRead != nil {
		isRead = *req.IsRead
	}

	dto, err := h.service.MarkRead(requestContext(c), userID, strings.TrimSpace(c.Param("id")), isRead)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

type markAllReadRequest struct {
	Type     string `json:"type"`
	Priority string `json:"priority"`
}

// MarkAllRead marks every matching unread notification as read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req markAllReadRequest
	if !bindOptional(c, &req) {
		return
	}

	result, err := h.service.MarkAllRead(requestContext(c), services.MarkAllReadInput{
		UserID:   userID,
		Type:     models.NotificationType(strings.TrimSpace(req.Type)),
		Priority: models.NotificationPriority(strings.TrimSpace(req.Priority)),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Acknowledge marks a notification acknowledged.
func (h *NotificationHandler) Acknowledge(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	dto, err := h.service.Acknowledge(requestContext(c), userID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// Delete soft-deletes a notification.
func (h *NotificationHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	if _, err := h.service.SoftDelete(requestContext(c), userID, id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true, "id": id})
}

// DailyAIRisk lists one UTC day of AI risk notifications.
func (h *NotificationHandler) DailyAIRisk(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	page, err := h.service.ListDailyByType(requestContext(c), services.DailyListInput{
		UserID:    userID,
		Type:      models.NotificationAIRisk,
		Date:      strings.TrimSpace(c.Query("date")),
		PatientID: strings.TrimSpace(c.Query("patientId")),
		Page:      parseIntQuery(c, "page", 1),
		Limit:     parseIntQuery(c, "limit", 20),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, page)
}
