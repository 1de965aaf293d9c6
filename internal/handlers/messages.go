package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/carecoord/internal/services"
	"github.com/charlesng35/carecoord/pkg/errors"
	"github.com/charlesng35/carecoord/pkg/response"
)

// MessageHandler is the REST face of conversations. Realtime clients reach the same
// service through the hub.
type MessageHandler struct {
	messages *services.MessageService
}

// NewMessageHandler constructs a message handler.
func NewMessageHandler(messages *services.MessageService) (*MessageHandler, error) {
	if messages == nil {
		return nil, errors.New("MESSAGE_HANDLER", "message service is required", http.StatusInternalServerError)
	}
	return &MessageHandler{messages: messages}, nil
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

// List returns the latest visible messages of a conversation, oldest first.
func (h *MessageHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	items, err := h.messages.ListVisible(requestContext(c), strings.TrimSpace(c.Param("id")), userID, parseIntQuery(c, "limit", 50))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, items)
}

// Send posts a message to a conversation.
func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req sendMessageRequest
	if !bindAndValidate(c, &req) {
		return
	}

	dto, err := h.messages.Send(requestContext(c), services.SendMessageInput{
		ConversationID: strings.TrimSpace(c.Param("id")),
		SenderID:       userID,
		Content:        req.Content,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, dto)
}

// MarkRead records that the caller has read the conversation.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	payload, err := h.messages.MarkRead(requestContext(c), strings.TrimSpace(c.Param("id")), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, payload)
}

// Delete hides a message for the caller.
func (h *MessageHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	payload, err := h.messages.Delete(requestContext(c), strings.TrimSpace(c.Param("id")), strings.TrimSpace(c.Param("messageId")), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, payload)
}
