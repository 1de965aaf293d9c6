package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/carecoord/internal/services"
	"github.com/charlesng35/carecoord/pkg/errors"
	"github.com/charlesng35/carecoord/pkg/response"
)

// PushTokenHandler registers the device token used by the push channel.
type PushTokenHandler struct {
	users *services.UserService
}

// NewPushTokenHandler constructs a push token handler.
func NewPushTokenHandler(users *services.UserService) (*PushTokenHandler, error) {
	if users == nil {
		return nil, errors.New("PUSH_TOKEN_HANDLER", "user service is required", http.StatusInternalServerError)
	}
	return &PushTokenHandler{users: users}, nil
}

type pushTokenRequest struct {
	Token string `json:"token" validate:"required,max=4096"`
}

// Set stores the caller's push token, replacing any previous one.
func (h *PushTokenHandler) Set(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req pushTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.users.SetPushToken(requestContext(c), userID, req.Token); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"registered": true})
}

// Clear removes the caller's push token.
func (h *PushTokenHandler) Clear(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if err := h.users.ClearPushToken(requestContext(c), userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"registered": false})
}
