package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/carecoord/internal/middleware"
	"github.com/charlesng35/carecoord/internal/realtime"
	"github.com/charlesng35/carecoord/pkg/errors"
	"github.com/charlesng35/carecoord/pkg/response"
)

// RealtimeHandler upgrades authenticated HTTP requests into hub connections.
type RealtimeHandler struct {
	hub      *realtime.Hub
	verifier middleware.TokenVerifier
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, verifier middleware.TokenVerifier) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, verifier: verifier}
}

// Stream validates the access token and hands the connection to the hub. Browsers cannot
// set headers on a websocket handshake, so the token may also travel as ?token=.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.verifier == nil || h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token, _ = middleware.BearerToken(c.GetHeader("Authorization"))
	}
	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	claims, err := h.verifier.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	h.hub.Serve(userID, c.Writer, c.Request)
}
