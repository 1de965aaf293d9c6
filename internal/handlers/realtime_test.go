package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/carecoord/internal/auth"
	"github.com/charlesng35/carecoord/internal/realtime"
)

func TestRealtimeHandlerRejectsMissingOrInvalidToken(t *testing.T) {
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "ws-secret", Issuer: "test", AccessTokenTTL: time.Minute})
	require.NoError(t, err)
	handler := NewRealtimeHandler(realtime.NewHub(nil, realtime.Options{}), jwtSvc)

	c, rec := newTestContext(http.MethodGet, "/ws", nil, "")
	handler.Stream(c)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	c, rec = newTestContext(http.MethodGet, "/ws?token=not-a-jwt", nil, "")
	handler.Stream(c)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	c, rec = newTestContext(http.MethodGet, "/ws", nil, "")
	c.Request.Header.Set("Authorization", "Bearer not-a-jwt")
	handler.Stream(c)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRealtimeHandlerWithoutHub(t *testing.T) {
	handler := NewRealtimeHandler(nil, nil)
	c, rec := newTestContext(http.MethodGet, "/ws?token=abc", nil, "")
	handler.Stream(c)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
