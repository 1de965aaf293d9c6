package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/carecoord/internal/app"
	iauth "github.com/charlesng35/carecoord/internal/auth"
	"github.com/charlesng35/carecoord/internal/database/testutil"
	"github.com/charlesng35/carecoord/internal/handlers"
	"github.com/charlesng35/carecoord/internal/models"
	"github.com/charlesng35/carecoord/internal/realtime"
	"github.com/charlesng35/carecoord/internal/services"
)

type routerEnv struct {
	router *gin.Engine
	jwt    *iauth.JWTService
	hub    *realtime.Hub
}

func newRouterEnv(t *testing.T) routerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	for id, role := range map[string]models.UserRole{
		"nurse-1":   models.RoleNurse,
		"family-1":  models.RoleFamily,
		"patient-1": models.RolePatient,
		"stranger":  models.RoleCaregiver,
	} {
		require.NoError(t, db.Create(&models.User{
			BaseModel: models.BaseModel{ID: id},
			Name:      id,
			Email:     id + "@example.com",
			Role:      role,
			IsActive:  true,
		}).Error)
	}
	require.NoError(t, db.Create(&models.Conversation{BaseModel: models.BaseModel{ID: "conv-1"}, Title: "Care team"}).Error)
	for _, userID := range []string{"nurse-1", "family-1"} {
		require.NoError(t, db.Create(&models.ConversationParticipant{ConversationID: "conv-1", UserID: userID}).Error)
	}

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "router-secret", Issuer: "test", AccessTokenTTL: time.Hour})
	require.NoError(t, err)

	users, err := services.NewUserService(db)
	require.NoError(t, err)
	hub := realtime.NewHub(realtime.NewRegistry(users), realtime.Options{})
	t.Cleanup(hub.Close)

	notificationsSvc, err := services.NewNotificationService(db, hub)
	require.NoError(t, err)
	messages, err := services.NewMessageService(db, hub, nil)
	require.NoError(t, err)
	handlers.RegisterRealtimeEvents(hub, messages)

	cfg := &app.Config{}
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Monitoring.Prometheus.Endpoint = "/metrics"

	router, err := NewRouter(Dependencies{
		DB:            db,
		Config:        cfg,
		Tokens:        jwtSvc,
		Hub:           hub,
		Notifications: notificationsSvc,
		Messages:      messages,
		Users:         users,
	})
	require.NoError(t, err)
	return routerEnv{router: router, jwt: jwtSvc, hub: hub}
}

func (e routerEnv) token(t *testing.T, userID string, role models.UserRole) string {
	t.Helper()
	token, err := e.jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: userID, Role: role})
	require.NoError(t, err)
	return token
}

func (e routerEnv) do(method, path, token string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	_, err := NewRouter(Dependencies{})
	require.Error(t, err)
}

func TestRouterPublicAndProtectedRoutes(t *testing.T) {
	env := newRouterEnv(t)

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", "").Code)
	require.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/notifications", "").Code)
	require.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/notifications", "garbage").Code)

	nurse := env.token(t, "nurse-1", models.RoleNurse)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/notifications", nurse).Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/notifications/counts", nurse).Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/notifications/ai-risk/daily", nurse).Code)
	require.Equal(t, http.StatusNotFound, env.do(http.MethodPatch, "/api/notifications/missing/read", nurse).Code)

	patient := env.token(t, "patient-1", models.RolePatient)
	require.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/notifications/ai-risk/daily", patient).Code)

	require.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/unknown", nurse).Code)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	env := newRouterEnv(t)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", "").Code)

	rec := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `carecoord_api_latency_seconds_count{method="GET",path="/health",status="200"}`)
}

func dialSocket(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// readUntil returns the events read before the first event named want, and that event.
func readUntil(t *testing.T, conn *websocket.Conn, want string) ([]string, json.RawMessage) {
	t.Helper()
	var skipped []string
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event == want {
			return skipped, msg.Data
		}
		skipped = append(skipped, msg.Event)
	}
}

func TestRouterRealtimeConversationFlow(t *testing.T) {
	env := newRouterEnv(t)
	server := httptest.NewServer(env.router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	family := dialSocket(t, server, env.token(t, "family-1", models.RoleFamily))
	nurse := dialSocket(t, server, env.token(t, "nurse-1", models.RoleNurse))
	stranger := dialSocket(t, server, env.token(t, "stranger", models.RoleCaregiver))

	for _, conn := range []*websocket.Conn{family, nurse} {
		sendEvent(t, conn, realtime.ClientJoinConversation, map[string]string{"conversationId": "conv-1"})
		sendEvent(t, conn, realtime.ClientPing, nil)
		skipped, _ := readUntil(t, conn, realtime.EventPong)
		require.NotContains(t, skipped, realtime.EventError)
	}

	sendEvent(t, stranger, realtime.ClientJoinConversation, map[string]string{"conversationId": "conv-1"})
	_, rejected := readUntil(t, stranger, realtime.EventError)
	require.Contains(t, string(rejected), realtime.ClientJoinConversation)

	sendEvent(t, nurse, realtime.ClientSendMessage, map[string]string{"conversationId": "conv-1", "content": "Vitals stable"})

	_, data := readUntil(t, family, realtime.EventNewMessage)
	var message services.MessageDTO
	require.NoError(t, json.Unmarshal(data, &message))
	require.Equal(t, "Vitals stable", message.Content)
	require.Equal(t, "nurse-1", message.SenderID)

	sendEvent(t, nurse, realtime.ClientPing, nil)
	skipped, _ := readUntil(t, nurse, realtime.EventPong)
	require.NotContains(t, skipped, realtime.EventNewMessage)

	sendEvent(t, family, realtime.ClientTypingStart, map[string]string{"conversationId": "conv-1"})
	_, typing := readUntil(t, nurse, realtime.EventUserTyping)
	var payload realtime.TypingPayload
	require.NoError(t, json.Unmarshal(typing, &payload))
	require.Equal(t, "family-1", payload.UserID)
	require.True(t, payload.IsTyping)
}
