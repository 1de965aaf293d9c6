package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/charlesng35/carecoord/pkg/errors"
	"github.com/charlesng35/carecoord/pkg/logger"
	"github.com/charlesng35/carecoord/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10

	defaultSendBuffer   = 32
	defaultPingInterval = 30 * time.Second
	handlerTimeout      = 15 * time.Second
)

// HandlerFunc processes one client event. A returned error is reported to the sender only.
type HandlerFunc func(ctx context.Context, conn *Conn, data json.RawMessage) error

// PeerResolver lists the users allowed to see a user's presence.
type PeerResolver interface {
	PresencePeers(ctx context.Context, userID string) ([]string, error)
}

// Options tunes the hub.
type Options struct {
	AllowedOrigins []string
	SendBuffer     int
	PingInterval   time.Duration
}

// Hub owns live websocket connections, their room memberships, and client event routing.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Conn]struct{}
	conns    map[*Conn]struct{}
	handlers map[string]HandlerFunc

	registry   *Registry
	peers      PeerResolver
	upgrader   websocket.Upgrader
	sendBuffer int
	pingPeriod time.Duration
	pongWait   time.Duration
	log        *zap.Logger
}

// NewHub constructs a hub bound to registry.
func NewHub(registry *Registry, opts Options) *Hub {
	if registry == nil {
		registry = NewRegistry(nil)
	}
	sendBuffer := opts.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	ping := opts.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}

	h := &Hub{
		rooms:      make(map[string]map[*Conn]struct{}),
		conns:      make(map[*Conn]struct{}),
		handlers:   make(map[string]HandlerFunc),
		registry:   registry,
		sendBuffer: sendBuffer,
		pingPeriod: ping,
		pongWait:   ping * 10 / 9,
		log:        logger.WithModule("realtime"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

// Registry exposes the session registry backing the hub.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// SetPeers attaches the lookup that scopes presence announcements.
func (h *Hub) SetPeers(peers PeerResolver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers = peers
}

// Handle registers fn for a client event name, replacing any previous handler.
func (h *Hub) Handle(event string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = fn
}

// Serve upgrades an authenticated request and runs the connection until it closes.
func (h *Hub) Serve(userID string, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	conn := h.register(userID, socket)
	go conn.writeLoop()
	conn.readLoop()
}

// register attaches a connection to its user room and announces presence.
func (h *Hub) register(userID string, socket *websocket.Conn) *Conn {
	conn := newConn(h, socket, userID)

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.joinLocked(conn, UserRoom(userID))
	h.mu.Unlock()
	metrics.RealtimeConnections.Inc()

	h.registry.Connect(conn.ctx, userID, conn.ID)
	h.announce(conn.ctx, userID, EventUserOnline, PresencePayload{UserID: userID})
	return conn
}

func (h *Hub) unregister(conn *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[conn]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, conn)
	for room := range conn.rooms {
		h.leaveLocked(conn, room)
	}
	h.mu.Unlock()
	metrics.RealtimeConnections.Dec()

	if session, changed := h.registry.Disconnect(context.Background(), conn.UserID, conn.ID); changed {
		h.announce(context.Background(), conn.UserID, EventUserOffline, PresencePayload{
			UserID:   conn.UserID,
			LastSeen: session.LastSeen.Format(time.RFC3339),
		})
	}
}

// Join subscribes conn to room.
func (h *Hub) Join(conn *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; !ok {
		return
	}
	h.joinLocked(conn, room)
}

// Leave unsubscribes conn from room.
func (h *Hub) Leave(conn *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(conn, room)
}

func (h *Hub) joinLocked(conn *Conn, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Conn]struct{})
	}
	h.rooms[room][conn] = struct{}{}
	conn.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(conn *Conn, room string) {
	delete(conn.rooms, room)
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// EmitToUser delivers an event to every connection of userID. Offline users are skipped silently.
func (h *Hub) EmitToUser(userID, event string, payload any) {
	if strings.TrimSpace(userID) == "" {
		return
	}
	h.emitToRoom(UserRoom(userID), event, payload, "")
}

// EmitToUsers delivers an event to each user in userIDs.
func (h *Hub) EmitToUsers(userIDs []string, event string, payload any) {
	data, ok := h.encode(event, payload)
	if !ok {
		return
	}
	seen := make(map[string]struct{}, len(userIDs))
	for _, userID := range userIDs {
		if _, dup := seen[userID]; dup || userID == "" {
			continue
		}
		seen[userID] = struct{}{}
		h.deliver(h.members(UserRoom(userID), ""), data)
	}
}

// EmitToConversation delivers an event to every connection in the conversation room,
// skipping the connection whose ID equals excludeConnID.
func (h *Hub) EmitToConversation(conversationID, event string, payload any, excludeConnID string) {
	if strings.TrimSpace(conversationID) == "" {
		return
	}
	h.emitToRoom(ConversationRoom(conversationID), event, payload, excludeConnID)
}

// RoomSize reports the number of connections in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.close()
	}
}

func (h *Hub) emitToRoom(room, event string, payload any, excludeConnID string) {
	data, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.deliver(h.members(room, excludeConnID), data)
}

// announce sends a presence change to the user's peers only. Without a peer resolver
// presence changes stay private.
func (h *Hub) announce(ctx context.Context, userID, event string, payload PresencePayload) {
	h.mu.RLock()
	peers := h.peers
	h.mu.RUnlock()
	if peers == nil {
		return
	}

	ids, err := peers.PresencePeers(ctx, userID)
	if err != nil {
		h.log.Warn("presence peers lookup failed", zap.String("user_id", userID), zap.String("event", event), zap.Error(err))
		return
	}
	audience := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != userID {
			audience = append(audience, id)
		}
	}
	h.EmitToUsers(audience, event, payload)
}

func (h *Hub) members(room, excludeConnID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.rooms[room]
	targets := make([]*Conn, 0, len(members))
	for conn := range members {
		if excludeConnID != "" && conn.ID == excludeConnID {
			continue
		}
		targets = append(targets, conn)
	}
	return targets
}

// deliver runs outside the hub lock so dropping a slow consumer can unregister it.
func (h *Hub) deliver(targets []*Conn, data []byte) {
	if len(targets) == 0 {
		metrics.DeliveryOutcomes.WithLabelValues("realtime", "offline").Inc()
		return
	}
	for _, conn := range targets {
		if conn.enqueue(data) {
			metrics.DeliveryOutcomes.WithLabelValues("realtime", "success").Inc()
			continue
		}
		metrics.DeliveryOutcomes.WithLabelValues("realtime", "dropped").Inc()
		h.log.Warn("dropping slow realtime consumer", zap.String("user_id", conn.UserID), zap.String("conn_id", conn.ID))
		conn.close()
	}
}

func (h *Hub) encode(event string, payload any) ([]byte, bool) {
	data, err := json.Marshal(Message{Event: event, Data: payload})
	if err != nil {
		h.log.Error("encode realtime event", zap.String("event", event), zap.Error(err))
		return nil, false
	}
	return data, true
}

func (h *Hub) dispatch(conn *Conn, msg ClientMessage) {
	if msg.Event == ClientPing {
		conn.Send(EventPong, nil)
		return
	}

	h.mu.RLock()
	handler, ok := h.handlers[msg.Event]
	h.mu.RUnlock()
	if !ok {
		conn.Send(EventError, ErrorPayload{Event: msg.Event, Message: "unsupported event"})
		return
	}

	ctx, cancel := context.WithTimeout(conn.ctx, handlerTimeout)
	defer cancel()

	if err := handler(ctx, conn, msg.Data); err != nil {
		message := "request failed"
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			message = appErr.Message
		}
		h.log.Debug("client event rejected",
			zap.String("event", msg.Event),
			zap.String("user_id", conn.UserID),
			zap.Error(err),
		)
		conn.Send(EventError, ErrorPayload{Event: msg.Event, Message: message})
	}
}

// Conn is one live websocket connection.
type Conn struct {
	ID     string
	UserID string

	hub    *Hub
	socket *websocket.Conn
	rooms  map[string]struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newConn(hub *Hub, socket *websocket.Conn, userID string) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		hub:    hub,
		socket: socket,
		rooms:  make(map[string]struct{}),
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, hub.sendBuffer),
	}
}

// Send writes an event to this connection only.
func (c *Conn) Send(event string, payload any) {
	data, ok := c.hub.encode(event, payload)
	if !ok {
		return
	}
	c.hub.deliver([]*Conn{c}, data)
}

func (c *Conn) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Conn) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("unexpected close", zap.String("user_id", c.UserID), zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Event == "" {
			c.Send(EventError, ErrorPayload{Message: "invalid payload"})
			continue
		}
		c.hub.dispatch(c, msg)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.hub.pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.cancel()
	c.hub.unregister(c)
	if c.socket != nil {
		_ = c.socket.Close()
	}
}

// originChecker allows listed origins, same-host requests, and loopback development clients.
func originChecker(allowed []string) func(*http.Request) bool {
	allowedHosts := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if host := hostWithoutPort(origin); host != "" {
			allowedHosts[strings.ToLower(host)] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		originHost := strings.ToLower(hostWithoutPort(origin))
		if _, ok := allowedHosts[originHost]; ok {
			return true
		}
		return originHost == strings.ToLower(hostWithoutPort(r.Host)) || isLoopback(originHost)
	}
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
