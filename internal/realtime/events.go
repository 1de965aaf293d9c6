package realtime

import (
	"encoding/json"
	"strings"
)

// Server to client events.
const (
	EventNotificationNew         = "notification:new"
	EventNotificationUpdated     = "notification:updated"
	EventNotificationBulkUpdated = "notification:bulk-updated"
	EventNotificationDeleted     = "notification:deleted"
	EventNotificationCount       = "notification:count"

	EventNewMessage          = "new-message"
	EventMessageNotification = "message-notification"
	EventUserTyping          = "user-typing"
	EventConversationRead    = "conversation-read"
	EventMessageDeleted      = "message-deleted"

	EventUserOnline  = "user-online"
	EventUserOffline = "user-offline"

	EventPong  = "pong"
	EventError = "error"
)

// Client to server events.
const (
	ClientJoinConversation     = "join-conversation"
	ClientLeaveConversation    = "leave-conversation"
	ClientTypingStart          = "typing-start"
	ClientTypingStop           = "typing-stop"
	ClientMarkConversationRead = "mark-conversation-read"
	ClientSendMessage          = "send-message"
	ClientDeleteMessage        = "delete-message"
	ClientPing                 = "ping"
)

const (
	userRoomPrefix         = "user:"
	conversationRoomPrefix = "conversation:"
)

// Message is the envelope written to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// ClientMessage is the envelope read from clients. Data is decoded by the event handler.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorPayload reports a rejected client event back to the sender.
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// PresencePayload accompanies user-online and user-offline.
type PresencePayload struct {
	UserID   string `json:"userId"`
	LastSeen string `json:"lastSeen,omitempty"`
}

// UserRoom names the personal room every connection of a user joins.
func UserRoom(userID string) string {
	return userRoomPrefix + strings.TrimSpace(userID)
}

// ConversationRoom names the room for a conversation.
func ConversationRoom(conversationID string) string {
	return conversationRoomPrefix + strings.TrimSpace(conversationID)
}

// TypingPayload accompanies user-typing.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}
