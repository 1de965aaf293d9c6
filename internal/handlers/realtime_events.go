package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/charlesng35/carecoord/internal/realtime"
	"github.com/charlesng35/carecoord/internal/services"
	"github.com/charlesng35/carecoord/pkg/errors"
)

type conversationEvent struct {
	ConversationID string `json:"conversationId"`
}

type sendMessageEvent struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

type deleteMessageEvent struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// RegisterRealtimeEvents routes client socket events to the message service.
func RegisterRealtimeEvents(hub *realtime.Hub, messages *services.MessageService) {
	events := &realtimeEvents{hub: hub, messages: messages}
	hub.Handle(realtime.ClientJoinConversation, events.join)
	hub.Handle(realtime.ClientLeaveConversation, events.leave)
	hub.Handle(realtime.ClientTypingStart, events.typing(true))
	hub.Handle(realtime.ClientTypingStop, events.typing(false))
	hub.Handle(realtime.ClientMarkConversationRead, events.markRead)
	hub.Handle(realtime.ClientSendMessage, events.send)
	hub.Handle(realtime.ClientDeleteMessage, events.delete)
}

type realtimeEvents struct {
	hub      *realtime.Hub
	messages *services.MessageService
}

func (e *realtimeEvents) join(ctx context.Context, conn *realtime.Conn, data json.RawMessage) error {
	conversationID, err := e.authorise(ctx, conn, data)
	if err != nil {
		return err
	}
	e.hub.Join(conn, realtime.ConversationRoom(conversationID))
	return nil
}

func (e *realtimeEvents) leave(_ context.Context, conn *realtime.Conn, data json.RawMessage) error {
	var payload conversationEvent
	if err := decodeEvent(data, &payload); err != nil {
		return err
	}
	e.hub.Leave(conn, realtime.ConversationRoom(payload.ConversationID))
	return nil
}

func (e *realtimeEvents) typing(active bool) realtime.HandlerFunc {
	return func(ctx context.Context, conn *realtime.Conn, data json.RawMessage) error {
		conversationID, err := e.authorise(ctx, conn, data)
		if err != nil {
			return err
		}
		e.hub.EmitToConversation(conversationID, realtime.EventUserTyping, realtime.TypingPayload{
			ConversationID: conversationID,
			UserID:         conn.UserID,
			IsTyping:       active,
		}, conn.ID)
		return nil
	}
}

func (e *realtimeEvents) markRead(ctx context.Context, conn *realtime.Conn, data json.RawMessage) error {
	var payload conversationEvent
	if err := decodeEvent(data, &payload); err != nil {
		return err
	}
	_, err := e.messages.MarkRead(ctx, payload.ConversationID, conn.UserID)
	return err
}

func (e *realtimeEvents) send(ctx context.Context, conn *realtime.Conn, data json.RawMessage) error {
	var payload sendMessageEvent
	if err := decodeEvent(data, &payload); err != nil {
		return err
	}
	_, err := e.messages.Send(ctx, services.SendMessageInput{
		ConversationID: payload.ConversationID,
		SenderID:       conn.UserID,
		Content:        payload.Content,
		ExcludeConnID:  conn.ID,
	})
	return err
}

func (e *realtimeEvents) delete(ctx context.Context, conn *realtime.Conn, data json.RawMessage) error {
	var payload deleteMessageEvent
	if err := decodeEvent(data, &payload); err != nil {
		return err
	}
	_, err := e.messages.Delete(ctx, payload.ConversationID, payload.MessageID, conn.UserID)
	return err
}

// authorise decodes a conversation event and checks the sender belongs to it.
func (e *realtimeEvents) authorise(ctx context.Context, conn *realtime.Conn, data json.RawMessage) (string, error) {
	var payload conversationEvent
	if err := decodeEvent(data, &payload); err != nil {
		return "", err
	}
	ok, err := e.messages.IsParticipant(ctx, payload.ConversationID, conn.UserID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.ErrForbidden
	}
	return payload.ConversationID, nil
}

type conversationScoped interface {
	conversation() string
}

func (p conversationEvent) conversation() string  { return p.ConversationID }
func (p sendMessageEvent) conversation() string   { return p.ConversationID }
func (p deleteMessageEvent) conversation() string { return p.ConversationID }

func decodeEvent[T conversationScoped](data json.RawMessage, dest *T) error {
	if len(data) == 0 {
		return errors.NewBadRequest("event payload is required")
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errors.NewBadRequest("invalid event payload")
	}
	if strings.TrimSpace((*dest).conversation()) == "" {
		return errors.NewBadRequest("conversationId is required")
	}
	return nil
}
