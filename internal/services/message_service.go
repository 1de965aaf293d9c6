package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/carecoord/internal/models"
	"github.com/charlesng35/carecoord/internal/realtime"
	apperrors "github.com/charlesng35/carecoord/pkg/errors"
	"github.com/charlesng35/carecoord/pkg/logger"
)

const maxMessageLength = 4000

// MessageNotifier turns a new chat message into durable notifications for the other participants.
type MessageNotifier interface {
	NotifyNewMessage(ctx context.Context, message MessageDTO, recipientIDs []string)
}

// MessageDTO is the API and realtime representation of a chat message.
type MessageDTO struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SendMessageInput carries a message posted over REST or the realtime socket.
type SendMessageInput struct {
	ConversationID string
	SenderID       string
	Content        string
	// ExcludeConnID keeps the echo off the sending socket.
	ExcludeConnID string
}

// MessagePreview accompanies message-notification.
type MessagePreview struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	SenderID       string `json:"senderId"`
	Preview        string `json:"preview"`
}

// ConversationReadPayload accompanies conversation-read.
type ConversationReadPayload struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
}

// MessageDeletedPayload accompanies message-deleted.
type MessageDeletedPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	DeletedBy      string `json:"deletedBy"`
	HiddenForAll   bool   `json:"hiddenForAll"`
}

// MessageService is the single persist-then-broadcast entry point for chat messages.
type MessageService struct {
	db       *gorm.DB
	emitter  Emitter
	notifier MessageNotifier
	timeNow  func() time.Time
	log      *zap.Logger
}

// NewMessageService constructs a MessageService. emitter and notifier may be nil.
func NewMessageService(db *gorm.DB, emitter Emitter, notifier MessageNotifier) (*MessageService, error) {
	if db == nil {
		return nil, errors.New("message service: db is required")
	}
	return &MessageService{
		db:       db,
		emitter:  emitter,
		notifier: notifier,
		timeNow:  time.Now,
		log:      logger.WithModule("messages"),
	}, nil
}

// SetNotifier attaches the notifier once the dispatcher has been built.
func (s *MessageService) SetNotifier(notifier MessageNotifier) {
	s.notifier = notifier
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *MessageService) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	ctx = ensureContext(ctx)
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", strings.TrimSpace(conversationID), strings.TrimSpace(userID)).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("message service: check participant: %w", err)
	}
	return count > 0, nil
}

// Participants lists the user ids in a conversation.
func (s *MessageService) Participants(ctx context.Context, conversationID string) ([]string, error) {
	ctx = ensureContext(ctx)
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&models.ConversationParticipant{}).
		Where("conversation_id = ?", strings.TrimSpace(conversationID)).
		Order("created_at ASC").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("message service: list participants: %w", err)
	}
	return ids, nil
}

// PresencePeers lists the users sharing at least one conversation with userID.
func (s *MessageService) PresencePeers(ctx context.Context, userID string) ([]string, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}

	db := s.db.WithContext(ctx)
	shared := db.Model(&models.ConversationParticipant{}).
		Select("conversation_id").
		Where("user_id = ?", userID)

	var ids []string
	if err := db.Model(&models.ConversationParticipant{}).
		Distinct("user_id").
		Where("conversation_id IN (?)", shared).
		Where("user_id <> ?", userID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("message service: list presence peers: %w", err)
	}
	return ids, nil
}

// Send persists a message, broadcasts it to the conversation room, notifies the other
// participants' personal rooms and finally hands off to the notifier.
func (s *MessageService) Send(ctx context.Context, input SendMessageInput) (*MessageDTO, error) {
	ctx = ensureContext(ctx)

	conversationID := strings.TrimSpace(input.ConversationID)
	senderID := strings.TrimSpace(input.SenderID)
	if conversationID == "" {
		return nil, apperrors.NewBadRequest("conversation id is required")
	}
	if senderID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, apperrors.NewBadRequest("message content is required")
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return nil, apperrors.NewBadRequest("message content exceeds maximum length")
	}

	participants, err := s.requireParticipant(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}

	message := models.Message{
		BaseModel:      models.BaseModel{CreatedAt: s.timeNow().UTC()},
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        html.EscapeString(content),
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		return nil, fmt.Errorf("message service: create message: %w", err)
	}

	dto := mapMessage(message)
	recipients := make([]string, 0, len(participants))
	for _, id := range participants {
		if id != senderID {
			recipients = append(recipients, id)
		}
	}

	if s.emitter != nil {
		s.emitter.EmitToConversation(conversationID, realtime.EventNewMessage, dto, input.ExcludeConnID)
		s.emitter.EmitToUsers(recipients, realtime.EventMessageNotification, MessagePreview{
			ConversationID: conversationID,
			MessageID:      dto.ID,
			SenderID:       senderID,
			Preview:        preview(content),
		})
	}
	if s.notifier != nil && len(recipients) > 0 {
		s.notifier.NotifyNewMessage(ctx, dto, recipients)
	}
	return &dto, nil
}

// MarkRead records the user's read position and broadcasts a read receipt.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, userID string) (*ConversationReadPayload, error) {
	ctx = ensureContext(ctx)
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if _, err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	now := s.timeNow().UTC()
	if err := s.db.WithContext(ctx).
		Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("last_read_at", now).Error; err != nil {
		return nil, fmt.Errorf("message service: mark read: %w", err)
	}

	payload := &ConversationReadPayload{ConversationID: conversationID, UserID: userID, ReadAt: now}
	if s.emitter != nil {
		s.emitter.EmitToConversation(conversationID, realtime.EventConversationRead, payload, "")
	}
	return payload, nil
}

// Delete removes a message from userID's view. Once every participant has deleted it
// the message is hidden for the whole conversation.
func (s *MessageService) Delete(ctx context.Context, conversationID, messageID, userID string) (*MessageDeletedPayload, error) {
	ctx = ensureContext(ctx)
	conversationID = strings.TrimSpace(conversationID)
	messageID = strings.TrimSpace(messageID)
	userID = strings.TrimSpace(userID)

	participants, err := s.requireParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	payload := &MessageDeletedPayload{ConversationID: conversationID, MessageID: messageID, DeletedBy: userID}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var message models.Message
		if err := tx.Where("id = ? AND conversation_id = ? AND is_deleted = ?", messageID, conversationID, false).
			First(&message).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewNotFound("message")
			}
			return err
		}

		deletion := models.MessageDeletion{MessageID: messageID, UserID: userID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&deletion).Error; err != nil {
			return err
		}

		var deletions int64
		if err := tx.Model(&models.MessageDeletion{}).
			Where("message_id = ? AND user_id IN ?", messageID, participants).
			Count(&deletions).Error; err != nil {
			return err
		}
		if deletions < int64(len(participants)) {
			return nil
		}

		now := s.timeNow().UTC()
		payload.HiddenForAll = true
		return tx.Model(&message).Updates(map[string]any{"is_deleted": true, "deleted_at": now}).Error
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("message service: delete message: %w", err)
	}

	if s.emitter != nil {
		if payload.HiddenForAll {
			s.emitter.EmitToConversation(conversationID, realtime.EventMessageDeleted, payload, "")
		} else {
			s.emitter.EmitToUser(userID, realtime.EventMessageDeleted, payload)
		}
	}
	return payload, nil
}

// ListVisible returns the most recent messages userID has not deleted, oldest first.
func (s *MessageService) ListVisible(ctx context.Context, conversationID, userID string, limit int) ([]MessageDTO, error) {
	ctx = ensureContext(ctx)
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if _, err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	hidden := s.db.Model(&models.MessageDeletion{}).Select("message_id").Where("user_id = ?", userID)
	var rows []models.Message
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Where("id NOT IN (?)", hidden).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("message service: list messages: %w", err)
	}

	out := make([]MessageDTO, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = mapMessage(row)
	}
	return out, nil
}

func (s *MessageService) requireParticipant(ctx context.Context, conversationID, userID string) ([]string, error) {
	if conversationID == "" {
		return nil, apperrors.NewBadRequest("conversation id is required")
	}
	if userID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	participants, err := s.Participants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for _, id := range participants {
		if id == userID {
			return participants, nil
		}
	}
	if len(participants) == 0 {
		return nil, apperrors.NewNotFound("conversation")
	}
	return nil, apperrors.ErrForbidden.WithMessage("not a participant of this conversation")
}

func mapMessage(row models.Message) MessageDTO {
	return MessageDTO{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		SenderID:       row.SenderID,
		Content:        row.Content,
		CreatedAt:      row.CreatedAt,
	}
}

func preview(content string) string {
	const limit = 120
	if utf8.RuneCountInString(content) <= limit {
		return content
	}
	runes := []rune(content)
	return string(runes[:limit]) + "..."
}
