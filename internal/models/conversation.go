package models

import "time"

// Conversation groups participants exchanging messages.
type Conversation struct {
	BaseModel

	PatientID    *string                   `gorm:"type:varchar(36);index" json:"patient_id,omitempty"`
	Title        string                    `gorm:"type:varchar(255)" json:"title"`
	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

// ConversationParticipant links a user to a conversation and tracks read position.
type ConversationParticipant struct {
	BaseModel

	ConversationID string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_participant,priority:1" json:"conversation_id"`
	UserID         string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_participant,priority:2;index" json:"user_id"`
	LastReadAt     *time.Time `json:"last_read_at"`
}

// Message is a single chat message. It is hidden once every participant has deleted it.
type Message struct {
	BaseModel

	ConversationID string     `gorm:"type:varchar(36);not null;index" json:"conversation_id"`
	SenderID       string     `gorm:"type:varchar(36);not null;index" json:"sender_id"`
	Content        string     `gorm:"type:text;not null" json:"content"`
	IsDeleted      bool       `gorm:"index" json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at"`
}

// MessageDeletion records that one participant removed a message from their view.
type MessageDeletion struct {
	BaseModel

	MessageID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_message_deletion,priority:1" json:"message_id"`
	UserID    string `gorm:"type:varchar(36);not null;uniqueIndex:idx_message_deletion,priority:2" json:"user_id"`
}
