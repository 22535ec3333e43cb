package domain

import (
	"context"
)

//go:generate mockgen -source=repository.go -destination=mocks/repository_mock.go -package=mocks

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	SetOnlineStatus(ctx context.Context, id int64, isOnline bool) error
}

// ConversationRepository defines persistence operations for conversations.
type ConversationRepository interface {
	Create(ctx context.Context, c *Conversation, assignments []Assignment) error
	GetByID(ctx context.Context, id int64) (*Conversation, error)
	ListForUser(ctx context.Context, userID int64) ([]*Conversation, error)
}

// ParticipantRepository answers who is assigned to a conversation.
type ParticipantRepository interface {
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	ListParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error)
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	// CreateWithReceipts inserts the message, its attachments and a read row per
	// reader, and bumps the conversation's updated_at, all in one transaction.
	CreateWithReceipts(ctx context.Context, m *Message, attachments []Attachment, readerIDs []int64) error
	GetDetail(ctx context.Context, id int64) (*MessageDetail, error)
	ListForConversation(ctx context.Context, conversationID, beforeID int64, limit int) ([]*MessageDetail, error)
}
