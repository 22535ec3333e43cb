package domain

import "time"

// User represents an application user (agent or client).
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	DisplayName    string    `db:"display_name" json:"display_name"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	IsOnline       bool      `db:"is_online" json:"is_online"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	LastSeen       time.Time `db:"last_seen" json:"last_seen"`
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// AssignmentRole is the role a user holds on a conversation's listing.
type AssignmentRole string

const (
	RoleAgent  AssignmentRole = "agent"
	RoleClient AssignmentRole = "client"
)

// Assignment links a user to a conversation regardless of activity.
type Assignment struct {
	UserID int64          `db:"user_id" json:"user_id"`
	Role   AssignmentRole `db:"role" json:"role"`
}

// Conversation is a chat thread, usually attached to a listing.
type Conversation struct {
	ID        int64     `db:"id" json:"id"`
	ListingID *int64    `db:"listing_id" json:"listing_id,omitempty"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Message represents a single chat message. Content is encrypted at rest.
type Message struct {
	ID             int64     `db:"id"`
	ConversationID int64     `db:"conversation_id"`
	SenderID       int64     `db:"sender_id"`
	Content        string    `db:"content"`
	CreatedAt      time.Time `db:"created_at"`
	IsDeleted      bool      `db:"is_deleted"`
}

// Attachment references either a task or a third-party contact, never both.
type Attachment struct {
	ID        int64  `db:"id"`
	MessageID int64  `db:"message_id"`
	Position  int    `db:"position"`
	TaskID    *int64 `db:"task_id"`
	ContactID *int64 `db:"contact_id"`
}

// Validate enforces the task/contact exclusivity.
func (a Attachment) Validate() error {
	if (a.TaskID == nil) == (a.ContactID == nil) {
		return ErrInvalidAttachment
	}
	return nil
}

// AttachmentDetail is an attachment with its resolved display label.
type AttachmentDetail struct {
	Attachment
	Label string `db:"label"`
}

// MessageRead records that a reader has seen a message.
type MessageRead struct {
	MessageID int64     `db:"message_id"`
	UserID    int64     `db:"user_id"`
	ReadAt    time.Time `db:"read_at"`
}

// MessageDetail is the denormalised shape reloaded after a send and used for history.
type MessageDetail struct {
	Message
	SenderUsername    string
	SenderDisplayName string
	Attachments       []AttachmentDetail
	ReadBy            []int64
}
