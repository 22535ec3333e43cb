package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"

	"estatehub/internal/domain"
	"estatehub/internal/security"
)

const MaxMessageRunes = 5000

type MessageService struct {
	messages  domain.MessageRepository
	encryptor *security.Encryptor
	log       *slog.Logger

	PageSize int
}

func NewMessageService(messages domain.MessageRepository, encryptor *security.Encryptor, log *slog.Logger, pageSize int) *MessageService {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &MessageService{
		messages:  messages,
		encryptor: encryptor,
		log:       log,
		PageSize:  pageSize,
	}
}

// AttachmentInput references exactly one of a task or a contact.
type AttachmentInput struct {
	TaskID    *int64 `json:"task_id,omitempty"`
	ContactID *int64 `json:"contact_id,omitempty"`
}

type SendMessageInput struct {
	ConversationID int64
	SenderID       int64
	Text           string
	Attachments    []AttachmentInput
	LocalID        string
}

type AttachmentResponse struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	TaskID    *int64 `json:"task_id,omitempty"`
	ContactID *int64 `json:"contact_id,omitempty"`
	Label     string `json:"label"`
}

// MessageResponse is the payload of message and live-update events.
type MessageResponse struct {
	ID                int64                `json:"id"`
	ConversationID    int64                `json:"conversation_id"`
	SenderID          int64                `json:"sender_id"`
	SenderUsername    string               `json:"sender_username"`
	SenderDisplayName string               `json:"sender_display_name"`
	Text              string               `json:"text"`
	CreatedAt         time.Time            `json:"created_at"`
	Attachments       []AttachmentResponse `json:"attachments"`
	ReadBy            []int64              `json:"read_by"`
	IsRead            bool                 `json:"is_read"`
	LocalID           string               `json:"local_id,omitempty"`
}

// SendMessage persists a message with its attachments and a read receipt for
// the sender and every id in activeViewerIDs, then reloads it for delivery.
// activeViewerIDs must be snapshotted by the caller before this call.
func (s *MessageService) SendMessage(ctx context.Context, in SendMessageInput, activeViewerIDs []int64) (*MessageResponse, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("%w: message text is empty", domain.ErrInvalidPayload)
	}
	if utf8.RuneCountInString(in.Text) > MaxMessageRunes {
		return nil, fmt.Errorf("%w: message text exceeds %d characters", domain.ErrInvalidPayload, MaxMessageRunes)
	}
	attachments := make([]domain.Attachment, 0, len(in.Attachments))
	for i, a := range in.Attachments {
		att := domain.Attachment{TaskID: a.TaskID, ContactID: a.ContactID}
		if err := att.Validate(); err != nil {
			return nil, fmt.Errorf("%w: attachment %d: %v", domain.ErrInvalidPayload, i, err)
		}
		attachments = append(attachments, att)
	}

	encrypted, err := s.encryptor.Encrypt(in.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: encrypt: %v", domain.ErrSendFailed, err)
	}

	readers := lo.Uniq(append([]int64{in.SenderID}, activeViewerIDs...))
	msg := &domain.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        encrypted,
	}
	if err := s.messages.CreateWithReceipts(ctx, msg, attachments, readers); err != nil {
		s.log.Error("send message rolled back",
			"conversation_id", in.ConversationID, "sender_id", in.SenderID, "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrSendFailed, err)
	}

	detail, err := s.messages.GetDetail(ctx, msg.ID)
	if err != nil {
		// The message is committed; fall back to what was written.
		s.log.Warn("reload sent message", "message_id", msg.ID, "error", err)
		detail = &domain.MessageDetail{Message: *msg, ReadBy: readers}
		for _, a := range attachments {
			detail.Attachments = append(detail.Attachments, domain.AttachmentDetail{Attachment: a})
		}
	}

	resp := s.ToResponse(detail, in.SenderID)
	resp.LocalID = in.LocalID
	return resp, nil
}

// ListMessages returns a page of history in chronological order. Callers gate access.
func (s *MessageService) ListMessages(ctx context.Context, conversationID, viewerID, beforeID int64, limit int) ([]*MessageResponse, error) {
	if limit <= 0 || limit > s.PageSize {
		limit = s.PageSize
	}
	details, err := s.messages.ListForConversation(ctx, conversationID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	slices.Reverse(details)
	return lo.Map(details, func(d *domain.MessageDetail, _ int) *MessageResponse {
		return s.ToResponse(d, viewerID)
	}), nil
}

// ToResponse decrypts the content. Undecryptable content is returned raw.
func (s *MessageService) ToResponse(d *domain.MessageDetail, viewerID int64) *MessageResponse {
	text := d.Content
	if !d.IsDeleted {
		if dec, err := s.encryptor.Decrypt(d.Content); err == nil {
			text = dec
		} else {
			s.log.Warn("decrypt message", "message_id", d.ID, "error", err)
		}
	}
	readBy := d.ReadBy
	if readBy == nil {
		readBy = []int64{}
	}
	return &MessageResponse{
		ID:                d.ID,
		ConversationID:    d.ConversationID,
		SenderID:          d.SenderID,
		SenderUsername:    d.SenderUsername,
		SenderDisplayName: d.SenderDisplayName,
		Text:              text,
		CreatedAt:         d.CreatedAt,
		Attachments:       lo.Map(d.Attachments, toAttachmentResponse),
		ReadBy:            readBy,
		IsRead:            slices.Contains(readBy, viewerID),
	}
}

func toAttachmentResponse(a domain.AttachmentDetail, _ int) AttachmentResponse {
	kind := "task"
	if a.ContactID != nil {
		kind = "contact"
	}
	return AttachmentResponse{
		ID:        a.ID,
		Kind:      kind,
		TaskID:    a.TaskID,
		ContactID: a.ContactID,
		Label:     a.Label,
	}
}
