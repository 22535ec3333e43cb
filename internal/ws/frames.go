package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"estatehub/internal/domain"
	"estatehub/internal/service"
)

// Inbound frame types.
const (
	TypeJoinConversation  = "join_conversation"
	TypeLeaveConversation = "leave_conversation"
	TypeSendMessage       = "send_message"
	TypeTyping            = "typing"
	TypeJoinLiveUpdates   = "join_live_updates"
	TypeLeaveLiveUpdates  = "leave_live_updates"
)

// Outbound frame types besides the service events.
const (
	TypeAck       = "ack"
	TypeError     = "error"
	TypeConnected = "connected"
)

// Error codes carried by error frames.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeNotAParticipant = "not_a_participant"
	CodeInvalidPayload  = "invalid_payload"
	CodeSendFailed      = "send_failed"
	CodeUnsupportedType = "unsupported_type"
	CodeInternal        = "internal"
)

// Envelope is every client frame. Data is decoded per Type.
type Envelope struct {
	Type      string          `json:"type" validate:"required"`
	RequestID string          `json:"request_id,omitempty" validate:"max=64"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Frame is every server frame.
type Frame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ConnectedData struct {
	UserID int64  `json:"user_id"`
	Handle string `json:"handle"`
}

type ConversationData struct {
	ConversationID int64 `json:"conversation_id" validate:"required,gt=0"`
}

type AttachmentData struct {
	TaskID    *int64 `json:"task_id,omitempty" validate:"required_without=ContactID,excluded_with=ContactID"`
	ContactID *int64 `json:"contact_id,omitempty" validate:"required_without=TaskID,excluded_with=TaskID"`
}

type SendMessageData struct {
	ConversationID int64            `json:"conversation_id" validate:"required,gt=0"`
	Text           string           `json:"text" validate:"required,max=5000"`
	LocalID        string           `json:"local_id,omitempty" validate:"max=64"`
	Attachments    []AttachmentData `json:"attachments,omitempty" validate:"max=20,dive"`
}

func (d SendMessageData) Input() service.SendMessageInput {
	in := service.SendMessageInput{
		ConversationID: d.ConversationID,
		Text:           d.Text,
		LocalID:        d.LocalID,
	}
	for _, a := range d.Attachments {
		in.Attachments = append(in.Attachments, service.AttachmentInput{TaskID: a.TaskID, ContactID: a.ContactID})
	}
	return in
}

type TypingData struct {
	ConversationID int64 `json:"conversation_id" validate:"required,gt=0"`
	IsTyping       bool  `json:"is_typing"`
}

// Decoder parses and validates frames before anything touches the registries.
type Decoder struct {
	validate *validator.Validate
}

func NewDecoder() *Decoder {
	return &Decoder{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (d *Decoder) Envelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if err := d.validate.Struct(env); err != nil {
		return env, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return env, nil
}

// Data decodes raw into dst, rejecting unknown fields, and validates it.
func (d *Decoder) Data(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: data is required", domain.ErrInvalidPayload)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if err := d.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return nil
}

// errorFrame maps an operation failure to its client-facing code. Internal
// details are only exposed for payload errors.
func errorFrame(requestID string, err error) Frame {
	data := ErrorData{Code: CodeInternal, Message: "internal error"}
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		data = ErrorData{Code: CodeUnauthenticated, Message: domain.ErrUnauthenticated.Error()}
	case errors.Is(err, domain.ErrNotAParticipant):
		data = ErrorData{Code: CodeNotAParticipant, Message: domain.ErrNotAParticipant.Error()}
	case errors.Is(err, domain.ErrInvalidPayload):
		data = ErrorData{Code: CodeInvalidPayload, Message: err.Error()}
	case errors.Is(err, domain.ErrSendFailed):
		data = ErrorData{Code: CodeSendFailed, Message: domain.ErrSendFailed.Error()}
	case errors.Is(err, errUnsupportedType):
		data = ErrorData{Code: CodeUnsupportedType, Message: err.Error()}
	}
	return Frame{Type: TypeError, RequestID: requestID, Data: data}
}

var errUnsupportedType = errors.New("unsupported frame type")
