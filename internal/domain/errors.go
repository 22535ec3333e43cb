package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource already exists")
	ErrInvalidInput = errors.New("invalid input")

	// Realtime core failures. Each one is terminal for a single operation only.
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrNotAParticipant   = errors.New("not a participant in this conversation")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrSendFailed        = errors.New("failed to send message")
	ErrInvalidAttachment = errors.New("attachment must reference exactly one of task or contact")
)
