package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"estatehub/internal/domain"
	"estatehub/internal/registry"
)

// Event types pushed to connections.
const (
	EventMessage       = "message"
	EventTyping        = "typing"
	EventNewInActivity = "conversation_has_new_message"
)

// Event is a server push addressed to one connection handle.
type Event struct {
	Type string
	Data any
}

// Transport delivers events to live connections. Deliver must not block; an
// unknown or dead handle returns an error and the event is dropped.
type Transport interface {
	Deliver(handle string, ev Event) error
}

type TypingPayload struct {
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	DisplayName    string `json:"display_name"`
	IsTyping       bool   `json:"is_typing"`
}

// BroadcastResult reports who was addressed. Handles that failed delivery are
// still counted; delivery is best effort.
type BroadcastResult struct {
	EchoHandles []string
	Notified    []int64
}

// Broadcaster fans a persisted message out to the conversation group and to
// the live-update feeds of assigned users who are not viewing it.
type Broadcaster struct {
	participants domain.ParticipantRepository
	viewers      *registry.Participation
	groups       *registry.Groups
	stripes      *registry.Stripes
	transport    Transport
	log          *slog.Logger
}

func NewBroadcaster(
	participants domain.ParticipantRepository,
	viewers *registry.Participation,
	groups *registry.Groups,
	stripes *registry.Stripes,
	transport Transport,
	log *slog.Logger,
) *Broadcaster {
	return &Broadcaster{
		participants: participants,
		viewers:      viewers,
		groups:       groups,
		stripes:      stripes,
		transport:    transport,
		log:          log,
	}
}

// Broadcast echoes msg to everyone in the conversation group, then notifies
// assigned - active - {sender} on their live-update feeds. The group and the
// active set are read together under the conversation stripe, the same lock
// join and leave hold, so a viewer is always in exactly one of the two sets.
func (b *Broadcaster) Broadcast(ctx context.Context, conversationID int64, msg *MessageResponse, senderID int64) (BroadcastResult, error) {
	unlock := b.stripes.Lock(conversationID)
	handles := b.groups.ConversationHandles(conversationID)
	active := b.viewers.ActiveViewers(conversationID)
	unlock()

	res := BroadcastResult{EchoHandles: handles}
	echo := Event{Type: EventMessage, Data: msg}
	for _, h := range handles {
		b.deliver(h, echo)
	}

	assigned, err := b.participants.ListParticipantIDs(ctx, conversationID)
	if err != nil {
		return res, fmt.Errorf("list assigned users: %w", err)
	}
	res.Notified = NotifyTargets(assigned, active, senderID)

	notice := Event{Type: EventNewInActivity, Data: msg}
	for _, uid := range res.Notified {
		for _, h := range b.groups.Subscribers(uid) {
			b.deliver(h, notice)
		}
	}
	return res, nil
}

// NotifyTargets is assigned minus active minus the sender.
func NotifyTargets(assigned, active []int64, senderID int64) []int64 {
	return lo.Without(lo.Without(lo.Uniq(assigned), active...), senderID)
}

// Typing pushes a typing indicator to every connection of the conversation
// group except exclude.
func (b *Broadcaster) Typing(conversationID int64, payload TypingPayload, exclude string) int {
	unlock := b.stripes.Lock(conversationID)
	handles := b.groups.ConversationHandles(conversationID)
	unlock()

	ev := Event{Type: EventTyping, Data: payload}
	sent := 0
	for _, h := range handles {
		if h == exclude {
			continue
		}
		b.deliver(h, ev)
		sent++
	}
	return sent
}

func (b *Broadcaster) deliver(handle string, ev Event) {
	if err := b.transport.Deliver(handle, ev); err != nil {
		b.log.Debug("dropped event", "handle", handle, "type", ev.Type, "error", err)
	}
}
