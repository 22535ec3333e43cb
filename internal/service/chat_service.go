package service

import (
	"context"
	"log/slog"
	"slices"

	"estatehub/internal/domain"
	"estatehub/internal/registry"
)

// Session is one authenticated connection. Handle is empty for requests that
// arrive without a persistent connection.
type Session struct {
	User   *domain.User
	Handle string
}

// ChatService coordinates the registries, the gate, the send transaction and
// the fan-out for every realtime operation.
type ChatService struct {
	gate        *Gate
	messages    *MessageService
	broadcaster *Broadcaster
	presence    *registry.Presence
	viewers     *registry.Participation
	groups      *registry.Groups
	stripes     *registry.Stripes
	users       domain.UserRepository
	log         *slog.Logger

	// userLocks orders each user's presence transitions with the matching
	// is_online write. Kept apart from the conversation stripes so the two
	// never nest on one mutex.
	userLocks *registry.Stripes
}

func NewChatService(
	gate *Gate,
	messages *MessageService,
	broadcaster *Broadcaster,
	presence *registry.Presence,
	viewers *registry.Participation,
	groups *registry.Groups,
	stripes *registry.Stripes,
	users domain.UserRepository,
	log *slog.Logger,
) *ChatService {
	return &ChatService{
		gate:        gate,
		messages:    messages,
		broadcaster: broadcaster,
		presence:    presence,
		viewers:     viewers,
		groups:      groups,
		stripes:     stripes,
		users:       users,
		log:         log,
		userLocks:   registry.NewStripes(registry.DefaultShards),
	}
}

// Connect registers the connection and marks the user online on their first one.
func (c *ChatService) Connect(ctx context.Context, s Session) {
	unlock := c.userLocks.Lock(s.User.ID)
	defer unlock()
	if c.presence.Connect(s.User.ID, s.Handle) {
		if err := c.users.SetOnlineStatus(ctx, s.User.ID, true); err != nil {
			c.log.Warn("persist online status", "user_id", s.User.ID, "error", err)
		}
	}
}

// Disconnect leaves every conversation the handle joined, drops its
// live-update subscription and releases its presence entry.
func (c *ChatService) Disconnect(ctx context.Context, s Session) {
	for _, conversationID := range c.groups.Joined(s.Handle) {
		unlock := c.stripes.Lock(conversationID)
		c.leaveLocked(conversationID, s)
		unlock()
	}
	c.groups.Unsubscribe(s.User.ID, s.Handle)

	unlock := c.userLocks.Lock(s.User.ID)
	defer unlock()
	if c.presence.Disconnect(s.User.ID, s.Handle) {
		if err := c.users.SetOnlineStatus(ctx, s.User.ID, false); err != nil {
			c.log.Warn("persist offline status", "user_id", s.User.ID, "error", err)
		}
	}
}

// JoinConversation is idempotent.
func (c *ChatService) JoinConversation(ctx context.Context, s Session, conversationID int64) error {
	if err := c.gate.EnsureParticipant(ctx, s.User.ID, conversationID); err != nil {
		return err
	}
	unlock := c.stripes.Lock(conversationID)
	defer unlock()
	c.groups.JoinConversation(conversationID, s.Handle)
	c.viewers.Join(conversationID, s.User.ID)
	return nil
}

func (c *ChatService) LeaveConversation(_ context.Context, s Session, conversationID int64) {
	unlock := c.stripes.Lock(conversationID)
	defer unlock()
	c.leaveLocked(conversationID, s)
}

// leaveLocked keeps the user an active viewer while another of their
// connections is still in the group. Caller holds the conversation stripe.
func (c *ChatService) leaveLocked(conversationID int64, s Session) {
	c.groups.LeaveConversation(conversationID, s.Handle)
	for _, h := range c.presence.Connections(s.User.ID) {
		if h != s.Handle && c.groups.InConversation(conversationID, h) {
			return
		}
	}
	c.viewers.Leave(conversationID, s.User.ID)
}

// SendMessage runs the gate, persists the message with read receipts for the
// current viewers and fans it out. Fan-out failures are logged, never returned.
func (c *ChatService) SendMessage(ctx context.Context, s Session, in SendMessageInput) (*MessageResponse, error) {
	if err := c.gate.EnsureParticipant(ctx, s.User.ID, in.ConversationID); err != nil {
		return nil, err
	}
	in.SenderID = s.User.ID

	active := c.viewers.ActiveViewers(in.ConversationID)
	msg, err := c.messages.SendMessage(ctx, in, active)
	if err != nil {
		return nil, err
	}

	res, err := c.broadcaster.Broadcast(ctx, in.ConversationID, msg, s.User.ID)
	if err != nil {
		c.log.Warn("live-update fan-out incomplete", "conversation_id", in.ConversationID, "message_id", msg.ID, "error", err)
	}
	c.log.Debug("message sent",
		"conversation_id", in.ConversationID, "message_id", msg.ID,
		"echoed", len(res.EchoHandles), "notified", res.Notified)
	return msg, nil
}

func (c *ChatService) SetTyping(ctx context.Context, s Session, conversationID int64, isTyping bool) error {
	if err := c.gate.EnsureParticipant(ctx, s.User.ID, conversationID); err != nil {
		return err
	}
	c.broadcaster.Typing(conversationID, TypingPayload{
		ConversationID: conversationID,
		UserID:         s.User.ID,
		DisplayName:    s.User.Name(),
		IsTyping:       isTyping,
	}, s.Handle)
	return nil
}

func (c *ChatService) JoinLiveUpdates(s Session) {
	c.groups.Subscribe(s.User.ID, s.Handle)
}

func (c *ChatService) LeaveLiveUpdates(s Session) {
	c.groups.Unsubscribe(s.User.ID, s.Handle)
}

// History returns a page of messages older than beforeID for a participant.
func (c *ChatService) History(ctx context.Context, userID, conversationID, beforeID int64, limit int) ([]*MessageResponse, error) {
	if err := c.gate.EnsureParticipant(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return c.messages.ListMessages(ctx, conversationID, userID, beforeID, limit)
}

// OnlineUserIDs is a sorted snapshot of users with at least one connection.
func (c *ChatService) OnlineUserIDs() []int64 {
	ids := c.presence.OnlineUsers()
	slices.Sort(ids)
	return ids
}
