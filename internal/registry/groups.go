package registry

// Groups tracks transport-level membership: which connection handles are
// subscribed to each conversation, to each user's live-update feed, and which
// conversations each handle joined so a closing connection can be cleaned up
// without scanning every conversation.
type Groups struct {
	conversations *KeyedSets[int64, string]
	live          *KeyedSets[int64, string]
	joined        *KeyedSets[string, int64]
}

func NewGroups(shards int) *Groups {
	return &Groups{
		conversations: NewKeyedSets[int64, string](shards, HashInt64),
		live:          NewKeyedSets[int64, string](shards, HashInt64),
		joined:        NewKeyedSets[string, int64](shards, HashString),
	}
}

func (g *Groups) JoinConversation(conversationID int64, handle string) {
	g.conversations.Add(conversationID, handle)
	g.joined.Add(handle, conversationID)
}

func (g *Groups) LeaveConversation(conversationID int64, handle string) {
	g.conversations.Remove(conversationID, handle)
	g.joined.Remove(handle, conversationID)
}

// InConversation reports whether handle is in the conversation group.
func (g *Groups) InConversation(conversationID int64, handle string) bool {
	return g.joined.Contains(handle, conversationID)
}

// ConversationHandles is a snapshot of the conversation group.
func (g *Groups) ConversationHandles(conversationID int64) []string {
	return g.conversations.Values(conversationID)
}

// Joined returns the conversations handle is currently in.
func (g *Groups) Joined(handle string) []int64 {
	return g.joined.Values(handle)
}

func (g *Groups) Subscribe(userID int64, handle string) {
	g.live.Add(userID, handle)
}

func (g *Groups) Unsubscribe(userID int64, handle string) {
	g.live.Remove(userID, handle)
}

// Subscribers is a snapshot of the handles listening to userID's live updates.
func (g *Groups) Subscribers(userID int64) []string {
	return g.live.Values(userID)
}
