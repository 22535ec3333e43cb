package registry

// Presence tracks the live connection handles of every online user.
// A user is online iff at least one handle is registered.
type Presence struct {
	conns *KeyedSets[int64, string]
}

func NewPresence(shards int) *Presence {
	return &Presence{conns: NewKeyedSets[int64, string](shards, HashInt64)}
}

// Connect registers handle for userID. It reports whether this was the
// user's first connection.
func (p *Presence) Connect(userID int64, handle string) (cameOnline bool) {
	return p.conns.Add(userID, handle)
}

// Disconnect forgets handle. It reports whether the user has no connection left.
// Unknown handles are ignored.
func (p *Presence) Disconnect(userID int64, handle string) (wentOffline bool) {
	return p.conns.Remove(userID, handle)
}

func (p *Presence) IsOnline(userID int64) bool {
	return p.conns.Has(userID)
}

// Connections returns a copy of userID's handles.
func (p *Presence) Connections(userID int64) []string {
	return p.conns.Values(userID)
}

func (p *Presence) OnlineUsers() []int64 {
	return p.conns.Keys()
}

// Len is the number of online users.
func (p *Presence) Len() int {
	return p.conns.Len()
}
