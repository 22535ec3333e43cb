package registry

import "slices"

// Participation records which users are currently viewing each conversation.
// It performs no authorization; callers gate Join themselves.
type Participation struct {
	viewers *KeyedSets[int64, int64]
}

func NewParticipation(shards int) *Participation {
	return &Participation{viewers: NewKeyedSets[int64, int64](shards, HashInt64)}
}

// Join is idempotent.
func (p *Participation) Join(conversationID, userID int64) {
	p.viewers.Add(conversationID, userID)
}

func (p *Participation) Leave(conversationID, userID int64) {
	p.viewers.Remove(conversationID, userID)
}

// ActiveViewers returns a sorted snapshot. A conversation nobody joined yields nil.
func (p *Participation) ActiveViewers(conversationID int64) []int64 {
	ids := p.viewers.Values(conversationID)
	slices.Sort(ids)
	return ids
}

func (p *Participation) IsActive(conversationID, userID int64) bool {
	return p.viewers.Contains(conversationID, userID)
}

// Len is the number of conversations with at least one viewer.
func (p *Participation) Len() int {
	return p.viewers.Len()
}
