package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParticipation_JoinIsIdempotent(t *testing.T) {
	req := require.New(t)
	p := NewParticipation(4)

	p.Join(500, 10)
	p.Join(500, 10)

	req.Equal([]int64{10}, p.ActiveViewers(500))
}

func TestParticipation_IsolationBetweenConversations(t *testing.T) {
	req := require.New(t)
	p := NewParticipation(4)

	// Given user 1 viewing conversation A
	p.Join(1, 1)

	// When user 2 joins conversation B
	p.Join(2, 2)

	// Then A is unchanged
	req.Equal([]int64{1}, p.ActiveViewers(1))
	req.Equal([]int64{2}, p.ActiveViewers(2))
	req.False(p.IsActive(1, 2))
}

func TestParticipation_LeaveDropsEmptyConversation(t *testing.T) {
	req := require.New(t)
	p := NewParticipation(4)

	p.Join(500, 10)
	p.Join(500, 11)
	p.Leave(500, 10)
	req.Equal([]int64{11}, p.ActiveViewers(500))

	p.Leave(500, 11)
	req.Nil(p.ActiveViewers(500))
	req.Zero(p.Len())

	// Leaving again, or leaving an unknown conversation, is harmless
	p.Leave(500, 11)
	p.Leave(999, 1)
	req.Zero(p.Len())
}

func TestParticipation_UnknownConversationHasNoViewers(t *testing.T) {
	require.Empty(t, NewParticipation(4).ActiveViewers(42))
}

func TestParticipation_ConcurrentJoinLeave(t *testing.T) {
	req := require.New(t)
	p := NewParticipation(8)

	var wg sync.WaitGroup
	for conv := int64(1); conv <= 10; conv++ {
		for user := int64(1); user <= 30; user++ {
			wg.Add(1)
			go func(c, u int64) {
				defer wg.Done()
				p.Join(c, u)
				if u%2 == 0 {
					p.Leave(c, u)
				}
			}(conv, user)
		}
	}
	wg.Wait()

	for conv := int64(1); conv <= 10; conv++ {
		viewers := p.ActiveViewers(conv)
		req.Len(viewers, 15)
		for _, u := range viewers {
			req.Equal(int64(1), u%2)
		}
	}
}
