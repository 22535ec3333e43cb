package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripes_SerializesSameID(t *testing.T) {
	s := NewStripes(16)
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock(500)
			counter++
			unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 100, counter)
}

func TestKeyedSets_DeleteReturnsMembers(t *testing.T) {
	req := require.New(t)
	s := NewKeyedSets[string, int64](2, HashString)

	s.Add("conn", 1)
	s.Add("conn", 2)

	req.ElementsMatch([]int64{1, 2}, s.Delete("conn"))
	req.False(s.Has("conn"))
	req.Nil(s.Delete("conn"))
}
