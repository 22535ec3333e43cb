package registry

import "sync"

// Stripes is a fixed pool of mutexes addressed by id. Two ids may share a
// stripe; the same id always maps to the same one.
type Stripes struct {
	locks []sync.Mutex
}

func NewStripes(n int) *Stripes {
	if n <= 0 {
		n = DefaultShards
	}
	return &Stripes{locks: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for id and returns its unlock func.
func (s *Stripes) Lock(id int64) func() {
	mu := &s.locks[HashInt64(id)%uint64(len(s.locks))]
	mu.Lock()
	return mu.Unlock
}
