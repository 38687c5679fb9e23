package draft

import (
	"strings"
	"sync"
)

// Store keeps draft thread state in process memory. Each write targets
// exactly one thread id; concurrent updates to the same thread are
// last-write-wins, which matches human-paced chat cadence.
type Store struct {
	mu    sync.Mutex
	items map[string]ThreadState
}

func NewStore() *Store {
	return &Store{items: make(map[string]ThreadState)}
}

func (s *Store) Get(threadID string) (ThreadState, bool) {
	threadID = strings.TrimSpace(threadID)
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.items[threadID]
	if !ok {
		return ThreadState{}, false
	}
	return cloneState(state), true
}

func (s *Store) put(state ThreadState) {
	s.mu.Lock()
	s.items[state.ThreadID] = cloneState(state)
	s.mu.Unlock()
}

func (s *Store) Delete(threadID string) {
	threadID = strings.TrimSpace(threadID)
	s.mu.Lock()
	delete(s.items, threadID)
	s.mu.Unlock()
}
