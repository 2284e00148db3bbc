package service

import (
	"sync"
)

// Serializer is the per-session serialization queue. Each submitted
// block awaits the previous tail, runs to completion, then releases the
// next, so at most one block runs at a time and blocks run in submission
// order. Blocks may perform store I/O; they must never submit nested
// blocks, which would deadlock the chain.
type Serializer struct {
	mu   sync.Mutex
	tail <-chan struct{}
}

// Do runs fn after every previously submitted block has finished and
// returns fn's error.
func (s *Serializer) Do(fn func() error) error {
	done := make(chan struct{})

	s.mu.Lock()
	prev := s.tail
	s.tail = done
	s.mu.Unlock()

	defer close(done)
	if prev != nil {
		<-prev
	}
	return fn()
}
