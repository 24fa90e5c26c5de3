package util

import "sync"

// Sequencer delivers numbered values in order. Producers may push out of
// order from different goroutines; a value is handed to deliver only after
// every lower sequence number has been delivered. Delivery runs on whichever
// pushing goroutine finds the next value ready, never under the caller's own
// locks, so deliver may call back into the producer.
type Sequencer[T any] struct {
	deliver func(T)

	mu      sync.Mutex
	next    int64
	pending map[int64]T
	running bool
}

// NewSequencer creates a sequencer expecting first as its first number
func NewSequencer[T any](first int64, deliver func(T)) *Sequencer[T] {
	return &Sequencer[T]{
		deliver: deliver,
		next:    first,
		pending: make(map[int64]T),
	}
}

// Push queues v under seq and delivers every value that is now in order.
// Numbers already delivered are dropped.
func (s *Sequencer[T]) Push(seq int64, v T) {
	s.mu.Lock()
	if seq < s.next {
		s.mu.Unlock()
		return
	}
	s.pending[seq] = v
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true

	for {
		v, ok := s.pending[s.next]
		if !ok {
			break
		}
		delete(s.pending, s.next)
		s.next++
		s.mu.Unlock()
		s.deliver(v)
		s.mu.Lock()
	}

	s.running = false
	s.mu.Unlock()
}
