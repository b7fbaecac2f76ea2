package task

import "sync"

// Cancellable is an in-flight operation.
type Cancellable interface {
	Cancel()
}

// CallStore holds at most one in-flight operation. Storing a new one cancels the previous.
type CallStore struct {
	mu      sync.Mutex
	current Cancellable
}

// Replace stores call and cancels whatever was in flight before
func (s *CallStore) Replace(call Cancellable) {
	s.mu.Lock()
	previous := s.current
	s.current = call
	s.mu.Unlock()
	if previous != nil && previous != call {
		previous.Cancel()
	}
}

// Clear empties the slot if call is still the current one
func (s *CallStore) Clear(call Cancellable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == call {
		s.current = nil
	}
}

// IsCurrent reports whether call is the one in flight
func (s *CallStore) IsCurrent(call Cancellable) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == call
}

// CancelAll cancels and clears the slot
func (s *CallStore) CancelAll() {
	s.mu.Lock()
	previous := s.current
	s.current = nil
	s.mu.Unlock()
	if previous != nil {
		previous.Cancel()
	}
}
