// Package registry holds the process-wide view of loaded index artifacts.
//
// Tables reach the registry through a Hub. If a consumer is attached the
// table is handed over immediately, otherwise it is buffered until one
// attaches, mirroring the register_implementors / pending_implementors
// handoff rustdoc's generated scripts perform.
package registry

import "sync"

// Slot delivers values to an installed hook, or buffers them until a hook is
// installed. Hooks run with the slot locked and must not call back into it.
type Slot[T any] struct {
	mu      sync.Mutex
	hook    func(T)
	pending []T
}

// Register hands v to the hook, or buffers it. It reports whether v was
// delivered immediately.
func (s *Slot[T]) Register(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hook != nil {
		s.hook(v)
		return true
	}
	s.pending = append(s.pending, v)
	return false
}

// Install sets the hook and flushes buffered values to it in registration
// order, returning how many were flushed.
func (s *Slot[T]) Install(hook func(T)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
	pending := s.pending
	s.pending = nil
	for _, v := range pending {
		hook(v)
	}
	return len(pending)
}

// Uninstall removes the hook; later registrations are buffered again.
func (s *Slot[T]) Uninstall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = nil
}

// Pending returns the number of buffered values.
func (s *Slot[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Installed reports whether a hook is present.
func (s *Slot[T]) Installed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hook != nil
}
