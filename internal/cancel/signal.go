// Package cancel provides a one-shot broadcast signal used to interrupt
// a pending wait without polling.
package cancel

import "sync"

// Signal fires at most once and cannot be reset. Waits begun after the
// signal has fired resolve immediately.
type Signal struct {
	once sync.Once
	done chan struct{}
}

func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Cancel fires the signal, releasing every current and future waiter.
// Safe to call multiple times and from multiple goroutines.
func (s *Signal) Cancel() {
	s.once.Do(func() { close(s.done) })
}

// Cancelled reports whether the signal has fired.
func (s *Signal) Cancelled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the signal fires. Intended for use
// in a select against timers or context cancellation.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}
