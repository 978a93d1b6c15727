// Package shutdown owns the run-wide cancellation token and turns
// SIGINT/SIGTERM into immediate process-group kills and a bounded exit.
package shutdown

import (
	"sync"
	"time"
)

// Token is the single cancellation flag of a run. Workers only read it;
// the Coordinator is the only writer.
type Token struct {
	mu   sync.Mutex
	at   time.Time
	done chan struct{}
}

// NewToken returns an unset token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Request sets the token. It returns false if it was already set; the
// recorded time never moves backwards.
func (t *Token) Request() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return false
	default:
	}
	t.at = time.Now()
	close(t.done)
	return true
}

// Requested reports whether shutdown has been requested.
func (t *Token) Requested() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// RequestedAt returns when shutdown was requested, zero if it was not.
func (t *Token) RequestedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.at
}

// Done is closed once shutdown is requested.
func (t *Token) Done() <-chan struct{} { return t.done }
