package executor

import (
	"bytes"
	"sync"
	"sync/atomic"
)

const truncatedMarker = "... earlier output truncated ...\n"

// tailBuffer keeps the most recent limit bytes written to it and counts every
// byte ever written. The count feeds the progress monitor while the scanner
// is still running, so it is read without taking the buffer lock.
type tailBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
	total     *atomic.Uint64
}

func newTailBuffer(limit int, total *atomic.Uint64) *tailBuffer {
	return &tailBuffer{limit: limit, total: total}
}

func (tb *tailBuffer) Write(p []byte) (int, error) {
	tb.total.Add(uint64(len(p)))

	tb.mu.Lock()
	defer tb.mu.Unlock()

	if len(p) >= tb.limit {
		tb.buf.Reset()
		tb.buf.Write(p[len(p)-tb.limit:])
		tb.truncated = true
		return len(p), nil
	}
	tb.buf.Write(p)
	// Compact only once the buffer doubles to keep writes amortised.
	if tb.buf.Len() > 2*tb.limit {
		keep := tb.buf.Bytes()[tb.buf.Len()-tb.limit:]
		tail := append([]byte(nil), keep...)
		tb.buf.Reset()
		tb.buf.Write(tail)
		tb.truncated = true
	}
	return len(p), nil
}

// String returns the retained tail, marked when earlier output was dropped.
func (tb *tailBuffer) String() string {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	b := tb.buf.Bytes()
	if len(b) > tb.limit {
		b = b[len(b)-tb.limit:]
		return truncatedMarker + string(b)
	}
	if tb.truncated {
		return truncatedMarker + string(b)
	}
	return string(b)
}
