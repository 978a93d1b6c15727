package monitor

import "github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"

// DefaultHistory is the number of samples kept per running step.
const DefaultHistory = 64

// ring is a fixed-size buffer of the most recent samples.
type ring struct {
	buf  []domain.ProgressSample
	next int
	full bool
}

func newRing(size int) *ring {
	if size < 1 {
		size = DefaultHistory
	}
	return &ring{buf: make([]domain.ProgressSample, size)}
}

func (r *ring) push(s domain.ProgressSample) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns the samples oldest first.
func (r *ring) snapshot() []domain.ProgressSample {
	if !r.full {
		return append([]domain.ProgressSample(nil), r.buf[:r.next]...)
	}
	out := make([]domain.ProgressSample, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
