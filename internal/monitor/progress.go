package monitor

import (
	"time"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
)

// ProgressMonitor classifies sampling intervals of one running step.
// It is not safe for concurrent use; the step's supervision loop owns it.
type ProgressMonitor struct {
	sampler   Sampler
	pgid      int
	minCPU    float64
	cpus      float64
	history   *ring
	started   bool
	lastAt    time.Time
	lastCPU   time.Duration
	lastIO    uint64
	lastBytes uint64
}

// NewProgressMonitor creates a monitor for the given process group.
// minCPU is the percent of one core above which an interval counts as active.
func NewProgressMonitor(sampler Sampler, pgid int, minCPU float64, history int) *ProgressMonitor {
	return &ProgressMonitor{
		sampler: sampler,
		pgid:    pgid,
		minCPU:  minCPU,
		history: newRing(history),
	}
}

// Start records the baseline. outputBytes is the cumulative stdout+stderr count.
func (m *ProgressMonitor) Start(now time.Time, outputBytes uint64) {
	m.lastAt = now
	m.lastBytes = outputBytes
	if c, err := m.sampler.Sample(m.pgid); err == nil {
		m.lastCPU = c.CPUTime
		m.lastIO = c.IOBytes
	}
	m.started = true
}

// Observe takes one sample and classifies the interval since the previous one.
// A step counts as active when any one of CPU, output or I/O moved: CPU-bound
// analysers can be silent for long stretches and downloaders barely use CPU.
func (m *ProgressMonitor) Observe(now time.Time, outputBytes uint64) domain.ProgressSample {
	if !m.started {
		m.Start(now, outputBytes)
	}
	s := domain.ProgressSample{At: now}

	if outputBytes > m.lastBytes {
		s.OutputBytesDelta = outputBytes - m.lastBytes
	}
	m.lastBytes = outputBytes

	// A failed read means the group is gone or unreadable; only output counts then.
	if c, err := m.sampler.Sample(m.pgid); err == nil {
		wall := now.Sub(m.lastAt)
		if c.CPUTime > m.lastCPU && wall > 0 {
			s.CPUPercent = float64(c.CPUTime-m.lastCPU) / float64(wall) * 100
		}
		if c.IOBytes > m.lastIO {
			s.IOBytesDelta = c.IOBytes - m.lastIO
		}
		m.lastCPU = c.CPUTime
		m.lastIO = c.IOBytes
	}
	m.lastAt = now

	if s.CPUPercent > m.minCPU || s.OutputBytesDelta > 0 || s.IOBytesDelta > 0 {
		s.Activity = domain.Active
	}
	m.history.push(s)
	return s
}

// Samples returns the retained history, oldest first.
func (m *ProgressMonitor) Samples() []domain.ProgressSample {
	return m.history.snapshot()
}
