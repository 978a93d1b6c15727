package monitor

import (
	"fmt"
	"time"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
)

// Verdict is the controller's decision for one interval.
type Verdict int

const (
	Extend Verdict = iota
	Hold
	Expire
)

func (v Verdict) String() string {
	switch v {
	case Extend:
		return "extend"
	case Hold:
		return "hold"
	default:
		return "expire"
	}
}

// Decision carries the verdict and, on expiry, the classified cause.
type Decision struct {
	Verdict  Verdict
	Deadline time.Time
	Err      error
	Reason   string
}

// Policy holds the timeout knobs for one step.
type Policy struct {
	Interval        time.Duration
	MaxIdle         time.Duration
	InitialDeadline time.Duration
	Ceiling         time.Duration // 0 = unlimited
}

// AdaptiveTimeoutController keeps a short deadline that only grows while the
// step shows activity, plus an idle window that expires regardless of how
// much budget is left.
type AdaptiveTimeoutController struct {
	policy    Policy
	started   time.Time
	hard      time.Time // zero when unlimited
	deadline  time.Time
	idleSince time.Time
	lastObs   time.Time
}

// NewAdaptiveTimeoutController starts supervision of a step at start.
func NewAdaptiveTimeoutController(p Policy, start time.Time) *AdaptiveTimeoutController {
	c := &AdaptiveTimeoutController{policy: p, started: start, lastObs: start}
	initial := p.InitialDeadline
	if p.Ceiling > 0 {
		c.hard = start.Add(p.Ceiling)
		if initial <= 0 || initial > p.Ceiling {
			initial = p.Ceiling
		}
	}
	c.deadline = start.Add(initial)
	return c
}

// Deadline returns the current adaptive deadline.
func (c *AdaptiveTimeoutController) Deadline() time.Time { return c.deadline }

// IdleSince returns the start of the current idle stretch, zero when active.
func (c *AdaptiveTimeoutController) IdleSince() time.Time { return c.idleSince }

// Observe folds one classification into the controller.
func (c *AdaptiveTimeoutController) Observe(a domain.Activity, now time.Time) Decision {
	prev := c.lastObs
	c.lastObs = now

	verdict := Hold
	if a == domain.Active {
		c.idleSince = time.Time{}
		next := c.deadline.Add(c.policy.Interval)
		if floor := now.Add(c.policy.Interval); next.Before(floor) {
			next = floor
		}
		if !c.hard.IsZero() && next.After(c.hard) {
			next = c.hard
		}
		if next.After(c.deadline) {
			c.deadline = next
			verdict = Extend
		}
	} else {
		// The whole interval since the previous sample was idle.
		if c.idleSince.IsZero() {
			c.idleSince = prev
		}
		if idle := now.Sub(c.idleSince); idle >= c.policy.MaxIdle {
			return Decision{
				Verdict:  Expire,
				Deadline: c.deadline,
				Err:      domain.ErrStalledProgress,
				Reason:   fmt.Sprintf("no cpu, i/o or output activity for %s", idle.Round(time.Millisecond)),
			}
		}
	}

	if !c.hard.IsZero() && !now.Before(c.hard) {
		return Decision{
			Verdict:  Expire,
			Deadline: c.deadline,
			Err:      domain.ErrHardDeadlineExceeded,
			Reason:   fmt.Sprintf("scanner ceiling of %s reached", c.policy.Ceiling),
		}
	}
	if !now.Before(c.deadline) {
		return Decision{
			Verdict:  Expire,
			Deadline: c.deadline,
			Err:      domain.ErrStalledProgress,
			Reason:   fmt.Sprintf("adaptive deadline lapsed after %s without sustained progress", now.Sub(c.started).Round(time.Millisecond)),
		}
	}
	return Decision{Verdict: verdict, Deadline: c.deadline}
}
