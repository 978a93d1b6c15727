package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
)

var t0 = time.Unix(1_700_000_000, 0)

func policy() Policy {
	return Policy{
		Interval:        30 * time.Second,
		MaxIdle:         3 * time.Minute,
		InitialDeadline: 5 * time.Minute,
		Ceiling:         10 * time.Minute,
	}
}

// drive feeds one classification per interval until the controller expires
// or until the step would have finished on its own.
func drive(c *AdaptiveTimeoutController, p Policy, runFor time.Duration, activity func(elapsed time.Duration) domain.Activity) (Decision, time.Duration) {
	for elapsed := p.Interval; elapsed <= runFor; elapsed += p.Interval {
		d := c.Observe(activity(elapsed), t0.Add(elapsed))
		if d.Verdict == Expire {
			return d, elapsed
		}
	}
	return Decision{Verdict: Hold}, runFor
}

func TestController_ContinuousOutputRunsPastInitialDeadline(t *testing.T) {
	p := policy()
	c := NewAdaptiveTimeoutController(p, t0)

	d, at := drive(c, p, 9*time.Minute, func(time.Duration) domain.Activity { return domain.Active })
	assert.NotEqual(t, Expire, d.Verdict, "expired at %s", at)
	assert.True(t, c.Deadline().After(t0.Add(9*time.Minute)))
}

func TestController_ActiveStepStopsAtCeiling(t *testing.T) {
	p := policy()
	c := NewAdaptiveTimeoutController(p, t0)

	d, at := drive(c, p, time.Hour, func(time.Duration) domain.Activity { return domain.Active })
	require.Equal(t, Expire, d.Verdict)
	assert.ErrorIs(t, d.Err, domain.ErrHardDeadlineExceeded)
	assert.Equal(t, p.Ceiling, at)
}

func TestController_IdleKilledWithinOneInterval(t *testing.T) {
	p := policy()
	c := NewAdaptiveTimeoutController(p, t0)

	// Active for two minutes, then silent.
	d, at := drive(c, p, time.Hour, func(e time.Duration) domain.Activity {
		if e <= 2*time.Minute {
			return domain.Active
		}
		return domain.Idle
	})
	require.Equal(t, Expire, d.Verdict)
	assert.ErrorIs(t, d.Err, domain.ErrStalledProgress)

	idleStart := 2 * time.Minute
	assert.GreaterOrEqual(t, at-idleStart, p.MaxIdle)
	assert.LessOrEqual(t, at-idleStart, p.MaxIdle+p.Interval)
}

func TestController_NeverActiveBoundedByIdleWindow(t *testing.T) {
	p := policy()
	c := NewAdaptiveTimeoutController(p, t0)

	d, at := drive(c, p, time.Hour, func(time.Duration) domain.Activity { return domain.Idle })
	require.Equal(t, Expire, d.Verdict)
	assert.ErrorIs(t, d.Err, domain.ErrStalledProgress)
	assert.Equal(t, p.MaxIdle, at)
}

func TestController_ShortIdleGapsDoNotExpire(t *testing.T) {
	p := policy()
	c := NewAdaptiveTimeoutController(p, t0)

	// One idle interval out of every three.
	d, _ := drive(c, p, 9*time.Minute, func(e time.Duration) domain.Activity {
		if (e/p.Interval)%3 == 0 {
			return domain.Idle
		}
		return domain.Active
	})
	assert.NotEqual(t, Expire, d.Verdict)
	assert.True(t, c.IdleSince().IsZero() || c.IdleSince().After(t0))
}

func TestController_InitialDeadlineCappedByCeiling(t *testing.T) {
	p := policy()
	p.Ceiling = 2 * time.Minute
	c := NewAdaptiveTimeoutController(p, t0)
	assert.Equal(t, t0.Add(2*time.Minute), c.Deadline())
}

func TestController_UnlimitedCeiling(t *testing.T) {
	p := policy()
	p.Ceiling = 0
	c := NewAdaptiveTimeoutController(p, t0)

	d, _ := drive(c, p, 3*time.Hour, func(time.Duration) domain.Activity { return domain.Active })
	assert.NotEqual(t, Expire, d.Verdict)
}

func TestController_ExtendReportsVerdict(t *testing.T) {
	p := policy()
	c := NewAdaptiveTimeoutController(p, t0)

	d := c.Observe(domain.Active, t0.Add(p.Interval))
	assert.Equal(t, Extend, d.Verdict)
	assert.Equal(t, t0.Add(p.InitialDeadline+p.Interval), d.Deadline)

	d = c.Observe(domain.Idle, t0.Add(2*p.Interval))
	assert.Equal(t, Hold, d.Verdict)
	assert.Equal(t, t0.Add(p.Interval), c.IdleSince())
}
