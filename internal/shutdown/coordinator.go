package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ExitInterrupted is the process exit code after a signal.
const ExitInterrupted = 130

// Coordinator turns the first SIGINT/SIGTERM into: set the token, cancel the
// run context, kill every registered process group, and start the grace
// timer. If the run has not finished when the grace period ends, or a second
// signal arrives, the process exits.
type Coordinator struct {
	token    *Token
	registry *Registry
	cancel   context.CancelFunc
	grace    time.Duration
	logger   *zap.Logger

	// Exit terminates the process. Tests replace it.
	Exit func(code int)

	finished chan struct{}
	finOnce  sync.Once
}

// NewCoordinator creates a coordinator. cancel cancels the run context.
func NewCoordinator(token *Token, registry *Registry, cancel context.CancelFunc, grace time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		token:    token,
		registry: registry,
		cancel:   cancel,
		grace:    grace,
		logger:   logger,
		Exit:     os.Exit,
		finished: make(chan struct{}),
	}
}

// Listen handles SIGINT and SIGTERM until ctx is done or the run finishes.
func (c *Coordinator) Listen(ctx context.Context) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.finished:
			return
		case sig := <-sigCh:
			c.HandleSignal(sig)
		}
	}
}

// HandleSignal processes one delivered signal.
func (c *Coordinator) HandleSignal(sig os.Signal) {
	if !c.Shutdown(sig.String()) {
		c.logger.Warn("Second signal received, exiting immediately", zap.String("signal", sig.String()))
		c.Exit(ExitInterrupted)
	}
}

// Shutdown requests cancellation. It returns false if shutdown was already
// in progress.
func (c *Coordinator) Shutdown(reason string) bool {
	if !c.token.Request() {
		return false
	}
	c.logger.Warn("Shutdown requested, killing running scanners",
		zap.String("reason", reason),
		zap.Duration("grace", c.grace),
		zap.Strings("active", c.registry.Active()),
	)
	if c.cancel != nil {
		c.cancel()
	}
	n, err := c.registry.KillAll()
	if err != nil {
		c.logger.Error("Failed to kill some process groups", zap.Error(err))
	}
	c.logger.Info("Killed running scanner groups", zap.Int("count", n))

	go c.enforceGrace()
	return true
}

func (c *Coordinator) enforceGrace() {
	timer := time.NewTimer(c.grace)
	defer timer.Stop()
	select {
	case <-c.finished:
	case <-timer.C:
		c.logger.Error("Workers did not unwind within the grace period, forcing exit",
			zap.Duration("grace", c.grace),
			zap.Strings("still_active", c.registry.Active()),
		)
		c.Exit(ExitInterrupted)
	}
}

// Finished marks the run as unwound; it stops the grace timer and Listen.
func (c *Coordinator) Finished() {
	c.finOnce.Do(func() { close(c.finished) })
}
