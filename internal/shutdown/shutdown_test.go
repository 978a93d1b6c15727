//go:build unix

package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("os/signal.signal_recv"),
		goleak.IgnoreAnyFunction("os/signal.loop"),
	)
}

type killRecorder struct {
	mu     sync.Mutex
	killed []int
	err    error
}

func (k *killRecorder) kill(pgid int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.killed = append(k.killed, pgid)
	return k.err
}

func (k *killRecorder) pgids() []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]int(nil), k.killed...)
}

type exitRecorder struct {
	codes chan int
}

func newExitRecorder() *exitRecorder { return &exitRecorder{codes: make(chan int, 4)} }

func (e *exitRecorder) exit(code int) { e.codes <- code }

func TestToken(t *testing.T) {
	tok := NewToken()
	assert.False(t, tok.Requested())
	assert.True(t, tok.RequestedAt().IsZero())

	assert.True(t, tok.Request())
	at := tok.RequestedAt()
	assert.True(t, tok.Requested())
	assert.False(t, at.IsZero())

	assert.False(t, tok.Request(), "second request is a no-op")
	assert.Equal(t, at, tok.RequestedAt())

	select {
	case <-tok.Done():
	default:
		t.Fatal("Done must be closed after Request")
	}
}

// Test: once killed, the registry refuses new groups so none can slip past shutdown.
func TestRegistry_KillAllThenRefuse(t *testing.T) {
	k := &killRecorder{}
	r := NewRegistry(k.kill)

	require.True(t, r.Track(101, "a/semgrep"))
	require.True(t, r.Track(202, "b/trivy"))
	r.Untrack(101)
	assert.Equal(t, []string{"b/trivy"}, r.Active())

	n, err := r.KillAll()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int{202}, k.pgids())

	assert.False(t, r.Track(303, "c/gitleaks"))
}

func TestRegistry_KillErrorReported(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry((&killRecorder{err: boom}).kill)
	r.Track(1, "x")

	n, err := r.KillAll()
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, boom)
}

// Test: shutdown sets the token, cancels the run and kills running groups at once.
func TestCoordinator_ShutdownKillsImmediately(t *testing.T) {
	k := &killRecorder{}
	reg := NewRegistry(k.kill)
	reg.Track(42, "repo/scanner")
	tok := NewToken()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ex := newExitRecorder()

	c := NewCoordinator(tok, reg, cancel, time.Minute, zap.NewNop())
	c.Exit = ex.exit

	require.True(t, c.Shutdown("test"))
	assert.True(t, tok.Requested())
	assert.Error(t, ctx.Err())
	assert.Equal(t, []int{42}, k.pgids())

	c.Finished()
	select {
	case code := <-ex.codes:
		t.Fatalf("unexpected exit %d after a clean unwind", code)
	case <-time.After(50 * time.Millisecond):
	}
}

// Test: workers that do not unwind within the grace period force an exit.
func TestCoordinator_GraceExpiryForcesExit(t *testing.T) {
	reg := NewRegistry((&killRecorder{}).kill)
	ex := newExitRecorder()
	c := NewCoordinator(NewToken(), reg, nil, 50*time.Millisecond, zap.NewNop())
	c.Exit = ex.exit

	start := time.Now()
	c.Shutdown("test")

	select {
	case code := <-ex.codes:
		assert.Equal(t, ExitInterrupted, code)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("grace period was not enforced")
	}
	c.Finished()
}

// Test: a second signal exits without waiting for the grace period.
func TestCoordinator_SecondSignalExits(t *testing.T) {
	reg := NewRegistry((&killRecorder{}).kill)
	ex := newExitRecorder()
	c := NewCoordinator(NewToken(), reg, nil, time.Hour, zap.NewNop())
	c.Exit = ex.exit
	defer c.Finished()

	c.HandleSignal(syscall.SIGINT)
	select {
	case code := <-ex.codes:
		t.Fatalf("first signal must not exit, got %d", code)
	default:
	}

	c.HandleSignal(syscall.SIGTERM)
	select {
	case code := <-ex.codes:
		assert.Equal(t, ExitInterrupted, code)
	case <-time.After(time.Second):
		t.Fatal("second signal did not exit")
	}
}

// Test: a delivered SIGTERM reaches the coordinator through Listen.
func TestCoordinator_ListenHandlesSignal(t *testing.T) {
	// Keep the default SIGTERM action from killing the test binary while
	// Listen is still installing its handler.
	guard := make(chan os.Signal, 16)
	signal.Notify(guard, syscall.SIGTERM)
	defer signal.Stop(guard)

	tok := NewToken()
	c := NewCoordinator(tok, NewRegistry((&killRecorder{}).kill), nil, time.Hour, zap.NewNop())
	c.Exit = func(int) {}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Listen(ctx)
	}()

	require.Eventually(t, func() bool {
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
		return tok.Requested()
	}, 2*time.Second, 20*time.Millisecond)

	c.Finished()
	cancel()
	<-done
}
