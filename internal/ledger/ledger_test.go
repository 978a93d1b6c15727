package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
)

func openTemp(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "ledger.json")
	l, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	return l, path
}

// Test: a missing file is an empty ledger, not an error.
func TestOpen_Missing(t *testing.T) {
	l, _ := openTemp(t)
	assert.Empty(t, l.Entries())
	assert.False(t, l.Recovered())
	assert.True(t, l.ShouldRun("any", false))
}

// Test: records survive a reopen.
func TestMarkTerminal_PersistsAcrossOpen(t *testing.T) {
	l, path := openTemp(t)
	require.NoError(t, l.MarkTerminal("github.com/a/b", domain.JobCompleted))
	require.NoError(t, l.MarkTerminal("github.com/c/d", domain.JobError))

	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	rec, ok := reopened.Lookup("github.com/a/b")
	require.True(t, ok)
	assert.Equal(t, domain.JobCompleted, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.True(t, reopened.IsTerminal("github.com/c/d"))
	assert.Equal(t, map[domain.JobStatus]int{domain.JobCompleted: 1, domain.JobError: 1}, reopened.Counts())
	assert.False(t, reopened.UpdatedAt().IsZero())
}

// Test: non-terminal statuses are never written.
func TestMarkTerminal_RejectsNonTerminal(t *testing.T) {
	l, path := openTemp(t)

	for _, s := range []domain.JobStatus{domain.JobPending, domain.JobRunning, ""} {
		assert.Error(t, l.MarkTerminal("x", s), "status %q", s)
	}
	_, ok := l.Lookup("x")
	assert.False(t, ok)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "nothing should have been persisted")
}

// Test: without override a terminal job is never run again.
func TestShouldRun_Idempotent(t *testing.T) {
	l, _ := openTemp(t)
	for _, s := range []domain.JobStatus{domain.JobCompleted, domain.JobError, domain.JobSkipped} {
		id := "repo-" + string(s)
		require.NoError(t, l.MarkTerminal(id, s))
		assert.False(t, l.ShouldRun(id, false), "status %s", s)
	}
}

// Test: override runs every job, including ones already recorded as terminal.
// The override must be combined with the ledger check, not applied after it.
func TestShouldRun_OverrideRunsTerminalJobs(t *testing.T) {
	l, _ := openTemp(t)
	ids := []string{"done", "failed", "skipped", "timed-out", "never-seen"}
	require.NoError(t, l.MarkTerminal("done", domain.JobCompleted))
	require.NoError(t, l.MarkTerminal("failed", domain.JobError))
	require.NoError(t, l.MarkTerminal("skipped", domain.JobSkipped))
	require.NoError(t, l.MarkTerminal("timed-out", domain.JobTimedOut))
	require.NoError(t, l.Quarantine("timed-out"))

	for _, id := range ids {
		assert.True(t, l.ShouldRun(id, true), "override must run %s", id)
	}
}

// Test: timed_out is retried on the next run unless quarantined.
func TestTimedOut_RetriedUnlessQuarantined(t *testing.T) {
	l, path := openTemp(t)
	require.NoError(t, l.MarkTerminal("slow", domain.JobTimedOut))

	assert.False(t, l.IsTerminal("slow"))
	assert.True(t, l.ShouldRun("slow", false))

	require.NoError(t, l.Quarantine("slow"))
	assert.True(t, l.IsTerminal("slow"))
	assert.False(t, l.ShouldRun("slow", false))

	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, reopened.ShouldRun("slow", false), "quarantine must persist")
	assert.True(t, reopened.Entries()[0].Quarantined)
}

// Test: attempts accumulate across outcomes of the same job.
func TestMarkTerminal_CountsAttempts(t *testing.T) {
	l, _ := openTemp(t)
	require.NoError(t, l.MarkTerminal("r", domain.JobTimedOut))
	require.NoError(t, l.MarkTerminal("r", domain.JobTimedOut))
	require.NoError(t, l.MarkTerminal("r", domain.JobCompleted))

	assert.Equal(t, 3, l.Attempts("r"))
	assert.True(t, l.IsTerminal("r"))
}

// Test: reset forgets records and quarantine.
func TestReset(t *testing.T) {
	l, _ := openTemp(t)
	require.NoError(t, l.MarkTerminal("a", domain.JobTimedOut))
	require.NoError(t, l.Quarantine("a"))
	require.NoError(t, l.MarkTerminal("b", domain.JobCompleted))

	n, err := l.Reset("a", "missing")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, l.ShouldRun("a", false))
	assert.False(t, l.ShouldRun("b", false))
	assert.Len(t, l.Entries(), 1)
}

// Test: a corrupt file is moved aside and the run starts from an empty ledger.
func TestOpen_CorruptRecovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"jobs":{"a":`), 0o644))

	l, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, l.Recovered())
	assert.Empty(t, l.Entries())

	aside, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, aside, 1)

	require.NoError(t, l.MarkTerminal("a", domain.JobCompleted))
	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, reopened.Recovered())
	assert.True(t, reopened.IsTerminal("a"))
}

// Test: a file from a newer version is treated as corrupt rather than misread.
func TestOpen_FutureVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":99,"jobs":{}}`), 0o644))

	l, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, l.Recovered())
}

// Test: records with a non-terminal status are dropped on load.
func TestOpen_IgnoresNonTerminalRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	body, err := json.Marshal(fileFormat{
		Version: fileVersion,
		Jobs: map[string]Record{
			"running": {Status: domain.JobRunning},
			"done":    {Status: domain.JobCompleted, Attempts: 1},
		},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, body, 0o644))

	l, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, l.ShouldRun("running", false))
	assert.False(t, l.ShouldRun("done", false))
}

// Test: concurrent marks from many workers all land and the file stays valid.
func TestMarkTerminal_Concurrent(t *testing.T) {
	l, path := openTemp(t)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("repo-%02d", i)
			assert.NoError(t, l.MarkTerminal(id, domain.JobCompleted))
			_ = l.ShouldRun(id, false)
		}(i)
	}
	wg.Wait()

	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, reopened.Entries(), 32)

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp-*"))
	assert.Empty(t, leftovers)
}
