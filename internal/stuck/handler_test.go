package stuck

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/report"
)

type partialRecorder struct {
	mu        sync.Mutex
	completed [][]string
	err       error
}

func (p *partialRecorder) WritePartial(job *domain.RepositoryJob) (report.Artifacts, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for _, s := range job.CompletedSteps() {
		ids = append(ids, s.Scanner.ID)
	}
	p.completed = append(p.completed, ids)
	return report.Artifacts{JSON: "partial.json"}, p.err
}

func newJob() *domain.RepositoryJob {
	job := domain.NewRepositoryJob(domain.Repository{ID: "github.com/acme/web"},
		[]domain.ScannerSpec{{ID: "one"}, {ID: "two"}, {ID: "three"}})
	job.Steps[0].State = domain.StepSuccess
	job.Steps[1].State = domain.StepTimedOut
	job.Attempts = 1
	return job
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}

// Test: a stall kills the group, records one entry and writes a partial report.
func TestHandle_Stall(t *testing.T) {
	dir := t.TempDir()
	var killed []int
	partial := &partialRecorder{}
	h := NewHandler(filepath.Join(dir, "stuck.jsonl"), filepath.Join(dir, "stuck.txt"),
		func(pgid int) error { killed = append(killed, pgid); return nil }, partial, zap.NewNop())
	var seen []domain.StuckJobEntry
	h.OnEntry = func(e domain.StuckJobEntry) { seen = append(seen, e) }

	job := newJob()
	entry := h.Handle(context.Background(), Incident{
		Job:     job,
		PGID:    4242,
		Err:     fmt.Errorf("step two: %w", domain.ErrStalledProgress),
		Phase:   "two",
		Reason:  "no cpu, i/o or output activity for 3m0s",
		Excerpt: "downloading index...",
	})

	assert.Equal(t, []int{4242}, killed)
	assert.Equal(t, domain.JobTimedOut, job.Status)
	assert.Equal(t, "two", job.Phase)
	assert.Equal(t, domain.JobTimedOut, entry.Status)
	assert.Equal(t, "github.com/acme/web", entry.RepoID)
	assert.Equal(t, "downloading index...", entry.LogExcerpt)
	assert.Equal(t, [][]string{{"one"}}, partial.completed)
	assert.Len(t, seen, 1)

	lines := readLines(t, filepath.Join(dir, "stuck.jsonl"))
	require.Len(t, lines, 1)
	var decoded domain.StuckJobEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, entry.ID, decoded.ID)

	summary := readLines(t, filepath.Join(dir, "stuck.txt"))
	require.Len(t, summary, 1)
	assert.Contains(t, summary[0], "phase=two")
	assert.Contains(t, summary[0], "timed_out")
}

// Test: crashes are errors, deadlines of every kind are timeouts.
func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want domain.JobStatus
	}{
		{domain.ErrStalledProgress, domain.JobTimedOut},
		{domain.ErrHardDeadlineExceeded, domain.JobTimedOut},
		{fmt.Errorf("wrap: %w", domain.ErrRepoDeadlineExceeded), domain.JobTimedOut},
		{domain.ErrSubprocessCrash, domain.JobError},
		{domain.ErrSetupFailure, domain.JobError},
		{errors.New("panic"), domain.JobError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), "%v", tc.err)
	}
}

// Test: a failing partial report does not prevent the entry from being recorded.
func TestHandle_PartialFailureStillRecords(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(filepath.Join(dir, "stuck.jsonl"), "", nil,
		&partialRecorder{err: errors.New("disk full")}, zap.NewNop())

	entry := h.Handle(context.Background(), Incident{
		Job: newJob(), Err: domain.ErrSetupFailure, Phase: domain.PhaseSetup,
	})

	assert.Equal(t, domain.JobError, entry.Status)
	assert.Equal(t, domain.ErrSetupFailure.Error(), entry.Reason)
	assert.Len(t, h.Entries(), 1)
	assert.Len(t, readLines(t, filepath.Join(dir, "stuck.jsonl")), 1)
}

// Test: concurrent workers each get exactly one line.
func TestHandle_Concurrent(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(filepath.Join(dir, "stuck.jsonl"), "", nil, nil, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job := domain.NewRepositoryJob(domain.Repository{ID: fmt.Sprintf("r%d", i)}, nil)
			h.Handle(context.Background(), Incident{Job: job, Err: domain.ErrStalledProgress, Phase: "x"})
		}(i)
	}
	wg.Wait()

	assert.Len(t, readLines(t, filepath.Join(dir, "stuck.jsonl")), 16)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "...éllo", Truncate(strings.Repeat("a", 20)+"héllo", 5))
	// A cut inside a multi-byte rune moves forward to the next boundary.
	assert.Equal(t, "...llo", Truncate(strings.Repeat("a", 20)+"héllo", 4))
}

func TestRiskFlags(t *testing.T) {
	assert.Equal(t, []string{"known-large-project"}, RiskFlags("github.com/torvalds/linux", nil))
	assert.Equal(t, []string{"data-heavy", "monorepo"}, RiskFlags("github.com/acme/monorepo-models", nil))
	assert.Empty(t, RiskFlags("github.com/acme/tiny", nil))

	p := &domain.Profile{
		Files:       60_000,
		Bytes:       2 << 30,
		VendorFiles: 30_000,
		Languages:   map[string]int{"Go": 1, "C": 1, "C++": 1, "Python": 1, "Java": 1, "Rust": 1, "Shell": 1, "Perl": 1},
		Truncated:   true,
	}
	assert.Equal(t,
		[]string{"large-checkout", "many-files", "polyglot", "profile-truncated", "vendored-deps"},
		RiskFlags("github.com/acme/tiny", p))
}
