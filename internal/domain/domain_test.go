package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	terminal := []JobStatus{JobCompleted, JobTimedOut, JobError, JobSkipped}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []JobStatus{JobPending, JobRunning, ""} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestRepository_Key(t *testing.T) {
	tests := []struct {
		name string
		repo Repository
		want string
	}{
		{"explicit id wins", Repository{ID: "acme-api", CloneURL: "https://github.com/acme/api.git"}, "acme-api"},
		{"https", Repository{CloneURL: "https://github.com/acme/api.git"}, "github.com/acme/api"},
		{"https without suffix", Repository{CloneURL: "https://gitlab.com/group/sub/proj"}, "gitlab.com/group/sub/proj"},
		{"scp style", Repository{CloneURL: "git@github.com:acme/web.git"}, "github.com/acme/web"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.repo.Key())
		})
	}
}

func TestRepository_Slug(t *testing.T) {
	assert.Equal(t, "github.com_acme_api", Repository{CloneURL: "https://github.com/acme/api.git"}.Slug())
	assert.Equal(t, "a_b_c", Repository{ID: "a b/c"}.Slug())
	assert.Equal(t, "repo", Repository{ID: "///"}.Slug())
}

func TestRepository_DirNameDistinguishesFoldedKeys(t *testing.T) {
	a := Repository{ID: "gitlab.com/acme/foo_bar"}
	b := Repository{ID: "gitlab.com/acme_foo/bar"}
	assert.Equal(t, a.Slug(), b.Slug())

	assert.Equal(t, "gitlab.com_acme_foo_bar-e1f1ffee", a.DirName())
	assert.Equal(t, "gitlab.com_acme_foo_bar-d7e31486", b.DirName())
	assert.Equal(t, a.DirName(), Repository{ID: "gitlab.com/acme/foo_bar"}.DirName())
}

func TestNewRepositoryJob(t *testing.T) {
	job := NewRepositoryJob(Repository{ID: "x"}, []ScannerSpec{{ID: "gitleaks"}, {ID: "semgrep"}})
	assert.Equal(t, JobPending, job.Status)
	assert.Equal(t, "x", job.ID())
	assert.Len(t, job.Steps, 2)
	for _, s := range job.Steps {
		assert.Equal(t, StepPending, s.State)
	}

	job.Steps[1].State = StepSuccess
	done := job.CompletedSteps()
	assert.Len(t, done, 1)
	assert.Equal(t, "semgrep", done[0].Scanner.ID)
}

func TestScanStep_Duration(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &ScanStep{StartedAt: start}
	assert.Zero(t, s.Duration())
	s.EndedAt = start.Add(90 * time.Second)
	assert.Equal(t, 90*time.Second, s.Duration())
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(ErrStalledProgress))
	assert.True(t, IsTimeout(fmt.Errorf("step semgrep: %w", ErrHardDeadlineExceeded)))
	assert.True(t, IsTimeout(ErrRepoDeadlineExceeded))
	assert.ErrorIs(t, ErrRepoDeadlineExceeded, ErrHardDeadlineExceeded)
	assert.NotErrorIs(t, ErrHardDeadlineExceeded, ErrRepoDeadlineExceeded)
	assert.False(t, IsTimeout(ErrSubprocessCrash))
	assert.False(t, IsTimeout(errors.New("boom")))
	assert.False(t, IsTimeout(nil))
}

func TestStats(t *testing.T) {
	var s Stats
	s.Add(Outcome{Status: JobCompleted})
	s.Add(Outcome{Status: JobCompleted})
	s.Add(Outcome{Status: JobTimedOut})
	s.Add(Outcome{Status: JobError})
	s.Add(Outcome{Status: JobSkipped})
	s.Add(Outcome{Status: JobPending, Interrupted: true})
	s.NotStarted = 3

	assert.Equal(t, Stats{Completed: 2, TimedOut: 1, Errored: 1, Skipped: 1, Interrupted: 1, NotStarted: 3}, s)
	assert.Equal(t, 9, s.Total())
}

func TestNewOutcomeEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	job := NewRepositoryJob(Repository{ID: "acme/api"}, nil)
	job.Phase = "semgrep"
	job.Reason = "stalled"
	job.Attempts = 2

	ev := NewOutcomeEvent("run-1", Outcome{Job: job, Status: JobTimedOut, Duration: 1500 * time.Millisecond}, at)
	assert.Equal(t, OutcomeEvent{
		RunID:      "run-1",
		RepoID:     "acme/api",
		Status:     JobTimedOut,
		Phase:      "semgrep",
		Reason:     "stalled",
		Attempts:   2,
		DurationMs: 1500,
		At:         at.UTC(),
	}, ev)

	bare := NewOutcomeEvent("run-1", Outcome{Status: JobError}, at)
	assert.Empty(t, bare.RepoID)
}
