package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	giturls "github.com/whilp/git-urls"
)

// JobStatus represents the lifecycle state of a repository scan job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobTimedOut  JobStatus = "timed_out"
	JobError     JobStatus = "error"
	JobSkipped   JobStatus = "skipped"
)

// IsTerminal returns true if the status represents a final state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobTimedOut, JobError, JobSkipped:
		return true
	}
	return false
}

// StepState represents the lifecycle state of a single scanner step.
type StepState string

const (
	StepPending  StepState = "pending"
	StepRunning  StepState = "running"
	StepSuccess  StepState = "success"
	StepTimedOut StepState = "timed_out"
	StepError    StepState = "error"
)

// Repository is a descriptor handed over by the repository lister.
type Repository struct {
	ID       string `json:"id" yaml:"id"`
	CloneURL string `json:"clone_url" yaml:"clone_url"`
}

// Key returns the identifier used by the ledger. Descriptors without an
// explicit id fall back to host/owner/name derived from the clone URL.
func (r Repository) Key() string {
	if r.ID != "" {
		return r.ID
	}
	u, err := giturls.Parse(r.CloneURL)
	if err != nil {
		return r.CloneURL
	}
	host := u.Hostname()
	if host == "" {
		host = u.Host
	}
	path := strings.TrimSuffix(strings.TrimPrefix(u.Path, "/"), ".git")
	if host == "" {
		return path
	}
	return host + "/" + path
}

// Slug returns Key made safe for use as a single path element.
func (r Repository) Slug() string {
	key := r.Key()
	var b strings.Builder
	for _, c := range key {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '.':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	slug := strings.Trim(b.String(), "._")
	if slug == "" {
		return "repo"
	}
	return slug
}

// DirName returns Slug followed by a short hash of Key. Slug alone folds
// several characters onto '_', so distinct keys may share it; DirName never does.
func (r Repository) DirName() string {
	sum := sha256.Sum256([]byte(r.Key()))
	return r.Slug() + "-" + hex.EncodeToString(sum[:4])
}

// ScannerSpec describes one external scanner invocation.
type ScannerSpec struct {
	ID      string            `json:"id" yaml:"id"`
	Argv    []string          `json:"argv" yaml:"argv"`
	Reports []string          `json:"reports,omitempty" yaml:"reports,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// ScanStep is one scanner run inside a job. It is owned by the session running it.
// Stdout and Stderr hold the retained tails only until the job's report is written.
type ScanStep struct {
	Scanner   ScannerSpec `json:"scanner"`
	State     StepState   `json:"state"`
	StartedAt time.Time   `json:"started_at,omitempty"`
	EndedAt   time.Time   `json:"ended_at,omitempty"`
	ExitCode  int         `json:"exit_code"`
	Stdout    string      `json:"stdout,omitempty"`
	Stderr    string      `json:"stderr,omitempty"`
	Reports   []string    `json:"reports,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// Duration returns the wall-clock time the step ran for.
func (s *ScanStep) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// RepositoryJob is one repository and the ordered scanner steps to run against it.
type RepositoryJob struct {
	Repo     Repository  `json:"repo"`
	Steps    []*ScanStep `json:"steps"`
	Status   JobStatus   `json:"status"`
	Attempts int         `json:"attempts"`
	Deadline time.Time   `json:"deadline,omitempty"`
	Phase    string      `json:"phase,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Profile  *Profile    `json:"profile,omitempty"`
}

// NewRepositoryJob creates a pending job with one pending step per scanner.
func NewRepositoryJob(repo Repository, scanners []ScannerSpec) *RepositoryJob {
	steps := make([]*ScanStep, 0, len(scanners))
	for _, sc := range scanners {
		steps = append(steps, &ScanStep{Scanner: sc, State: StepPending})
	}
	return &RepositoryJob{Repo: repo, Steps: steps, Status: JobPending}
}

// ID returns the ledger key of the job.
func (j *RepositoryJob) ID() string { return j.Repo.Key() }

// CompletedSteps returns the steps that finished successfully, in order.
func (j *RepositoryJob) CompletedSteps() []*ScanStep {
	var out []*ScanStep
	for _, s := range j.Steps {
		if s.State == StepSuccess {
			out = append(out, s)
		}
	}
	return out
}

// Profile summarises a checkout for diagnostics.
type Profile struct {
	Files       int            `json:"files"`
	Bytes       int64          `json:"bytes"`
	VendorFiles int            `json:"vendor_files"`
	Languages   map[string]int `json:"languages,omitempty"`
	Truncated   bool           `json:"truncated,omitempty"`
}
