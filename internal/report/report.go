// Package report renders per-repository scan results and the end-of-run
// summary as JSON and Markdown files.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/fsutil"
)

const (
	jsonName    = "report.json"
	mdName      = "report.md"
	partialJSON = "partial-report.json"
	partialMD   = "partial-report.md"
	maxTailRows = 20
)

// StepReport is the report view of one scanner step.
type StepReport struct {
	Scanner         string           `json:"scanner"`
	State           domain.StepState `json:"state"`
	StartedAt       time.Time        `json:"started_at,omitempty"`
	EndedAt         time.Time        `json:"ended_at,omitempty"`
	DurationSeconds float64          `json:"duration_seconds"`
	ExitCode        int              `json:"exit_code"`
	Reports         []string         `json:"reports,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	StdoutTail      string           `json:"stdout_tail,omitempty"`
}

// Report is the document handed to the persistence layer.
type Report struct {
	RepoID      string           `json:"repo_id"`
	CloneURL    string           `json:"clone_url,omitempty"`
	Status      domain.JobStatus `json:"status"`
	Partial     bool             `json:"partial"`
	Phase       string           `json:"phase,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Attempts    int              `json:"attempts"`
	GeneratedAt time.Time        `json:"generated_at"`
	Profile     *domain.Profile  `json:"profile,omitempty"`
	Steps       []StepReport     `json:"steps"`
}

// Artifacts are the files written for one report.
type Artifacts struct {
	JSON     string
	Markdown string
}

// Build converts a job into a report. A partial report keeps only the steps
// that finished successfully before the job stopped.
func Build(job *domain.RepositoryJob, partial bool, now time.Time) Report {
	r := Report{
		RepoID:      job.ID(),
		CloneURL:    job.Repo.CloneURL,
		Status:      job.Status,
		Partial:     partial,
		Phase:       job.Phase,
		Reason:      job.Reason,
		Attempts:    job.Attempts,
		GeneratedAt: now.UTC(),
		Profile:     job.Profile,
		Steps:       []StepReport{},
	}
	steps := job.Steps
	if partial {
		steps = job.CompletedSteps()
	}
	for _, s := range steps {
		if s.State == domain.StepPending {
			continue
		}
		r.Steps = append(r.Steps, StepReport{
			Scanner:         s.Scanner.ID,
			State:           s.State,
			StartedAt:       s.StartedAt,
			EndedAt:         s.EndedAt,
			DurationSeconds: s.Duration().Seconds(),
			ExitCode:        s.ExitCode,
			Reports:         s.Reports,
			Reason:          s.Reason,
			StdoutTail:      tailLines(s.Stdout, maxTailRows),
		})
	}
	return r
}

// Writer writes reports below one output directory, one sub-directory per
// repository.
type Writer struct {
	dir string
	now func() time.Time
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

// RepoDir returns the directory holding the artifacts of repo.
func (w *Writer) RepoDir(repo domain.Repository) string {
	return filepath.Join(w.dir, repo.DirName())
}

// Write renders the full report of a finished job.
func (w *Writer) Write(job *domain.RepositoryJob) (Artifacts, error) {
	return w.write(job, false, jsonName, mdName)
}

// WritePartial renders only the steps that completed before the job stopped.
func (w *Writer) WritePartial(job *domain.RepositoryJob) (Artifacts, error) {
	return w.write(job, true, partialJSON, partialMD)
}

func (w *Writer) write(job *domain.RepositoryJob, partial bool, jsonFile, mdFile string) (Artifacts, error) {
	dir := w.RepoDir(job.Repo)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifacts{}, fmt.Errorf("report: create dir: %w", err)
	}
	r := Build(job, partial, w.now())

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return Artifacts{}, fmt.Errorf("report: encode: %w", err)
	}
	a := Artifacts{
		JSON:     filepath.Join(dir, jsonFile),
		Markdown: filepath.Join(dir, mdFile),
	}
	if err := fsutil.WriteFileAtomic(a.JSON, data, 0o644); err != nil {
		return Artifacts{}, fmt.Errorf("report: %w", err)
	}
	if err := fsutil.WriteFileAtomic(a.Markdown, []byte(Markdown(r)), 0o644); err != nil {
		return Artifacts{}, fmt.Errorf("report: %w", err)
	}
	return a, nil
}

// Markdown renders r for humans.
func Markdown(r Report) string {
	var b strings.Builder
	title := "Scan report"
	if r.Partial {
		title = "Partial scan report"
	}
	fmt.Fprintf(&b, "# %s: %s\n\n", title, r.RepoID)
	fmt.Fprintf(&b, "- Status: **%s**\n", r.Status)
	if r.CloneURL != "" {
		fmt.Fprintf(&b, "- Clone URL: %s\n", r.CloneURL)
	}
	if r.Phase != "" {
		fmt.Fprintf(&b, "- Stopped in: `%s`\n", r.Phase)
	}
	if r.Reason != "" {
		fmt.Fprintf(&b, "- Reason: %s\n", r.Reason)
	}
	fmt.Fprintf(&b, "- Attempts: %d\n", r.Attempts)
	fmt.Fprintf(&b, "- Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339))

	if r.Partial {
		b.WriteString("Only steps that completed before the job stopped are listed.\n\n")
	}
	if len(r.Steps) == 0 {
		b.WriteString("No scanner step produced results.\n")
		return b.String()
	}
	b.WriteString("| Scanner | State | Duration | Exit | Reports |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, s := range r.Steps {
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %d |\n",
			s.Scanner, s.State,
			(time.Duration(s.DurationSeconds * float64(time.Second))).Round(time.Second),
			s.ExitCode, len(s.Reports))
	}
	for _, s := range r.Steps {
		if len(s.Reports) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", s.Scanner)
		for _, p := range s.Reports {
			fmt.Fprintf(&b, "- `%s`\n", p)
		}
	}
	return b.String()
}

func tailLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
