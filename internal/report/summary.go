package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/fsutil"
)

// Summary is the end-of-run overview.
type Summary struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Stats       domain.Stats
	Entries     []domain.StuckJobEntry
	Interrupted bool
	FailFast    bool
}

// RenderSummary renders s as Markdown.
func RenderSummary(s Summary) string {
	var b strings.Builder
	b.WriteString("# Scan run summary\n\n")
	if s.RunID != "" {
		fmt.Fprintf(&b, "- Run: `%s`\n", s.RunID)
	}
	fmt.Fprintf(&b, "- Started: %s\n", s.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Finished: %s\n", s.FinishedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Duration: %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
	switch {
	case s.Interrupted:
		b.WriteString("- Run was interrupted by a shutdown signal\n")
	case s.FailFast:
		b.WriteString("- Run stopped after the first failure (continue-on-timeout=false)\n")
	}

	b.WriteString("\n| Outcome | Jobs |\n|---|---|\n")
	fmt.Fprintf(&b, "| completed | %d |\n", s.Stats.Completed)
	fmt.Fprintf(&b, "| timed_out | %d |\n", s.Stats.TimedOut)
	fmt.Fprintf(&b, "| error | %d |\n", s.Stats.Errored)
	fmt.Fprintf(&b, "| skipped | %d |\n", s.Stats.Skipped)
	if s.Stats.Interrupted > 0 {
		fmt.Fprintf(&b, "| interrupted | %d |\n", s.Stats.Interrupted)
	}
	if s.Stats.NotStarted > 0 {
		fmt.Fprintf(&b, "| not started | %d |\n", s.Stats.NotStarted)
	}
	fmt.Fprintf(&b, "| **total** | %d |\n", s.Stats.Total())

	if len(s.Entries) > 0 {
		b.WriteString("\n## Stuck and failed jobs\n\n")
		for _, e := range s.Entries {
			fmt.Fprintf(&b, "- `%s` %s in `%s`: %s\n", e.RepoID, e.Status, e.Phase, e.Reason)
		}
	}
	return b.String()
}

// WriteSummary writes the summary to path atomically.
func WriteSummary(path string, s Summary) error {
	if err := fsutil.WriteFileAtomic(path, []byte(RenderSummary(s)), 0o644); err != nil {
		return fmt.Errorf("report: summary: %w", err)
	}
	return nil
}
