package advisor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/stuck"
)

const promptHeader = `You are diagnosing a repository security scan that did not finish.
Answer with a single JSON object and nothing else:
{"root_cause": string,
 "remediation": {"action": "raise_timeout" | "exclude_paths" | "skip" | "none",
                 "timeout_minutes": number, "paths": [string]},
 "skip": boolean,
 "confidence": number between 0 and 1}
Only suggest exclude_paths for directories that are not source code (fixtures, test data, generated or vendored files).
`

// Counter counts prompt tokens.
type Counter interface {
	Count(text string) int
}

// BuildPrompt renders the diagnostic context of e within maxTokens. The log
// excerpt is the only part that shrinks; it keeps its tail, which holds the
// last thing the scanner printed.
func BuildPrompt(e domain.StuckJobEntry, counter Counter, maxTokens int) string {
	excerpt := e.LogExcerpt
	for {
		p := renderPrompt(e, excerpt)
		if maxTokens <= 0 || counter.Count(p) <= maxTokens || excerpt == "" {
			return p
		}
		if len(excerpt) < 64 {
			excerpt = ""
			continue
		}
		excerpt = stuck.Truncate(excerpt, len(excerpt)/2)
	}
}

func renderPrompt(e domain.StuckJobEntry, excerpt string) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\nRepository: ")
	b.WriteString(e.RepoID)
	fmt.Fprintf(&b, "\nStatus: %s\nPhase: %s\nReason: %s\nAttempts: %d\n", e.Status, e.Phase, e.Reason, e.Attempts)
	if len(e.RiskFlags) > 0 {
		b.WriteString("Risk flags: ")
		b.WriteString(strings.Join(e.RiskFlags, ", "))
		b.WriteByte('\n')
	}
	if p := e.Profile; p != nil {
		fmt.Fprintf(&b, "Checkout: %d files, %d bytes, %d vendored files", p.Files, p.Bytes, p.VendorFiles)
		if p.Truncated {
			b.WriteString(" (walk truncated)")
		}
		b.WriteByte('\n')
		if langs := topLanguages(p.Languages, 5); len(langs) > 0 {
			b.WriteString("Languages: ")
			b.WriteString(strings.Join(langs, ", "))
			b.WriteByte('\n')
		}
	}
	if excerpt != "" {
		b.WriteString("Last scanner output:\n")
		b.WriteString(excerpt)
		b.WriteByte('\n')
	}
	return b.String()
}

func topLanguages(langs map[string]int, n int) []string {
	type kv struct {
		name  string
		files int
	}
	all := make([]kv, 0, len(langs))
	for k, v := range langs {
		all = append(all, kv{k, v})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].files != all[j].files {
			return all[i].files > all[j].files
		}
		return all[i].name < all[j].name
	})
	if len(all) > n {
		all = all[:n]
	}
	out := make([]string, len(all))
	for i, l := range all {
		out[i] = fmt.Sprintf("%s (%d)", l.name, l.files)
	}
	return out
}
