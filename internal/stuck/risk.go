package stuck

import (
	"sort"
	"strings"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
)

// Names of projects that are known to be very large to check out or analyse.
var largeProjects = []string{
	"linux", "chromium", "llvm", "gecko", "firefox", "webkit", "android",
	"kubernetes", "tensorflow", "pytorch", "rust-lang/rust", "freebsd", "openjdk",
}

var identifierHints = map[string]string{
	"monorepo": "monorepo",
	"mirror":   "mirror",
	"archive":  "archive",
	"dataset":  "data-heavy",
	"models":   "data-heavy",
	"fixtures": "fixture-heavy",
	"vendor":   "vendored-deps",
}

const (
	manyFiles       = 50_000
	largeCheckout   = 1 << 30
	vendorShare     = 0.3
	polyglotLangMin = 8
)

// RiskFlags derives structural risk flags from a repository identifier and,
// when available, its checkout profile.
func RiskFlags(repoID string, p *domain.Profile) []string {
	set := make(map[string]struct{})
	id := strings.ToLower(repoID)
	name := id
	if i := strings.LastIndex(id, "/"); i >= 0 {
		name = id[i+1:]
	}

	for _, lp := range largeProjects {
		if name == lp || strings.HasSuffix(id, "/"+lp) || (strings.Contains(lp, "/") && strings.Contains(id, lp)) {
			set["known-large-project"] = struct{}{}
		}
	}
	for hint, flag := range identifierHints {
		if strings.Contains(name, hint) {
			set[flag] = struct{}{}
		}
	}

	if p != nil {
		if p.Files >= manyFiles {
			set["many-files"] = struct{}{}
		}
		if p.Bytes >= largeCheckout {
			set["large-checkout"] = struct{}{}
		}
		if p.Files > 0 && float64(p.VendorFiles)/float64(p.Files) >= vendorShare {
			set["vendored-deps"] = struct{}{}
		}
		if len(p.Languages) >= polyglotLangMin {
			set["polyglot"] = struct{}{}
		}
		if p.Truncated {
			set["profile-truncated"] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
