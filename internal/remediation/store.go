// Package remediation keeps the scoped, pre-approved adjustments applied to
// individual repositories: a longer step ceiling and path exclusions.
package remediation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/fsutil"
)

// ErrRejected is returned for remediations outside the approved scope.
var ErrRejected = errors.New("remediation rejected")

// Remediation is the set of adjustments for one repository.
type Remediation struct {
	StepTimeout  time.Duration `json:"step_timeout,omitempty"`
	ExcludePaths []string      `json:"exclude_paths,omitempty"`
	Source       string        `json:"source,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// IsZero reports whether r changes nothing.
func (r Remediation) IsZero() bool {
	return r.StepTimeout == 0 && len(r.ExcludePaths) == 0
}

// Limits bound what may be applied.
type Limits struct {
	MaxStepTimeout time.Duration
	MaxPaths       int
}

// Store persists remediations next to the ledger.
type Store struct {
	mu     sync.Mutex
	path   string
	items  map[string]Remediation
	limits Limits
	logger *zap.Logger
}

// Open loads the store at path; a missing file is an empty store. An
// unreadable file is ignored with a warning, remediations are advisory.
func Open(path string, limits Limits, logger *zap.Logger) (*Store, error) {
	if limits.MaxPaths <= 0 {
		limits.MaxPaths = 20
	}
	s := &Store{path: path, items: make(map[string]Remediation), limits: limits, logger: logger}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("remediation: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.items); err != nil {
		logger.Warn("Ignoring unreadable remediation file", zap.String("path", path), zap.Error(err))
		s.items = make(map[string]Remediation)
	}
	return s, nil
}

// Lookup returns the remediation for repoID.
func (s *Store) Lookup(repoID string) Remediation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[repoID]
}

// Apply validates r and merges it into the remediation of repoID. Timeouts
// only ever grow and are capped; exclusions must be relative gitignore
// patterns that do not cover the whole tree.
func (s *Store) Apply(repoID string, r Remediation) (Remediation, error) {
	if r.StepTimeout < 0 {
		return Remediation{}, fmt.Errorf("%w: negative timeout", ErrRejected)
	}
	if s.limits.MaxStepTimeout > 0 && r.StepTimeout > s.limits.MaxStepTimeout {
		r.StepTimeout = s.limits.MaxStepTimeout
	}
	paths, err := ValidatePatterns(r.ExcludePaths)
	if err != nil {
		return Remediation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.items[repoID]
	if r.StepTimeout > cur.StepTimeout {
		cur.StepTimeout = r.StepTimeout
	}
	cur.ExcludePaths = mergePaths(cur.ExcludePaths, paths)
	if len(cur.ExcludePaths) > s.limits.MaxPaths {
		return Remediation{}, fmt.Errorf("%w: more than %d exclusions for %s", ErrRejected, s.limits.MaxPaths, repoID)
	}
	cur.Source = r.Source
	cur.Reason = r.Reason
	cur.UpdatedAt = time.Now().UTC()
	if cur.IsZero() {
		return cur, nil
	}
	s.items[repoID] = cur

	if err := s.persistLocked(); err != nil {
		return Remediation{}, err
	}
	s.logger.Info("Remediation applied",
		zap.String("repo_id", repoID),
		zap.Duration("step_timeout", cur.StepTimeout),
		zap.Strings("exclude_paths", cur.ExcludePaths),
		zap.String("source", cur.Source),
	)
	return cur, nil
}

// Clear removes the remediation of repoID.
func (s *Store) Clear(repoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[repoID]; !ok {
		return nil
	}
	delete(s.items, repoID)
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return fmt.Errorf("remediation: encode: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("remediation: %w", err)
	}
	return nil
}

// samplePaths are spread across a typical tree; a sane exclusion never covers all of them.
var samplePaths = []string{"main.go", "src/app/index.js", "lib/core/util.py", "README.md"}

// ValidatePatterns normalises exclusion patterns and rejects absolute
// paths, parent traversal, negations and patterns covering the whole tree.
func ValidatePatterns(patterns []string) ([]string, error) {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(filepath.ToSlash(p))
		if p == "" {
			continue
		}
		switch {
		case strings.HasPrefix(p, "/") || filepath.IsAbs(p):
			return nil, fmt.Errorf("%w: absolute path %q", ErrRejected, p)
		case strings.HasPrefix(p, "!"):
			return nil, fmt.Errorf("%w: negated pattern %q", ErrRejected, p)
		}
		clean := path.Clean(strings.TrimSuffix(p, "/"))
		if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
			return nil, fmt.Errorf("%w: pattern %q escapes the checkout", ErrRejected, p)
		}
		if strings.HasSuffix(p, "/") {
			clean += "/"
		}
		m := gitignore.CompileIgnoreLines(clean)
		covered := 0
		for _, sample := range samplePaths {
			if m.MatchesPath(sample) {
				covered++
			}
		}
		if covered == len(samplePaths) {
			return nil, fmt.Errorf("%w: pattern %q excludes the whole tree", ErrRejected, p)
		}
		out = append(out, clean)
	}
	return out, nil
}

func mergePaths(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, p := range a {
		set[p] = struct{}{}
	}
	for _, p := range b {
		set[p] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Prune removes files and directories under dir matching patterns, so that
// scanners which do not read the exclusion env var skip them too. It returns
// the number of entries removed.
func Prune(dir string, patterns []string) (int, error) {
	if len(patterns) == 0 {
		return 0, nil
	}
	m := gitignore.CompileIgnoreLines(patterns...)
	var doomed []string
	err := filepath.WalkDir(dir, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(dir, full)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if m.MatchesPath(rel) {
			doomed = append(doomed, full)
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("remediation: prune walk: %w", err)
	}
	for _, p := range doomed {
		if err := os.RemoveAll(p); err != nil {
			return 0, fmt.Errorf("remediation: prune %s: %w", p, err)
		}
	}
	return len(doomed), nil
}
