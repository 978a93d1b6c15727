// Package ledger persists which repository jobs reached a terminal state so
// an interrupted batch can be resumed without rescanning finished work.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/fsutil"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/metrics"
)

const fileVersion = 1

// Record is the ledger entry of one repository.
type Record struct {
	Status    domain.JobStatus `json:"status"`
	Attempts  int              `json:"attempts"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Entry is a Record with its repository id, used for listings.
type Entry struct {
	ID string `json:"id"`
	Record
	Quarantined bool `json:"quarantined,omitempty"`
}

type fileFormat struct {
	Version    int               `json:"version"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Jobs       map[string]Record `json:"jobs"`
	Quarantine []string          `json:"quarantine,omitempty"`
}

// Ledger is the resume ledger. Every exported method takes the lock exactly
// once and delegates to helpers that assume it is held, so persisting from
// inside MarkTerminal never re-acquires it.
type Ledger struct {
	mu         sync.Mutex
	path       string
	jobs       map[string]Record
	quarantine map[string]struct{}
	updatedAt  time.Time
	recovered  bool
	logger     *zap.Logger
	now        func() time.Time
}

// Open loads the ledger at path. A missing file yields an empty ledger. A
// corrupt file is moved aside and replaced by an empty ledger with a loud
// warning; it never fails the run.
func Open(path string, logger *zap.Logger) (*Ledger, error) {
	l := &Ledger{
		path:       path,
		jobs:       make(map[string]Record),
		quarantine: make(map[string]struct{}),
		logger:     logger,
		now:        time.Now,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", path, err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil || f.Version > fileVersion {
		if err == nil {
			err = fmt.Errorf("unsupported version %d", f.Version)
		}
		l.recoverCorrupt(fmt.Errorf("%w: %v", domain.ErrLedgerCorruption, err))
		return l, nil
	}

	for id, rec := range f.Jobs {
		// Only terminal statuses are ever written; anything else is noise.
		if rec.Status.IsTerminal() {
			l.jobs[id] = rec
		}
	}
	for _, id := range f.Quarantine {
		l.quarantine[id] = struct{}{}
	}
	l.updatedAt = f.UpdatedAt
	return l, nil
}

func (l *Ledger) recoverCorrupt(cause error) {
	aside := fmt.Sprintf("%s.corrupt-%d", l.path, l.now().Unix())
	if err := os.Rename(l.path, aside); err != nil {
		aside = ""
		l.logger.Error("Failed to move corrupt ledger aside", zap.Error(err))
	}
	l.recovered = true
	l.logger.Warn("RESUME LEDGER IS CORRUPT; STARTING FROM AN EMPTY LEDGER, PREVIOUSLY FINISHED JOBS WILL BE RESCANNED",
		zap.String("path", l.path),
		zap.String("moved_to", aside),
		zap.Error(cause),
	)
}

// Recovered reports whether Open discarded a corrupt file.
func (l *Ledger) Recovered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recovered
}

// IsTerminal reports whether id must not be scanned again without override.
// A timed_out job stays eligible for retry unless it is quarantined.
func (l *Ledger) IsTerminal(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isTerminalLocked(id)
}

// ShouldRun decides whether a session may start. The override flag is
// evaluated in the same expression as the ledger check.
func (l *Ledger) ShouldRun(id string, override bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return override || !l.isTerminalLocked(id)
}

func (l *Ledger) isTerminalLocked(id string) bool {
	rec, ok := l.jobs[id]
	if !ok {
		return false
	}
	if rec.Status == domain.JobTimedOut {
		_, q := l.quarantine[id]
		return q
	}
	return rec.Status.IsTerminal()
}

// Lookup returns the record of id.
func (l *Ledger) Lookup(id string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.jobs[id]
	return rec, ok
}

// Attempts returns how many terminal outcomes have been recorded for id.
func (l *Ledger) Attempts(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.jobs[id].Attempts
}

// MarkTerminal records a terminal status for id and persists the ledger.
func (l *Ledger) MarkTerminal(id string, status domain.JobStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("ledger: refusing to record non-terminal status %q for %s", status, id)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.jobs[id]
	rec.Status = status
	rec.Attempts++
	rec.UpdatedAt = l.now().UTC()
	l.jobs[id] = rec
	return l.persistLocked()
}

// Quarantine adds ids to the quarantine list. Quarantined timed_out jobs are
// not retried automatically.
func (l *Ledger) Quarantine(ids ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	changed := false
	for _, id := range ids {
		if _, ok := l.quarantine[id]; !ok && id != "" {
			l.quarantine[id] = struct{}{}
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return l.persistLocked()
}

// Reset forgets ids, including their quarantine, and returns how many
// records were removed.
func (l *Ledger) Reset(ids ...string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if _, ok := l.jobs[id]; ok {
			delete(l.jobs, id)
			removed++
		}
		delete(l.quarantine, id)
	}
	return removed, l.persistLocked()
}

// Counts returns the number of recorded jobs per status.
func (l *Ledger) Counts() map[domain.JobStatus]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[domain.JobStatus]int)
	for _, rec := range l.jobs {
		out[rec.Status]++
	}
	return out
}

// Entries lists every record sorted by id.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.jobs))
	for id, rec := range l.jobs {
		_, q := l.quarantine[id]
		out = append(out, Entry{ID: id, Record: rec, Quarantined: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdatedAt returns the time of the last write.
func (l *Ledger) UpdatedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updatedAt
}

// persistLocked writes the ledger atomically (temp file and rename).
func (l *Ledger) persistLocked() (err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.LedgerWrites.WithLabelValues(result).Inc()
	}()

	l.updatedAt = l.now().UTC()
	f := fileFormat{
		Version:   fileVersion,
		UpdatedAt: l.updatedAt,
		Jobs:      l.jobs,
	}
	for id := range l.quarantine {
		f.Quarantine = append(f.Quarantine, id)
	}
	sort.Strings(f.Quarantine)

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: encode: %w", err)
	}
	if err := fsutil.WriteFileAtomic(l.path, data, 0o644); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}
