// Package stuck handles jobs that did not finish successfully: it makes sure
// no scanner process survives, records one diagnostic entry per job and
// salvages a partial report from the steps that did complete.
package stuck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/fsutil"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/report"
)

// MaxExcerptBytes bounds the log excerpt stored per entry.
const MaxExcerptBytes = 4096

// Incident describes why a job stopped.
type Incident struct {
	Job     *domain.RepositoryJob
	PGID    int
	Err     error
	Phase   string
	Reason  string
	Excerpt string
}

// PartialWriter writes the partial report of a stopped job.
type PartialWriter interface {
	WritePartial(job *domain.RepositoryJob) (report.Artifacts, error)
}

// Handler is safe for concurrent use by all workers.
type Handler struct {
	logPath     string
	summaryPath string
	kill        func(pgid int) error
	partial     PartialWriter
	logger      *zap.Logger
	now         func() time.Time

	// OnEntry, when set, receives every entry after it is recorded.
	OnEntry func(domain.StuckJobEntry)

	mu      sync.Mutex
	entries []domain.StuckJobEntry
}

// NewHandler creates a handler appending JSON lines to logPath and one
// human-readable line per entry to summaryPath.
func NewHandler(logPath, summaryPath string, kill func(pgid int) error, partial PartialWriter, logger *zap.Logger) *Handler {
	return &Handler{
		logPath:     logPath,
		summaryPath: summaryPath,
		kill:        kill,
		partial:     partial,
		logger:      logger,
		now:         time.Now,
	}
}

// Handle finalises a job that stopped without succeeding and returns its
// diagnostic entry. The job's status, phase and reason are set here.
func (h *Handler) Handle(_ context.Context, in Incident) domain.StuckJobEntry {
	job := in.Job
	log := h.logger.With(zap.String("repo_id", job.ID()), zap.String("phase", in.Phase))

	// Final sweep; the supervision path normally killed the group already.
	if in.PGID > 0 && h.kill != nil {
		if err := h.kill(in.PGID); err != nil {
			log.Warn("Final process group kill failed", zap.Int("pgid", in.PGID), zap.Error(err))
		}
	}

	status := Classify(in.Err)
	job.Status = status
	job.Phase = in.Phase
	job.Reason = in.Reason
	if job.Reason == "" && in.Err != nil {
		job.Reason = in.Err.Error()
	}

	entry := domain.StuckJobEntry{
		ID:         uuid.New(),
		RepoID:     job.ID(),
		Phase:      in.Phase,
		Reason:     job.Reason,
		Status:     status,
		At:         h.now().UTC(),
		LogExcerpt: Truncate(in.Excerpt, MaxExcerptBytes),
		Attempts:   job.Attempts,
		RiskFlags:  RiskFlags(job.ID(), job.Profile),
		Profile:    job.Profile,
	}

	if h.partial != nil {
		if a, err := h.partial.WritePartial(job); err != nil {
			log.Error("Failed to write partial report", zap.Error(err))
		} else {
			log.Info("Partial report written", zap.String("path", a.JSON), zap.Int("completed_steps", len(job.CompletedSteps())))
		}
	}

	h.mu.Lock()
	h.entries = append(h.entries, entry)
	err := h.appendLocked(entry)
	h.mu.Unlock()
	if err != nil {
		log.Error("Failed to append diagnostic entry", zap.Error(err))
	}

	log.Warn("Job stopped",
		zap.String("status", string(status)),
		zap.String("reason", entry.Reason),
		zap.Strings("risk_flags", entry.RiskFlags),
		zap.Int("attempts", entry.Attempts),
	)

	if h.OnEntry != nil {
		h.OnEntry(entry)
	}
	return entry
}

// Entries returns every entry recorded during this run.
func (h *Handler) Entries() []domain.StuckJobEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.StuckJobEntry(nil), h.entries...)
}

func (h *Handler) appendLocked(e domain.StuckJobEntry) error {
	var errs []error
	if h.logPath != "" {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("stuck: encode entry: %w", err)
		}
		if err := fsutil.AppendLine(h.logPath, line); err != nil {
			errs = append(errs, fmt.Errorf("stuck: diagnostic log: %w", err))
		}
	}
	if h.summaryPath != "" {
		if err := fsutil.AppendLine(h.summaryPath, []byte(SummaryLine(e))); err != nil {
			errs = append(errs, fmt.Errorf("stuck: summary: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Classify maps a stop cause to the job status. Timeouts are kept apart
// from errors because the scan may have been fine given more time.
func Classify(err error) domain.JobStatus {
	if domain.IsTimeout(err) {
		return domain.JobTimedOut
	}
	return domain.JobError
}

// SummaryLine renders one entry for the human-readable stuck-jobs summary.
func SummaryLine(e domain.StuckJobEntry) string {
	line := fmt.Sprintf("%s  %-9s  %s  phase=%s  attempts=%d  reason=%s",
		e.At.Format(time.RFC3339), e.Status, e.RepoID, e.Phase, e.Attempts, oneLine(e.Reason))
	if len(e.RiskFlags) > 0 {
		line += "  flags=" + strings.Join(e.RiskFlags, ",")
	}
	return line
}

// Truncate keeps the last max bytes of s on a UTF-8 boundary.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !isRuneStart(s[cut]) {
		cut++
	}
	return "..." + s[cut:]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
