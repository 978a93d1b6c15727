package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/checkout"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/executor"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/metrics"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/monitor"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/remediation"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/report"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/repository"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/stuck"
)

// PhaseReport is used when a job finished its steps but its report could not be written.
const PhaseReport = "report"

// StepRunner runs one supervised scanner step.
type StepRunner interface {
	Run(ctx context.Context, req executor.StepRequest) executor.StepResult
}

// Preparer fills an empty working directory with the repository checkout.
type Preparer interface {
	Prepare(ctx context.Context, repo domain.Repository, dir string) (*domain.Profile, error)
}

// IncidentHandler finalises jobs that stopped without succeeding.
type IncidentHandler interface {
	Handle(ctx context.Context, in stuck.Incident) domain.StuckJobEntry
}

// ReportWriter writes the full report of a completed job.
type ReportWriter interface {
	Write(job *domain.RepositoryJob) (report.Artifacts, error)
	RepoDir(repo domain.Repository) string
}

// Remediations looks up the adjustments approved for a repository.
type Remediations interface {
	Lookup(repoID string) remediation.Remediation
}

// SessionDeps are the collaborators of a ScanSession. Sink, Claims and
// Remediations are optional.
type SessionDeps struct {
	Runner       StepRunner
	Checkout     Preparer
	Handler      IncidentHandler
	Reports      ReportWriter
	Sink         repository.ReportSink
	Claims       repository.ClaimStore
	Remediations Remediations
}

// ScanSession runs the scanner steps of one repository, strictly in order,
// against one working directory.
type ScanSession struct {
	rc     *RunContext
	deps   SessionDeps
	logger *zap.Logger
	now    func() time.Time
}

// NewScanSession creates a session runner shared by all workers.
func NewScanSession(rc *RunContext, deps SessionDeps, logger *zap.Logger) *ScanSession {
	return &ScanSession{rc: rc, deps: deps, logger: logger, now: time.Now}
}

// Execute processes a single job: ledger gate → claim → checkout → steps →
// report. It never returns an error; the outcome carries the classification.
func (s *ScanSession) Execute(ctx context.Context, job *domain.RepositoryJob) (out domain.Outcome) {
	start := s.now()
	id := job.ID()
	log := s.logger.With(zap.String("repo_id", id))
	out.Job = job
	defer func() { out.Duration = s.now().Sub(start) }()
	defer releaseOutput(job)

	cfg := s.rc.Config.Orchestrator

	// Step 1: ledger gate. Override is evaluated together with the terminal check.
	if !s.rc.Ledger.ShouldRun(id, cfg.OverrideScan) {
		job.Status = domain.JobSkipped
		job.Reason = "already terminal in resume ledger"
		log.Info("Job already terminal, skipping")
		out.Status = domain.JobSkipped
		out.Recorded = true
		return out
	}
	if s.rc.Token.Requested() {
		return s.interrupted(job, "shutdown requested before start")
	}

	// Step 2: claim the repository against other orchestrators.
	if s.deps.Claims != nil {
		acquired, err := s.deps.Claims.Claim(ctx, id)
		switch {
		case err != nil:
			log.Warn("Failed to claim repository, proceeding unclaimed", zap.Error(err))
		case !acquired:
			log.Info("Repository claimed by another orchestrator, skipping")
			job.Status = domain.JobSkipped
			job.Reason = domain.ErrClaimedElsewhere.Error()
			out.Status = domain.JobSkipped
			out.Err = domain.ErrClaimedElsewhere
			out.Recorded = true
			return out
		default:
			defer func() {
				if err := s.deps.Claims.Release(context.WithoutCancel(ctx), id); err != nil {
					log.Warn("Failed to release repository claim", zap.Error(err))
				}
			}()
		}
	}

	job.Attempts = s.rc.Ledger.Attempts(id) + 1
	job.Status = domain.JobRunning

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if cfg.RepoTimeout > 0 {
		job.Deadline = start.Add(cfg.RepoTimeout)
		jobCtx, cancel = context.WithTimeout(ctx, cfg.RepoTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	log.Info("Job started", zap.Int("attempt", job.Attempts), zap.Int("steps", len(job.Steps)))

	// Step 3: working directory and checkout.
	workDir, err := os.MkdirTemp(s.rc.Config.Paths.WorkDir, checkout.DirName(job.Repo)+"-*")
	if err != nil {
		return s.stop(ctx, stuck.Incident{
			Job:   job,
			Err:   fmt.Errorf("%w: create work dir: %v", domain.ErrSetupFailure, err),
			Phase: domain.PhaseSetup,
		})
	}
	if !cfg.KeepWorkdirs {
		defer func() {
			if err := os.RemoveAll(workDir); err != nil {
				log.Warn("Failed to remove work dir", zap.String("dir", workDir), zap.Error(err))
			}
		}()
	}

	profile, err := s.deps.Checkout.Prepare(jobCtx, job.Repo, workDir)
	if err != nil {
		if jobCtx.Err() != nil {
			return s.contextStop(ctx, jobCtx, job, domain.PhaseSetup)
		}
		return s.stop(ctx, stuck.Incident{Job: job, Err: err, Phase: domain.PhaseSetup})
	}
	job.Profile = profile

	// Step 4: approved remediations.
	policy := monitor.Policy{
		Interval:        cfg.ProgressCheckInterval,
		MaxIdle:         cfg.MaxIdleTime,
		InitialDeadline: cfg.InitialStepDeadline,
		Ceiling:         cfg.ScannerTimeout,
	}
	var exclude []string
	if s.deps.Remediations != nil {
		rem := s.deps.Remediations.Lookup(id)
		policy.Ceiling = cfg.StepCeiling(rem.StepTimeout)
		if len(rem.ExcludePaths) > 0 {
			exclude = rem.ExcludePaths
			n, err := remediation.Prune(workDir, exclude)
			if err != nil {
				log.Warn("Failed to prune excluded paths", zap.Error(err))
			} else {
				log.Info("Excluded paths pruned", zap.Strings("patterns", exclude), zap.Int("removed", n))
			}
		}
	}

	// Each attempt starts from an empty output directory so that report
	// files left by an earlier attempt are never credited to this one.
	outputDir := filepath.Join(s.deps.Reports.RepoDir(job.Repo), "raw")
	if err := os.RemoveAll(outputDir); err != nil {
		return s.stop(ctx, stuck.Incident{
			Job:   job,
			Err:   fmt.Errorf("%w: clear output dir: %v", domain.ErrSetupFailure, err),
			Phase: domain.PhaseSetup,
		})
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return s.stop(ctx, stuck.Incident{
			Job:   job,
			Err:   fmt.Errorf("%w: create output dir: %v", domain.ErrSetupFailure, err),
			Phase: domain.PhaseSetup,
		})
	}

	// Step 5: scanner steps, strictly in order.
	var crash *stuck.Incident
	for _, step := range job.Steps {
		if s.rc.Token.Requested() {
			return s.interrupted(job, "shutdown requested before "+step.Scanner.ID)
		}
		if jobCtx.Err() != nil {
			return s.contextStop(ctx, jobCtx, job, step.Scanner.ID)
		}

		step.State = domain.StepRunning
		res := s.deps.Runner.Run(jobCtx, executor.StepRequest{
			Scanner:      step.Scanner,
			RepoID:       id,
			WorkDir:      workDir,
			OutputDir:    outputDir,
			ExcludePaths: exclude,
			Policy:       policy,
		})
		applyResult(step, res)
		metrics.StepDuration.WithLabelValues(step.Scanner.ID, string(step.State)).Observe(step.Duration().Seconds())

		stepLog := log.With(zap.String("scanner", step.Scanner.ID))
		if res.State == domain.StepSuccess {
			stepLog.Info("Step completed", zap.Duration("duration", step.Duration()), zap.Int("reports", len(step.Reports)))
			continue
		}

		stepLog.Debug("Step stopped",
			zap.String("state", string(res.State)),
			zap.Int("samples", len(res.Samples)),
			zap.Duration("duration", step.Duration()),
		)
		if s.rc.Token.Requested() || errors.Is(res.Err, domain.ErrShutdownRequested) {
			return s.interrupted(job, "shutdown during "+step.Scanner.ID)
		}

		in := stuck.Incident{
			Job:     job,
			PGID:    res.PGID,
			Err:     res.Err,
			Phase:   step.Scanner.ID,
			Reason:  res.Reason,
			Excerpt: excerpt(res),
		}
		switch {
		case errors.Is(res.Err, domain.ErrRepoDeadlineExceeded):
			// Remaining steps are abandoned; the job-level deadline owns the phase.
			in.Phase = domain.PhaseRepoTimeout
			in.Reason = fmt.Sprintf("repository deadline of %s elapsed during %s", cfg.RepoTimeout, step.Scanner.ID)
			return s.stop(ctx, in)
		case domain.IsTimeout(res.Err):
			return s.stop(ctx, in)
		default:
			// A crashing scanner does not abort the rest of the job.
			stepLog.Warn("Step failed", zap.Int("exit_code", res.ExitCode), zap.Error(res.Err))
			if crash == nil {
				crash = &in
			}
		}
	}
	if crash != nil {
		return s.stop(ctx, *crash)
	}

	// Step 6: report.
	job.Status = domain.JobCompleted
	artifacts, err := s.deps.Reports.Write(job)
	if err != nil {
		return s.stop(ctx, stuck.Incident{Job: job, Err: err, Phase: PhaseReport, Reason: "failed to write report"})
	}
	if s.deps.Sink != nil {
		if err := s.deps.Sink.SaveReport(ctx, job); err != nil {
			log.Error("Failed to persist report", zap.Error(err))
		}
	}

	log.Info("Job completed", zap.String("report", artifacts.JSON), zap.Duration("duration", s.now().Sub(start)))
	out.Status = domain.JobCompleted
	return out
}

// stop hands a failed job to the incident handler, which sets its status.
func (s *ScanSession) stop(ctx context.Context, in stuck.Incident) domain.Outcome {
	entry := s.deps.Handler.Handle(ctx, in)
	return domain.Outcome{Job: in.Job, Status: in.Job.Status, Err: in.Err, Entry: &entry}
}

// contextStop classifies a job whose context ended outside of a step.
func (s *ScanSession) contextStop(ctx, jobCtx context.Context, job *domain.RepositoryJob, during string) domain.Outcome {
	if ctx.Err() == nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		return s.stop(ctx, stuck.Incident{
			Job:    job,
			Err:    domain.ErrRepoDeadlineExceeded,
			Phase:  domain.PhaseRepoTimeout,
			Reason: fmt.Sprintf("repository deadline of %s elapsed during %s", s.rc.Config.Orchestrator.RepoTimeout, during),
		})
	}
	return s.interrupted(job, "context canceled during "+during)
}

// interrupted abandons the job without recording it: the next run picks it up again.
func (s *ScanSession) interrupted(job *domain.RepositoryJob, reason string) domain.Outcome {
	s.logger.Info("Job interrupted", zap.String("repo_id", job.ID()), zap.String("reason", reason))
	job.Status = domain.JobPending
	job.Reason = reason
	return domain.Outcome{
		Job:         job,
		Status:      domain.JobPending,
		Err:         domain.ErrShutdownRequested,
		Interrupted: true,
	}
}

func applyResult(step *domain.ScanStep, res executor.StepResult) {
	step.State = res.State
	step.StartedAt = res.StartedAt
	step.EndedAt = res.EndedAt
	step.ExitCode = res.ExitCode
	step.Stdout = res.Stdout
	step.Stderr = res.Stderr
	step.Reports = res.Reports
	step.Reason = res.Reason
}

// releaseOutput drops the retained stdout/stderr tails once the job's
// reports and diagnostic excerpt have been written.
func releaseOutput(job *domain.RepositoryJob) {
	for _, step := range job.Steps {
		step.Stdout = ""
		step.Stderr = ""
	}
}

func excerpt(res executor.StepResult) string {
	var parts []string
	if s := strings.TrimSpace(res.Stdout); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(res.Stderr); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}
