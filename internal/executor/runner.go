package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/metrics"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/monitor"
)

// ExcludePathsEnv carries remediated path exclusions to scanners that support them.
const ExcludePathsEnv = "SCAN_EXCLUDE_PATHS"

// Tracker records live process groups so the shutdown path can kill them.
// Track returns false once shutdown has started; the caller must kill the
// group itself in that case.
type Tracker interface {
	Track(pgid int, label string) bool
	Untrack(pgid int)
}

// StepRequest describes one scanner invocation.
type StepRequest struct {
	Scanner      domain.ScannerSpec
	RepoID       string
	WorkDir      string
	OutputDir    string
	ExcludePaths []string
	Policy       monitor.Policy
}

// StepResult is the classified outcome of one scanner invocation.
type StepResult struct {
	State     domain.StepState
	Err       error
	Reason    string
	ExitCode  int
	Stdout    string
	Stderr    string
	Reports   []string
	Samples   []domain.ProgressSample
	PGID      int
	StartedAt time.Time
	EndedAt   time.Time
}

// Options configures a Runner.
type Options struct {
	MinCPUThreshold float64
	MaxOutputBytes  int
	KillWait        time.Duration
	History         int
}

// Runner starts scanners in their own process group and supervises them
// with a progress monitor and an adaptive timeout controller.
type Runner struct {
	sampler monitor.Sampler
	tracker Tracker
	opts    Options
	logger  *zap.Logger
}

// NewRunner creates a step runner. tracker may be nil.
func NewRunner(sampler monitor.Sampler, tracker Tracker, opts Options, logger *zap.Logger) *Runner {
	if opts.History <= 0 {
		opts.History = monitor.DefaultHistory
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 256 * 1024
	}
	return &Runner{sampler: sampler, tracker: tracker, opts: opts, logger: logger}
}

// Run executes the step and blocks until the scanner exits or is killed.
// The only thing that unblocks a hung scanner is a kill of its process
// group, issued here on expiry or by the shutdown path.
func (r *Runner) Run(ctx context.Context, req StepRequest) StepResult {
	res := StepResult{StartedAt: time.Now(), ExitCode: -1}
	defer func() {
		if res.EndedAt.IsZero() {
			res.EndedAt = time.Now()
		}
	}()

	argv := Expand(req.Scanner.Argv, req)
	if len(argv) == 0 || argv[0] == "" {
		res.State = domain.StepError
		res.Err = fmt.Errorf("%w: scanner %q has an empty argv", domain.ErrSubprocessCrash, req.Scanner.ID)
		res.Reason = "empty argv"
		return res
	}
	if err := ctx.Err(); err != nil {
		contextFailure(&res, err)
		return res
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = req.WorkDir
	cmd.Env = buildEnv(req)
	setupProcessGroup(cmd)
	cmd.WaitDelay = r.opts.KillWait

	var written atomic.Uint64
	stdout := newTailBuffer(r.opts.MaxOutputBytes, &written)
	stderr := newTailBuffer(r.opts.MaxOutputBytes, &written)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		res.State = domain.StepError
		res.Err = fmt.Errorf("%w: start %s: %v", domain.ErrSubprocessCrash, argv[0], err)
		res.Reason = err.Error()
		return res
	}
	pgid := cmd.Process.Pid
	res.PGID = pgid

	log := r.logger.With(
		zap.String("repo_id", req.RepoID),
		zap.String("scanner", req.Scanner.ID),
		zap.Int("pgid", pgid),
	)
	log.Debug("Scanner started", zap.Strings("argv", argv))

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	if r.tracker != nil {
		if !r.tracker.Track(pgid, req.RepoID+"/"+req.Scanner.ID) {
			r.kill(cmd, log)
			<-waitCh
			res.State = domain.StepError
			res.Err = domain.ErrShutdownRequested
			res.Reason = "shutdown requested before scanner start"
			r.finish(&res, req, cmd, stdout, stderr, nil)
			return res
		}
		defer r.tracker.Untrack(pgid)
	}

	mon := monitor.NewProgressMonitor(r.sampler, pgid, r.opts.MinCPUThreshold, r.opts.History)
	mon.Start(res.StartedAt, written.Load())
	ctl := monitor.NewAdaptiveTimeoutController(req.Policy, res.StartedAt)

	ticker := time.NewTicker(req.Policy.Interval)
	defer ticker.Stop()

	for {
		select {
		case waitErr := <-waitCh:
			// A scanner killed by the shutdown path exits with a signal;
			// the context tells the two apart.
			if waitErr != nil && ctx.Err() != nil {
				contextFailure(&res, ctx.Err())
			} else {
				r.classifyExit(&res, waitErr, cmd)
			}
			r.finish(&res, req, cmd, stdout, stderr, mon)
			r.sweep(pgid, log)
			return res

		case <-ctx.Done():
			r.kill(cmd, log)
			<-waitCh
			contextFailure(&res, ctx.Err())
			log.Warn("Scanner killed by context", zap.Error(res.Err))
			r.finish(&res, req, cmd, stdout, stderr, mon)
			return res

		case now := <-ticker.C:
			sample := mon.Observe(now, written.Load())
			d := ctl.Observe(sample.Activity, now)
			switch d.Verdict {
			case monitor.Extend:
				metrics.DeadlineExtensions.Inc()
			case monitor.Expire:
				r.kill(cmd, log)
				<-waitCh
				res.State = domain.StepTimedOut
				res.Err = d.Err
				res.Reason = d.Reason
				metrics.StepsKilled.WithLabelValues(killLabel(d.Err)).Inc()
				log.Warn("Scanner expired",
					zap.String("reason", d.Reason),
					zap.Duration("elapsed", now.Sub(res.StartedAt)),
				)
				r.finish(&res, req, cmd, stdout, stderr, mon)
				return res
			}
			log.Debug("Progress sample",
				zap.Stringer("activity", sample.Activity),
				zap.Float64("cpu_percent", sample.CPUPercent),
				zap.Uint64("io_bytes_delta", sample.IOBytesDelta),
				zap.Uint64("output_bytes_delta", sample.OutputBytesDelta),
				zap.Time("deadline", d.Deadline),
			)
		}
	}
}

func (r *Runner) kill(cmd *exec.Cmd, log *zap.Logger) {
	if err := KillGroup(cmd.Process.Pid); err != nil {
		log.Warn("Process group kill failed, killing leader", zap.Error(err))
		_ = cmd.Process.Kill()
	}
}

// sweep removes stragglers a scanner left behind after exiting normally.
func (r *Runner) sweep(pgid int, log *zap.Logger) {
	if GroupAlive(pgid) {
		log.Debug("Killing leftover process group members")
		_ = KillGroup(pgid)
	}
}

func (r *Runner) classifyExit(res *StepResult, waitErr error, cmd *exec.Cmd) {
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	switch {
	case waitErr == nil:
		res.State = domain.StepSuccess
	case errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success():
		// Exited cleanly but a grandchild held the pipes open.
		res.State = domain.StepSuccess
	default:
		res.State = domain.StepError
		res.Err = fmt.Errorf("%w: %s: %v", domain.ErrSubprocessCrash, cmd.Path, waitErr)
		res.Reason = fmt.Sprintf("exit code %d", res.ExitCode)
	}
}

func (r *Runner) finish(res *StepResult, req StepRequest, cmd *exec.Cmd, stdout, stderr *tailBuffer, mon *monitor.ProgressMonitor) {
	res.EndedAt = time.Now()
	if cmd.ProcessState != nil && res.ExitCode == -1 {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if mon != nil {
		res.Samples = mon.Samples()
	}
	res.Reports = CollectReports(req)
}

func contextFailure(res *StepResult, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		res.State = domain.StepTimedOut
		res.Err = domain.ErrRepoDeadlineExceeded
		res.Reason = "repository deadline elapsed"
		return
	}
	res.State = domain.StepError
	res.Err = domain.ErrShutdownRequested
	res.Reason = "shutdown requested"
}

func killLabel(err error) string {
	if errors.Is(err, domain.ErrHardDeadlineExceeded) {
		return "hard_deadline"
	}
	return "stalled"
}

// Expand substitutes {workdir}, {output} and {repo} in argv.
func Expand(argv []string, req StepRequest) []string {
	rep := strings.NewReplacer(
		"{workdir}", req.WorkDir,
		"{output}", req.OutputDir,
		"{repo}", req.RepoID,
	)
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = rep.Replace(a)
	}
	return out
}

func buildEnv(req StepRequest) []string {
	env := os.Environ()
	keys := make([]string, 0, len(req.Scanner.Env))
	for k := range req.Scanner.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+req.Scanner.Env[k])
	}
	if len(req.ExcludePaths) > 0 {
		env = append(env, ExcludePathsEnv+"="+strings.Join(req.ExcludePaths, ","))
	}
	return env
}

// CollectReports resolves the scanner's report patterns to existing files.
// Relative patterns are resolved against the output directory.
func CollectReports(req StepRequest) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, pattern := range Expand(req.Scanner.Reports, req) {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(req.OutputDir, pattern)
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if fi, err := os.Stat(m); err != nil || fi.IsDir() {
				continue
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
