package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/metrics"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/repository"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/stuck"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/usecase"
)

var (
	// ErrFailFast is returned when continue-on-timeout is off and a job failed.
	ErrFailFast = errors.New("run stopped after a failed job")

	// ErrWorkerPanic classifies a job whose session panicked.
	ErrWorkerPanic = errors.New("worker panic")
)

// PhasePanic is the diagnostic phase of a job whose session panicked.
const PhasePanic = "panic"

// PublishTimeout bounds the broker confirm wait per outcome event.
const PublishTimeout = 10 * time.Second

// Session executes one repository job.
type Session interface {
	Execute(ctx context.Context, job *domain.RepositoryJob) domain.Outcome
}

// IncidentHandler records jobs that stopped without succeeding.
type IncidentHandler interface {
	Handle(ctx context.Context, in stuck.Incident) domain.StuckJobEntry
}

// WorkerPool runs at most size sessions at once and folds every terminal
// outcome into the resume ledger as soon as it is known. Outcomes are not
// retained; only the aggregate Stats outlive a job.
type WorkerPool struct {
	size      int
	rc        *usecase.RunContext
	session   Session
	handler   IncidentHandler
	publisher repository.EventPublisher
	runID     string
	logger    *zap.Logger
	wg        sync.WaitGroup

	stopOnce sync.Once
	stop     chan struct{}
	cancel   context.CancelFunc

	mu     sync.Mutex
	stats  domain.Stats
	failed string
}

// NewWorkerPool creates a pool sized by the run configuration. handler and
// publisher may be nil.
func NewWorkerPool(rc *usecase.RunContext, session Session, handler IncidentHandler, publisher repository.EventPublisher, runID string, logger *zap.Logger) *WorkerPool {
	size := rc.Config.Orchestrator.MaxWorkers
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size:      size,
		rc:        rc,
		session:   session,
		handler:   handler,
		publisher: publisher,
		runID:     runID,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Run processes jobs until all are terminal, the token fires, or fail-fast
// stops the run. A fail-fast stop also cancels in-flight jobs, which end as
// interrupted. Every worker has returned before Run does.
func (p *WorkerPool) Run(ctx context.Context, jobs []*domain.RepositoryJob) (domain.Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancel = cancel

	size := p.size
	if len(jobs) < size {
		size = len(jobs)
	}
	p.logger.Info("Starting worker pool", zap.Int("pool_size", size), zap.Int("jobs", len(jobs)))

	queue := make(chan *domain.RepositoryJob)
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i, queue)
	}

	dispatched := 0
dispatch:
	for _, job := range jobs {
		if p.rc.Token.Requested() || p.stopped() {
			break
		}
		select {
		case queue <- job:
			dispatched++
		case <-p.stop:
			break dispatch
		case <-p.rc.Token.Done():
			break dispatch
		}
	}
	close(queue)
	p.wg.Wait()

	p.mu.Lock()
	p.stats.NotStarted += len(jobs) - dispatched
	stats := p.stats
	failed := p.failed
	p.mu.Unlock()

	p.logger.Info("Worker pool stopped",
		zap.Int("completed", stats.Completed),
		zap.Int("timed_out", stats.TimedOut),
		zap.Int("error", stats.Errored),
		zap.Int("skipped", stats.Skipped),
		zap.Int("interrupted", stats.Interrupted),
		zap.Int("not_started", stats.NotStarted),
	)

	switch {
	case p.rc.Token.Requested():
		return stats, domain.ErrShutdownRequested
	case failed != "":
		return stats, fmt.Errorf("%w: %s", ErrFailFast, failed)
	}
	return stats, nil
}

func (p *WorkerPool) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

func (p *WorkerPool) worker(ctx context.Context, id int, queue <-chan *domain.RepositoryJob) {
	defer p.wg.Done()
	p.logger.Debug("Worker started", zap.Int("worker_id", id))

	for job := range queue {
		if p.stopped() {
			p.mu.Lock()
			p.stats.NotStarted++
			p.mu.Unlock()
			continue
		}
		p.logger.Info("Worker processing job",
			zap.Int("worker_id", id),
			zap.String("repo_id", job.ID()),
		)
		out := p.runJob(ctx, id, job)
		p.record(ctx, out)
	}
	p.logger.Debug("Worker shutting down", zap.Int("worker_id", id))
}

// runJob isolates one job: a panic becomes an error outcome for that job only.
func (p *WorkerPool) runJob(ctx context.Context, id int, job *domain.RepositoryJob) (out domain.Outcome) {
	metrics.WorkersActive.Inc()
	start := time.Now()
	defer func() {
		metrics.WorkersActive.Dec()
		if r := recover(); r != nil {
			p.logger.Error("Worker panic recovered",
				zap.Int("worker_id", id),
				zap.String("repo_id", job.ID()),
				zap.Any("panic", r),
			)
			out = p.panicked(ctx, job, r)
			out.Duration = time.Since(start)
		}
	}()
	return p.session.Execute(ctx, job)
}

func (p *WorkerPool) panicked(ctx context.Context, job *domain.RepositoryJob, r any) domain.Outcome {
	err := fmt.Errorf("%w: %v", ErrWorkerPanic, r)
	out := domain.Outcome{Job: job, Err: err}
	if p.handler != nil {
		entry := p.handler.Handle(ctx, stuck.Incident{Job: job, Err: err, Phase: PhasePanic})
		out.Entry = &entry
	} else {
		job.Status = domain.JobError
		job.Phase = PhasePanic
		job.Reason = err.Error()
	}
	out.Status = job.Status
	return out
}

// record writes the ledger, statistics and outcome event for one job.
func (p *WorkerPool) record(ctx context.Context, out domain.Outcome) {
	id := out.Job.ID()
	log := p.logger.With(zap.String("repo_id", id))

	if !out.Recorded && !out.Interrupted && out.Status.IsTerminal() {
		if err := p.rc.Ledger.MarkTerminal(id, out.Status); err != nil {
			log.Error("Failed to record outcome in ledger", zap.Error(err))
		}
	}

	label := string(out.Status)
	if out.Interrupted {
		label = "interrupted"
	}
	metrics.JobsTotal.WithLabelValues(label).Inc()
	metrics.JobDuration.WithLabelValues(label).Observe(out.Duration.Seconds())

	p.mu.Lock()
	p.stats.Add(out)
	p.mu.Unlock()

	if p.publisher != nil && !out.Interrupted {
		ev := domain.NewOutcomeEvent(p.runID, out, time.Now())
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PublishTimeout)
		if err := p.publisher.Publish(pubCtx, ev); err != nil {
			log.Warn("Failed to publish outcome", zap.Error(err))
		}
		cancel()
	}

	failed := out.Status == domain.JobTimedOut || out.Status == domain.JobError
	if failed && !out.Interrupted && !p.rc.Config.Orchestrator.ContinueOnTimeout {
		p.stopOnce.Do(func() {
			p.mu.Lock()
			p.failed = id
			p.mu.Unlock()
			log.Warn("Stopping run after failed job", zap.String("status", string(out.Status)))
			close(p.stop)
			p.cancel()
		})
	}
}
