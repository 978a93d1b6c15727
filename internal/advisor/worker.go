package advisor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
)

// Diagnoser is implemented by Advisor.
type Diagnoser interface {
	Diagnose(ctx context.Context, e domain.StuckJobEntry) Diagnosis
}

// Worker diagnoses entries off the scanning path. Submit never blocks a
// scan worker; entries beyond the queue capacity are dropped.
type Worker struct {
	advisor Diagnoser
	logger  *zap.Logger
	queue   chan domain.StuckJobEntry

	mu      sync.Mutex
	closed  bool
	results []Diagnosis
}

func NewWorker(advisor Diagnoser, capacity int, logger *zap.Logger) *Worker {
	if capacity <= 0 {
		capacity = 64
	}
	return &Worker{
		advisor: advisor,
		logger:  logger,
		queue:   make(chan domain.StuckJobEntry, capacity),
	}
}

// Submit queues e when it is eligible. It is safe to use as
// stuck.Handler.OnEntry.
func (w *Worker) Submit(e domain.StuckJobEntry) {
	if !Eligible(e) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- e:
	default:
		w.logger.Warn("Diagnosis queue full, dropping entry", zap.String("repo_id", e.RepoID))
	}
}

// Close stops accepting entries; Run returns once the queue is drained.
func (w *Worker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
}

// Run processes entries until Close has been called and the queue is empty,
// or ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-w.queue:
			if !ok {
				return nil
			}
			d := w.advisor.Diagnose(ctx, e)
			w.mu.Lock()
			w.results = append(w.results, d)
			w.mu.Unlock()
		}
	}
}

// Results returns the diagnoses made so far.
func (w *Worker) Results() []Diagnosis {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Diagnosis(nil), w.results...)
}
