package mock

import (
	"context"
	"sync"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/repository"
)

// ---- Lister mock ----

var _ repository.Lister = (*Lister)(nil)

// Lister is a test double for repository.Lister.
type Lister struct {
	Repos  []domain.Repository
	ListFn func(ctx context.Context) ([]domain.Repository, error)
}

func (m *Lister) List(ctx context.Context) ([]domain.Repository, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx)
	}
	return m.Repos, nil
}

// ---- ReportSink mock ----

var _ repository.ReportSink = (*ReportSink)(nil)

// ReportSink is a test double for repository.ReportSink.
type ReportSink struct {
	mu sync.Mutex

	SaveReportFn func(ctx context.Context, job *domain.RepositoryJob) error

	// Recorded calls for assertions.
	Saved []string
}

func (m *ReportSink) SaveReport(ctx context.Context, job *domain.RepositoryJob) error {
	m.mu.Lock()
	m.Saved = append(m.Saved, job.ID())
	m.mu.Unlock()
	if m.SaveReportFn != nil {
		return m.SaveReportFn(ctx, job)
	}
	return nil
}

// SavedIDs returns a copy of the recorded repository ids.
func (m *ReportSink) SavedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Saved...)
}

// ---- ClaimStore mock ----

var _ repository.ClaimStore = (*ClaimStore)(nil)

// ClaimStore is a test double for repository.ClaimStore.
type ClaimStore struct {
	mu sync.Mutex

	ClaimFn   func(ctx context.Context, repoID string) (bool, error)
	ReleaseFn func(ctx context.Context, repoID string) error

	ClaimCalls   []string
	ReleaseCalls []string
}

func (m *ClaimStore) Claim(ctx context.Context, repoID string) (bool, error) {
	m.mu.Lock()
	m.ClaimCalls = append(m.ClaimCalls, repoID)
	m.mu.Unlock()
	if m.ClaimFn != nil {
		return m.ClaimFn(ctx, repoID)
	}
	return true, nil // default: claim taken
}

func (m *ClaimStore) Release(ctx context.Context, repoID string) error {
	m.mu.Lock()
	m.ReleaseCalls = append(m.ReleaseCalls, repoID)
	m.mu.Unlock()
	if m.ReleaseFn != nil {
		return m.ReleaseFn(ctx, repoID)
	}
	return nil
}

// ---- EventPublisher mock ----

var _ repository.EventPublisher = (*EventPublisher)(nil)

// EventPublisher is a test double for repository.EventPublisher.
type EventPublisher struct {
	mu sync.Mutex

	PublishFn func(ctx context.Context, event domain.OutcomeEvent) error

	Events []domain.OutcomeEvent
}

func (m *EventPublisher) Publish(ctx context.Context, event domain.OutcomeEvent) error {
	m.mu.Lock()
	m.Events = append(m.Events, event)
	m.mu.Unlock()
	if m.PublishFn != nil {
		return m.PublishFn(ctx, event)
	}
	return nil
}

// Published returns a copy of the recorded events.
func (m *EventPublisher) Published() []domain.OutcomeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OutcomeEvent(nil), m.Events...)
}
