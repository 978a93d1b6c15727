package repository

import (
	"context"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
)

// Lister enumerates the repositories to scan.
type Lister interface {
	List(ctx context.Context) ([]domain.Repository, error)
}

// ReportSink hands a finished job to the findings persistence layer.
type ReportSink interface {
	// SaveReport stores the job and its step results. It is called once per
	// job after the job is terminal.
	SaveReport(ctx context.Context, job *domain.RepositoryJob) error
}

// ClaimStore defines the interface for cross-process repository claims, so
// that two orchestrators sharing a repository list never scan the same
// repository at the same time.
type ClaimStore interface {
	// Claim attempts to take the claim for a repository.
	// Returns true if the claim was taken, false if another owner holds it.
	Claim(ctx context.Context, repoID string) (bool, error)

	// Release drops the claim if this owner still holds it.
	Release(ctx context.Context, repoID string) error
}

// EventPublisher emits job outcome events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.OutcomeEvent) error
}
