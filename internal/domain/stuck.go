package domain

import (
	"time"

	"github.com/google/uuid"
)

// Phase used when the per-repository deadline elapses.
const PhaseRepoTimeout = "repo-timeout"

// PhaseSetup is used for failures before the first scanner step.
const PhaseSetup = "setup"

// StuckJobEntry is one diagnostic record for a job that did not succeed.
type StuckJobEntry struct {
	ID         uuid.UUID `json:"id"`
	RepoID     string    `json:"repo_id"`
	Phase      string    `json:"phase"`
	Reason     string    `json:"reason"`
	Status     JobStatus `json:"status"`
	At         time.Time `json:"at"`
	LogExcerpt string    `json:"log_excerpt,omitempty"`
	Attempts   int       `json:"attempts"`
	RiskFlags  []string  `json:"risk_flags,omitempty"`
	Profile    *Profile  `json:"profile,omitempty"`
}
