package domain

import "time"

// Outcome is what a session reports back to the pool for one job.
type Outcome struct {
	Job      *RepositoryJob
	Status   JobStatus
	Err      error
	Duration time.Duration

	// Recorded is true when the ledger already holds a terminal status and
	// must not be rewritten.
	Recorded bool

	// Interrupted is true when the job was abandoned because of shutdown.
	Interrupted bool

	Entry *StuckJobEntry
}

// Stats are the aggregate counts of a run.
type Stats struct {
	Completed   int `json:"completed"`
	TimedOut    int `json:"timed_out"`
	Errored     int `json:"error"`
	Skipped     int `json:"skipped"`
	Interrupted int `json:"interrupted"`
	// NotStarted counts jobs never dispatched because the run stopped early.
	NotStarted  int `json:"not_started"`
}

// Add folds one outcome into the counters.
func (s *Stats) Add(o Outcome) {
	if o.Interrupted {
		s.Interrupted++
		return
	}
	switch o.Status {
	case JobCompleted:
		s.Completed++
	case JobTimedOut:
		s.TimedOut++
	case JobError:
		s.Errored++
	case JobSkipped:
		s.Skipped++
	}
}

// Total returns the number of jobs accounted for.
func (s Stats) Total() int {
	return s.Completed + s.TimedOut + s.Errored + s.Skipped + s.Interrupted + s.NotStarted
}

// OutcomeEvent is the wire form of an Outcome.
type OutcomeEvent struct {
	RunID      string    `json:"run_id"`
	RepoID     string    `json:"repo_id"`
	Status     JobStatus `json:"status"`
	Phase      string    `json:"phase,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Attempts   int       `json:"attempts"`
	DurationMs int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// NewOutcomeEvent converts o for publishing.
func NewOutcomeEvent(runID string, o Outcome, at time.Time) OutcomeEvent {
	ev := OutcomeEvent{
		RunID:      runID,
		Status:     o.Status,
		DurationMs: o.Duration.Milliseconds(),
		At:         at.UTC(),
	}
	if o.Job != nil {
		ev.RepoID = o.Job.ID()
		ev.Phase = o.Job.Phase
		ev.Reason = o.Job.Reason
		ev.Attempts = o.Job.Attempts
	}
	return ev
}
