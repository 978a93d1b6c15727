package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStalledProgress is returned when a step showed no activity for max-idle-time.
	ErrStalledProgress = errors.New("stalled: no progress")

	// ErrHardDeadlineExceeded is returned when a step reached its ceiling regardless of activity.
	ErrHardDeadlineExceeded = errors.New("hard deadline exceeded")

	// ErrRepoDeadlineExceeded is returned when the per-repository deadline elapsed.
	// It wraps ErrHardDeadlineExceeded.
	ErrRepoDeadlineExceeded = fmt.Errorf("repository deadline exceeded: %w", ErrHardDeadlineExceeded)

	// ErrSubprocessCrash is returned when a scanner exits non-zero for reasons other than a timeout.
	ErrSubprocessCrash = errors.New("scanner exited with error")

	// ErrSetupFailure is returned when the working directory could not be prepared.
	ErrSetupFailure = errors.New("job setup failed")

	// ErrLedgerCorruption is reported when the resume ledger cannot be decoded.
	ErrLedgerCorruption = errors.New("resume ledger corrupt")

	// ErrShutdownRequested is returned for work interrupted by cooperative cancellation.
	ErrShutdownRequested = errors.New("shutdown requested")

	// ErrClaimedElsewhere is returned when another orchestrator holds the repository claim.
	ErrClaimedElsewhere = errors.New("repository claimed by another orchestrator")
)

// IsTimeout reports whether err classifies a job as timed_out.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrStalledProgress) ||
		errors.Is(err, ErrHardDeadlineExceeded) ||
		errors.Is(err, ErrRepoDeadlineExceeded)
}
