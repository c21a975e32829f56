package jobs

import "fmt"

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job was accepted but no work request has
	// been delivered yet.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusInProgress indicates at least one sub-task was dispatched and
	// the job has not settled.
	JobStatusInProgress JobStatus = "IN_PROGRESS"

	// JobStatusCompleted indicates every sub-task completed.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusPartialSuccess indicates a mix of completed and failed
	// sub-tasks.
	JobStatusPartialSuccess JobStatus = "PARTIAL_SUCCESS"

	// JobStatusFailed indicates no sub-task completed.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusCancelled indicates the job was cancelled by a client.
	JobStatusCancelled JobStatus = "CANCELLED"

	// JobStatusTimeout indicates the job exceeded its overall deadline.
	JobStatusTimeout JobStatus = "TIMEOUT"
)

func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether the job has settled.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartialSuccess, JobStatusFailed, JobStatusCancelled, JobStatusTimeout:
		return true
	default:
		return false
	}
}

// ParseJobStatus converts a string to a JobStatus. Unknown values yield "".
func ParseJobStatus(s string) JobStatus {
	switch st := JobStatus(s); st {
	case JobStatusPending, JobStatusInProgress, JobStatusCompleted, JobStatusPartialSuccess,
		JobStatusFailed, JobStatusCancelled, JobStatusTimeout:
		return st
	default:
		return ""
	}
}

// validateTransition checks if a status transition is valid and returns an
// error if not. Leaving a terminal state is only possible through Job.Retry.
func (s JobStatus) validateTransition(target JobStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("%w: job %s to %s", ErrInvalidTransition, s, target)
	}
	return nil
}

func (s JobStatus) isValidTransition(target JobStatus) bool {
	switch s {
	case JobStatusPending:
		return target != JobStatusPending
	case JobStatusInProgress:
		return target.IsTerminal()
	default:
		return false
	}
}

// SubTaskStatus represents the lifecycle state of a sub-task. It mirrors
// JobStatus without PARTIAL_SUCCESS.
type SubTaskStatus string

const (
	// SubTaskStatusPending indicates the work request was created or sent but
	// the worker has not reported back.
	SubTaskStatusPending SubTaskStatus = "PENDING"

	// SubTaskStatusInProgress indicates the worker reported progress.
	SubTaskStatusInProgress SubTaskStatus = "IN_PROGRESS"

	// SubTaskStatusCompleted indicates the worker delivered a result.
	SubTaskStatusCompleted SubTaskStatus = "COMPLETED"

	// SubTaskStatusFailed indicates the worker, or its transport, failed.
	SubTaskStatusFailed SubTaskStatus = "FAILED"

	// SubTaskStatusCancelled indicates the parent job was cancelled or timed out
	// while this sub-task was open.
	SubTaskStatusCancelled SubTaskStatus = "CANCELLED"

	// SubTaskStatusTimeout indicates the worker never answered within the
	// sub-task deadline.
	SubTaskStatusTimeout SubTaskStatus = "TIMEOUT"
)

func (s SubTaskStatus) String() string { return string(s) }

// IsTerminal reports whether the sub-task has settled.
func (s SubTaskStatus) IsTerminal() bool {
	switch s {
	case SubTaskStatusCompleted, SubTaskStatusFailed, SubTaskStatusCancelled, SubTaskStatusTimeout:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the sub-task settled without a result. These are
// the statuses the retry scheduler resets.
func (s SubTaskStatus) IsFailure() bool {
	return s == SubTaskStatusFailed || s == SubTaskStatusCancelled || s == SubTaskStatusTimeout
}

// ParseSubTaskStatus converts a string to a SubTaskStatus. Unknown values
// yield "".
func ParseSubTaskStatus(s string) SubTaskStatus {
	switch st := SubTaskStatus(s); st {
	case SubTaskStatusPending, SubTaskStatusInProgress, SubTaskStatusCompleted,
		SubTaskStatusFailed, SubTaskStatusCancelled, SubTaskStatusTimeout:
		return st
	default:
		return ""
	}
}

func (s SubTaskStatus) validateTransition(target SubTaskStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("%w: sub-task %s to %s", ErrInvalidTransition, s, target)
	}
	return nil
}

func (s SubTaskStatus) isValidTransition(target SubTaskStatus) bool {
	switch s {
	case SubTaskStatusPending:
		return target == SubTaskStatusInProgress || target.IsTerminal()
	case SubTaskStatusInProgress:
		return target.IsTerminal()
	default:
		return false
	}
}
