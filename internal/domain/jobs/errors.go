package jobs

import "errors"

var (
	// ErrJobNotFound is returned when no job exists for an id.
	ErrJobNotFound = errors.New("job not found")

	// ErrSubTaskNotFound is returned when a sub-task id does not belong to the
	// job, or the reporting provider does not own it.
	ErrSubTaskNotFound = errors.New("sub-task not found")

	// ErrInvalidCallbackToken is returned when a callback presents the wrong
	// token for its job.
	ErrInvalidCallbackToken = errors.New("invalid callback token")

	// ErrInvalidCallbackStatus is returned when a callback reports a status a
	// worker may not set.
	ErrInvalidCallbackStatus = errors.New("invalid callback status")

	// ErrInvalidTransition is returned when a status change violates the
	// lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrRetryNotAllowed is returned when retry is requested on a job that is
	// running, completed or cancelled.
	ErrRetryNotAllowed = errors.New("retry not allowed in current job status")

	// ErrRetryLimitExceeded is returned when the job, or every failed sub-task,
	// has used up its retries.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")

	// ErrCancelNotAllowed is returned when cancel is requested on a job that
	// already settled in a state other than CANCELLED.
	ErrCancelNotAllowed = errors.New("cancel not allowed in current job status")

	// ErrConcurrentUpdate is returned by a repository when the stored version
	// differs from the one the caller loaded.
	ErrConcurrentUpdate = errors.New("job was modified concurrently")

	// ErrUnknownProvider is returned when a request names a provider that is
	// not in the registry.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNoProviders is returned when no provider serves the requested kind.
	ErrNoProviders = errors.New("no providers available for job kind")
)
