// Package jobs holds the job and sub-task aggregates, their lifecycle rules,
// status aggregation, the failure taxonomy and the provider registry.
package jobs

import (
	"context"
	"time"

	"github.com/ahrav/conductor/pkg/common/uuid"
)

// SubTaskRef identifies a sub-task together with its job.
type SubTaskRef struct {
	JobID     uuid.UUID
	SubTaskID uuid.UUID
}

// JobRepository persists jobs together with their sub-tasks. A job is always
// loaded and saved as a whole.
type JobRepository interface {
	// CreateJob stores a new job and its sub-tasks.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob loads a job, or returns ErrJobNotFound.
	GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error)

	// UpdateJob saves the job and its sub-tasks if the stored version still
	// equals job.Version(), then bumps the version. Otherwise it returns
	// ErrConcurrentUpdate and stores nothing.
	UpdateJob(ctx context.Context, job *Job) error

	// FindExpiredJobs returns open jobs whose current attempt started before
	// cutoff.
	FindExpiredJobs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)

	// FindExpiredSubTasks returns open sub-tasks of open jobs whose deadline
	// reference (last dispatch or retry reset, else creation) is before cutoff.
	FindExpiredSubTasks(ctx context.Context, cutoff time.Time, limit int) ([]SubTaskRef, error)

	// DeleteJobsCompletedBefore removes terminal jobs that settled before
	// cutoff, with their sub-tasks, and returns how many jobs were removed.
	DeleteJobsCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// WorkSender delivers a work request to a provider over its transport.
type WorkSender interface {
	Send(ctx context.Context, provider Provider, req WorkRequest) error
}
