// Package memory provides an in-memory JobRepository for tests and single
// instance deployments where durability is not required.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/uuid"
)

var _ domain.JobRepository = (*JobStore)(nil)

// JobStore keeps job snapshots in a map. Jobs handed out are copies, so
// callers never share state with the store.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]domain.JobSnapshot
}

// NewJobStore creates an empty store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[uuid.UUID]domain.JobSnapshot)}
}

// CreateJob stores a new job at version 1.
func (s *JobStore) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID()]; exists {
		return fmt.Errorf("job %s already exists", job.ID())
	}
	job.SetVersion(1)
	s.jobs[job.ID()] = job.Snapshot()
	return nil
}

// GetJob returns a copy of the stored job.
func (s *JobStore) GetJob(_ context.Context, jobID uuid.UUID) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return domain.ReconstructJob(snap).Clone(), nil
}

// UpdateJob replaces the stored job when its version matches.
func (s *JobStore) UpdateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.ID()]
	if !ok {
		return domain.ErrJobNotFound
	}
	if stored.Version != job.Version() {
		return domain.ErrConcurrentUpdate
	}

	job.SetVersion(job.Version() + 1)
	s.jobs[job.ID()] = job.Snapshot()
	return nil
}

// FindExpiredJobs returns open jobs whose current attempt started before
// cutoff, oldest first.
func (s *JobStore) FindExpiredJobs(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []domain.JobSnapshot
	for _, snap := range s.jobs {
		if !snap.Status.IsTerminal() && snap.StartedAt.Before(cutoff) {
			expired = append(expired, snap)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].StartedAt.Before(expired[j].StartedAt) })

	ids := make([]uuid.UUID, 0, len(expired))
	for _, snap := range expired {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, snap.ID)
	}
	return ids, nil
}

// FindExpiredSubTasks returns open sub-tasks of open jobs whose deadline
// reference is before cutoff, oldest first.
func (s *JobStore) FindExpiredSubTasks(_ context.Context, cutoff time.Time, limit int) ([]domain.SubTaskRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type candidate struct {
		ref  domain.SubTaskRef
		from time.Time
	}
	var expired []candidate
	for _, snap := range s.jobs {
		if snap.Status.IsTerminal() {
			continue
		}
		for _, st := range snap.SubTasks {
			if st.Status.IsTerminal() {
				continue
			}
			from := domain.ReconstructSubTask(st).DeadlineFrom()
			if from.Before(cutoff) {
				expired = append(expired, candidate{
					ref:  domain.SubTaskRef{JobID: snap.ID, SubTaskID: st.ID},
					from: from,
				})
			}
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].from.Before(expired[j].from) })

	refs := make([]domain.SubTaskRef, 0, len(expired))
	for _, c := range expired {
		if limit > 0 && len(refs) == limit {
			break
		}
		refs = append(refs, c.ref)
	}
	return refs, nil
}

// DeleteJobsCompletedBefore drops terminal jobs that settled before cutoff.
func (s *JobStore) DeleteJobsCompletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, snap := range s.jobs {
		if snap.Status.IsTerminal() && snap.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

// Ping always succeeds.
func (s *JobStore) Ping(context.Context) error { return nil }
