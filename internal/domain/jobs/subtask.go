package jobs

import (
	"encoding/json"
	"time"

	"github.com/ahrav/conductor/pkg/common/uuid"
)

// SubTask is the unit of work sent to exactly one provider on behalf of a job.
// It is owned by its Job and only mutated through it.
type SubTask struct {
	id            uuid.UUID
	jobID         uuid.UUID
	providerID    string
	taskType      string
	status        SubTaskStatus
	resultPayload json.RawMessage
	errorMessage  string
	failureReason FailureReason
	retryCount    int
	createdAt     time.Time
	updatedAt     time.Time
	dispatchedAt  time.Time
	completedAt   time.Time
}

func newSubTask(jobID uuid.UUID, providerID, taskType string, now time.Time) *SubTask {
	return &SubTask{
		id:         uuid.New(),
		jobID:      jobID,
		providerID: providerID,
		taskType:   taskType,
		status:     SubTaskStatusPending,
		createdAt:  now,
		updatedAt:  now,
	}
}

// SubTaskSnapshot carries every persisted field of a SubTask. Repositories use
// it to rebuild sub-tasks without going through the lifecycle rules.
type SubTaskSnapshot struct {
	ID            uuid.UUID
	JobID         uuid.UUID
	ProviderID    string
	TaskType      string
	Status        SubTaskStatus
	ResultPayload json.RawMessage
	ErrorMessage  string
	FailureReason FailureReason
	RetryCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DispatchedAt  time.Time
	CompletedAt   time.Time
}

// ReconstructSubTask creates a SubTask from stored fields.
// This should only be used by repositories when loading from the DB.
func ReconstructSubTask(s SubTaskSnapshot) *SubTask {
	return &SubTask{
		id:            s.ID,
		jobID:         s.JobID,
		providerID:    s.ProviderID,
		taskType:      s.TaskType,
		status:        s.Status,
		resultPayload: s.ResultPayload,
		errorMessage:  s.ErrorMessage,
		failureReason: s.FailureReason,
		retryCount:    s.RetryCount,
		createdAt:     s.CreatedAt,
		updatedAt:     s.UpdatedAt,
		dispatchedAt:  s.DispatchedAt,
		completedAt:   s.CompletedAt,
	}
}

// Snapshot returns a copy of the persisted fields.
func (s *SubTask) Snapshot() SubTaskSnapshot {
	return SubTaskSnapshot{
		ID:            s.id,
		JobID:         s.jobID,
		ProviderID:    s.providerID,
		TaskType:      s.taskType,
		Status:        s.status,
		ResultPayload: s.resultPayload,
		ErrorMessage:  s.errorMessage,
		FailureReason: s.failureReason,
		RetryCount:    s.retryCount,
		CreatedAt:     s.createdAt,
		UpdatedAt:     s.updatedAt,
		DispatchedAt:  s.dispatchedAt,
		CompletedAt:   s.completedAt,
	}
}

func (s *SubTask) ID() uuid.UUID                  { return s.id }
func (s *SubTask) JobID() uuid.UUID               { return s.jobID }
func (s *SubTask) ProviderID() string             { return s.providerID }
func (s *SubTask) TaskType() string               { return s.taskType }
func (s *SubTask) Status() SubTaskStatus          { return s.status }
func (s *SubTask) ResultPayload() json.RawMessage { return s.resultPayload }
func (s *SubTask) ErrorMessage() string           { return s.errorMessage }
func (s *SubTask) FailureReason() FailureReason   { return s.failureReason }
func (s *SubTask) CreatedAt() time.Time           { return s.createdAt }
func (s *SubTask) UpdatedAt() time.Time           { return s.updatedAt }
func (s *SubTask) DispatchedAt() time.Time        { return s.dispatchedAt }

// RetryCount returns how many times the retry scheduler reset this sub-task.
// It doubles as the attempt number carried in work requests.
func (s *SubTask) RetryCount() int { return s.retryCount }

// CompletedAt returns when the sub-task settled. It is set iff the status is
// terminal.
func (s *SubTask) CompletedAt() (time.Time, bool) {
	return s.completedAt, s.status.IsTerminal()
}

// DeadlineFrom returns the instant the sub-task deadline is measured from: the
// last dispatch or retry reset, or creation if it was never sent.
func (s *SubTask) DeadlineFrom() time.Time {
	if !s.dispatchedAt.IsZero() {
		return s.dispatchedAt
	}
	return s.createdAt
}

func (s *SubTask) markDispatched(now time.Time) {
	s.dispatchedAt = now
	s.updatedAt = now
}

func (s *SubTask) start(now time.Time) error {
	if err := s.status.validateTransition(SubTaskStatusInProgress); err != nil {
		return err
	}
	s.status = SubTaskStatusInProgress
	s.updatedAt = now
	return nil
}

func (s *SubTask) complete(result json.RawMessage, now time.Time) error {
	if err := s.settle(SubTaskStatusCompleted, now); err != nil {
		return err
	}
	s.resultPayload = result
	return nil
}

func (s *SubTask) fail(status SubTaskStatus, reason FailureReason, msg string, now time.Time) error {
	if err := s.settle(status, now); err != nil {
		return err
	}
	s.failureReason = reason
	s.errorMessage = msg
	if msg == "" {
		s.errorMessage = reason.Description()
	}
	return nil
}

func (s *SubTask) settle(status SubTaskStatus, now time.Time) error {
	if err := s.status.validateTransition(status); err != nil {
		return err
	}
	s.status = status
	s.updatedAt = now
	s.completedAt = now
	return nil
}

// reset returns a failed sub-task to PENDING for another attempt.
func (s *SubTask) reset(now time.Time) {
	s.status = SubTaskStatusPending
	s.retryCount++
	s.resultPayload = nil
	s.errorMessage = ""
	s.failureReason = ReasonNone
	s.completedAt = time.Time{}
	s.dispatchedAt = now
	s.updatedAt = now
}
