package jobs

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ahrav/conductor/pkg/common/uuid"
)

// Job is the aggregate root for one unit of client-requested work. It owns
// its sub-tasks and is the only place their lifecycle rules are enforced.
// A Job is not safe for concurrent use; callers serialize mutations per id.
type Job struct {
	id            uuid.UUID
	kind          string
	input         json.RawMessage
	status        JobStatus
	callbackToken string
	subTasks      []*SubTask

	errorMessage  string
	failureReason FailureReason
	retryCount    int
	version       int64

	createdAt   time.Time
	updatedAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// NewJob creates a PENDING job. The callback token is shared by every
// sub-task of the job and must be presented by workers on each callback.
func NewJob(kind string, input json.RawMessage, callbackToken string, now time.Time) *Job {
	return &Job{
		id:            uuid.New(),
		kind:          kind,
		input:         input,
		status:        JobStatusPending,
		callbackToken: callbackToken,
		createdAt:     now,
		updatedAt:     now,
		startedAt:     now,
	}
}

// JobSnapshot carries every persisted field of a Job and its sub-tasks.
type JobSnapshot struct {
	ID            uuid.UUID
	Kind          string
	Input         json.RawMessage
	Status        JobStatus
	CallbackToken string
	ErrorMessage  string
	FailureReason FailureReason
	RetryCount    int
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     time.Time
	CompletedAt   time.Time
	SubTasks      []SubTaskSnapshot
}

// ReconstructJob creates a Job from stored fields, bypassing creation
// invariants. Sub-tasks must be in creation order.
// This should only be used by repositories when loading from the DB.
func ReconstructJob(s JobSnapshot) *Job {
	j := &Job{
		id:            s.ID,
		kind:          s.Kind,
		input:         s.Input,
		status:        s.Status,
		callbackToken: s.CallbackToken,
		errorMessage:  s.ErrorMessage,
		failureReason: s.FailureReason,
		retryCount:    s.RetryCount,
		version:       s.Version,
		createdAt:     s.CreatedAt,
		updatedAt:     s.UpdatedAt,
		startedAt:     s.StartedAt,
		completedAt:   s.CompletedAt,
		subTasks:      make([]*SubTask, 0, len(s.SubTasks)),
	}
	for _, st := range s.SubTasks {
		j.subTasks = append(j.subTasks, ReconstructSubTask(st))
	}
	return j
}

// Snapshot returns a deep copy of the persisted fields.
func (j *Job) Snapshot() JobSnapshot {
	s := JobSnapshot{
		ID:            j.id,
		Kind:          j.kind,
		Input:         j.input,
		Status:        j.status,
		CallbackToken: j.callbackToken,
		ErrorMessage:  j.errorMessage,
		FailureReason: j.failureReason,
		RetryCount:    j.retryCount,
		Version:       j.version,
		CreatedAt:     j.createdAt,
		UpdatedAt:     j.updatedAt,
		StartedAt:     j.startedAt,
		CompletedAt:   j.completedAt,
		SubTasks:      make([]SubTaskSnapshot, 0, len(j.subTasks)),
	}
	for _, st := range j.subTasks {
		s.SubTasks = append(s.SubTasks, st.Snapshot())
	}
	return s
}

// Clone returns an independent copy of the job.
func (j *Job) Clone() *Job { return ReconstructJob(j.Snapshot()) }

func (j *Job) ID() uuid.UUID                { return j.id }
func (j *Job) Kind() string                 { return j.kind }
func (j *Job) Input() json.RawMessage       { return j.input }
func (j *Job) Status() JobStatus            { return j.status }
func (j *Job) ErrorMessage() string         { return j.errorMessage }
func (j *Job) FailureReason() FailureReason { return j.failureReason }
func (j *Job) RetryCount() int              { return j.retryCount }
func (j *Job) CreatedAt() time.Time         { return j.createdAt }
func (j *Job) UpdatedAt() time.Time         { return j.updatedAt }

// CallbackToken returns the secret workers must echo back.
func (j *Job) CallbackToken() string { return j.callbackToken }

// StartedAt returns the start of the current attempt. The job deadline is
// measured from it, and it moves forward on retry.
func (j *Job) StartedAt() time.Time { return j.startedAt }

// CompletedAt returns when the job settled. It is set iff the status is
// terminal.
func (j *Job) CompletedAt() (time.Time, bool) { return j.completedAt, j.status.IsTerminal() }

// Version returns the optimistic concurrency version of the stored row.
func (j *Job) Version() int64 { return j.version }

// SetVersion records the version written by a repository.
// This should only be used by repositories.
func (j *Job) SetVersion(v int64) { j.version = v }

// SubTasks returns the job's sub-tasks in creation order.
func (j *Job) SubTasks() []*SubTask {
	out := make([]*SubTask, len(j.subTasks))
	copy(out, j.subTasks)
	return out
}

// SubTask returns the sub-task with the given id.
func (j *Job) SubTask(id uuid.UUID) (*SubTask, bool) {
	for _, st := range j.subTasks {
		if st.id == id {
			return st, true
		}
	}
	return nil, false
}

// VerifyToken reports whether token matches the job's callback token using a
// constant-time comparison.
func (j *Job) VerifyToken(token string) bool {
	if token == "" || j.callbackToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(j.callbackToken)) == 1
}

// AddSubTask creates a PENDING sub-task for providerID. Sub-tasks can only be
// added before the job has been dispatched.
func (j *Job) AddSubTask(providerID, taskType string, now time.Time) (*SubTask, error) {
	if j.status != JobStatusPending {
		return nil, fmt.Errorf("%w: cannot add sub-task to %s job", ErrInvalidTransition, j.status)
	}

	st := newSubTask(j.id, providerID, taskType, now)
	j.subTasks = append(j.subTasks, st)
	j.updatedAt = now
	return st, nil
}

// MarkDispatched records that a work request for the sub-task was delivered.
func (j *Job) MarkDispatched(subTaskID uuid.UUID, now time.Time) error {
	st, ok := j.SubTask(subTaskID)
	if !ok {
		return ErrSubTaskNotFound
	}
	if st.status.IsTerminal() {
		return nil
	}

	st.markDispatched(now)
	j.updatedAt = now
	return nil
}

// FailDispatch marks the sub-task FAILED with service_unavailable because its
// work request could not be delivered. Siblings are unaffected.
func (j *Job) FailDispatch(subTaskID uuid.UUID, cause error, now time.Time) error {
	st, ok := j.SubTask(subTaskID)
	if !ok {
		return ErrSubTaskNotFound
	}
	if st.status.IsTerminal() {
		return nil
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := st.fail(SubTaskStatusFailed, ReasonServiceUnavailable, msg, now); err != nil {
		return err
	}
	j.updatedAt = now
	return nil
}

// MarkInProgress moves a PENDING job to IN_PROGRESS. It reports whether the
// status changed, so only the first successful dispatch takes effect.
func (j *Job) MarkInProgress(now time.Time) bool {
	if j.status != JobStatusPending {
		return false
	}

	j.status = JobStatusInProgress
	j.updatedAt = now
	return true
}

// Reconcile re-derives the job status from its sub-tasks and settles the job
// when they all have. It reports whether the status changed. A PENDING job
// whose sub-tasks are still open stays PENDING until MarkInProgress.
func (j *Job) Reconcile(now time.Time) bool {
	if j.status.IsTerminal() {
		return false
	}

	statuses := make([]SubTaskStatus, 0, len(j.subTasks))
	for _, st := range j.subTasks {
		statuses = append(statuses, st.status)
	}

	target := Aggregate(statuses)
	if !target.IsTerminal() {
		return false
	}

	j.settle(target, now)
	if target == JobStatusFailed {
		j.rollupFailure()
	}
	return true
}

// rollupFailure copies the reason of the first failed sub-task, in creation
// order, onto the job.
func (j *Job) rollupFailure() {
	for _, st := range j.subTasks {
		if st.status.IsFailure() {
			j.failureReason = st.failureReason
			j.errorMessage = st.errorMessage
			return
		}
	}
	j.failureReason = ReasonUnknown
	j.errorMessage = "job has no sub-tasks"
}

func (j *Job) settle(target JobStatus, now time.Time) {
	j.status = target
	j.updatedAt = now
	j.completedAt = now
}

// Cancel settles the job as CANCELLED and forces every open sub-task to
// CANCELLED. Cancelling a cancelled job is a no-op; cancelling a job that
// settled otherwise fails with ErrCancelNotAllowed.
func (j *Job) Cancel(now time.Time) (bool, error) {
	switch {
	case j.status == JobStatusCancelled:
		return false, nil
	case j.status.IsTerminal():
		return false, fmt.Errorf("%w: job is %s", ErrCancelNotAllowed, j.status)
	}

	j.closeOpenSubTasks(ReasonJobCancelled, now)
	j.settle(JobStatusCancelled, now)
	j.failureReason = ReasonJobCancelled
	j.errorMessage = ReasonJobCancelled.Description()
	return true, nil
}

// TimeOut settles an open job as TIMEOUT after its overall deadline and
// cancels its open sub-tasks. It reports whether the job changed.
func (j *Job) TimeOut(now time.Time) bool {
	if j.status.IsTerminal() {
		return false
	}

	j.closeOpenSubTasks(ReasonTimeoutJobDeadline, now)
	j.settle(JobStatusTimeout, now)
	j.failureReason = ReasonTimeoutJobDeadline
	j.errorMessage = ReasonTimeoutJobDeadline.Description()
	return true
}

func (j *Job) closeOpenSubTasks(reason FailureReason, now time.Time) {
	for _, st := range j.subTasks {
		if !st.status.IsTerminal() {
			// An open sub-task can always move to a terminal state.
			_ = st.fail(SubTaskStatusCancelled, reason, "", now)
		}
	}
}

// TimeOutSubTask marks one open sub-task TIMEOUT after its deadline and
// re-aggregates the job. It reports whether the sub-task changed.
func (j *Job) TimeOutSubTask(subTaskID uuid.UUID, now time.Time) (bool, error) {
	st, ok := j.SubTask(subTaskID)
	if !ok {
		return false, ErrSubTaskNotFound
	}
	if st.status.IsTerminal() {
		return false, nil
	}

	if err := st.fail(SubTaskStatusTimeout, ReasonTimeoutSubTaskDeadline, "", now); err != nil {
		return false, err
	}
	j.updatedAt = now
	j.Reconcile(now)
	return true, nil
}

// RetryPolicy bounds how often a job and each of its sub-tasks may be retried.
// Zero disables the corresponding bound.
type RetryPolicy struct {
	MaxJobRetries     int
	MaxSubTaskRetries int
}

// Retry resets every failed sub-task still under its retry bound to PENDING
// and returns the job to IN_PROGRESS. Completed sub-tasks are untouched. It
// returns the reset sub-tasks, which the caller must dispatch again.
func (j *Job) Retry(policy RetryPolicy, now time.Time) ([]*SubTask, error) {
	switch j.status {
	case JobStatusFailed, JobStatusPartialSuccess, JobStatusTimeout:
	default:
		return nil, fmt.Errorf("%w: job is %s", ErrRetryNotAllowed, j.status)
	}

	if policy.MaxJobRetries > 0 && j.retryCount >= policy.MaxJobRetries {
		return nil, fmt.Errorf("%w: job retried %d times", ErrRetryLimitExceeded, j.retryCount)
	}

	var eligible []*SubTask
	for _, st := range j.subTasks {
		if !st.status.IsFailure() {
			continue
		}
		if policy.MaxSubTaskRetries > 0 && st.retryCount >= policy.MaxSubTaskRetries {
			continue
		}
		eligible = append(eligible, st)
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: no sub-task has retries left", ErrRetryLimitExceeded)
	}

	for _, st := range eligible {
		st.reset(now)
	}

	j.status = JobStatusInProgress
	j.retryCount++
	j.errorMessage = ""
	j.failureReason = ReasonNone
	j.completedAt = time.Time{}
	j.startedAt = now
	j.updatedAt = now
	return eligible, nil
}
