package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ahrav/conductor/pkg/common/uuid"
)

// Callback is a worker's asynchronous report on one sub-task. The JSON form is
// the wire format accepted on every callback transport.
type Callback struct {
	JobID         uuid.UUID       `json:"jobId"`
	SubTaskID     uuid.UUID       `json:"subTaskId"`
	ProviderID    string          `json:"providerId"`
	Status        SubTaskStatus   `json:"status"`
	ResultPayload json.RawMessage `json:"resultPayload,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	// Items are intermediate findings streamed to subscribers as evidence.
	Items []json.RawMessage `json:"items,omitempty"`
	// Attempt echoes the attempt number of the work request. Nil means the
	// worker did not report one and the current attempt is assumed.
	Attempt *int   `json:"attempt,omitempty"`
	Token   string `json:"callbackToken,omitempty"`
}

// CallbackOutcome describes what accepting a callback did.
type CallbackOutcome int

const (
	// CallbackApplied means the callback moved the sub-task to a new status.
	CallbackApplied CallbackOutcome = iota + 1

	// CallbackProgress means the sub-task was already running and the
	// callback only carried progress.
	CallbackProgress

	// CallbackDuplicate means the sub-task had already settled.
	CallbackDuplicate

	// CallbackStale means the callback belongs to an earlier attempt.
	CallbackStale
)

func (o CallbackOutcome) String() string {
	switch o {
	case CallbackApplied:
		return "applied"
	case CallbackProgress:
		return "progress"
	case CallbackDuplicate:
		return "duplicate"
	case CallbackStale:
		return "stale"
	default:
		return "unknown"
	}
}

// ApplyCallback validates and applies a worker callback:
//  1. the token must match, else ErrInvalidCallbackToken
//  2. the sub-task must exist and belong to the reporting provider, else
//     ErrSubTaskNotFound
//  3. a settled sub-task, or a report from an earlier attempt, is accepted
//     without change
//  4. the transition is applied and the job re-aggregated
//
// No state changes when an error is returned.
func (j *Job) ApplyCallback(cb Callback, now time.Time) (CallbackOutcome, error) {
	if !j.VerifyToken(cb.Token) {
		return 0, ErrInvalidCallbackToken
	}

	st, ok := j.SubTask(cb.SubTaskID)
	if !ok || st.providerID != cb.ProviderID {
		return 0, ErrSubTaskNotFound
	}

	switch cb.Status {
	case SubTaskStatusInProgress, SubTaskStatusCompleted, SubTaskStatusFailed, SubTaskStatusTimeout:
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidCallbackStatus, cb.Status)
	}

	if st.status.IsTerminal() {
		return CallbackDuplicate, nil
	}
	if cb.Attempt != nil && *cb.Attempt != st.retryCount {
		return CallbackStale, nil
	}

	var err error
	switch cb.Status {
	case SubTaskStatusInProgress:
		if st.status == SubTaskStatusInProgress {
			st.updatedAt = now
			j.updatedAt = now
			return CallbackProgress, nil
		}
		err = st.start(now)
	case SubTaskStatusCompleted:
		err = st.complete(cb.ResultPayload, now)
	case SubTaskStatusFailed:
		err = st.fail(SubTaskStatusFailed, ClassifyMessage(cb.ErrorMessage), cb.ErrorMessage, now)
	case SubTaskStatusTimeout:
		reason := ClassifyMessage(cb.ErrorMessage)
		if !reason.IsTimeout() {
			reason = ReasonTimeoutWorker
		}
		err = st.fail(SubTaskStatusTimeout, reason, cb.ErrorMessage, now)
	}
	if err != nil {
		return 0, err
	}

	j.updatedAt = now
	j.Reconcile(now)
	return CallbackApplied, nil
}
