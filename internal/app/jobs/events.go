package jobs

import (
	"encoding/json"
	"time"

	"github.com/ahrav/conductor/internal/domain/events"
	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/uuid"
)

// statusPayload is the payload of a status event. SubTaskID is empty for
// job-level changes.
type statusPayload struct {
	SubTaskID     string `json:"subTaskId,omitempty"`
	ProviderID    string `json:"providerId,omitempty"`
	Status        string `json:"status"`
	FailureReason string `json:"failureReason,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
	RetryCount    int    `json:"retryCount,omitempty"`
}

type progressPayload struct {
	SubTaskID  string          `json:"subTaskId"`
	ProviderID string          `json:"providerId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type evidencePayload struct {
	SubTaskID  string          `json:"subTaskId"`
	ProviderID string          `json:"providerId"`
	Item       json.RawMessage `json:"item"`
}

type resultItemPayload struct {
	SubTaskID  string          `json:"subTaskId"`
	ProviderID string          `json:"providerId"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// finalPayload is the payload of the terminal complete and error events.
type finalPayload struct {
	Status        string    `json:"status"`
	FailureReason string    `json:"failureReason,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	CompletedAt   time.Time `json:"completedAt"`
}

// eventDraft is an event waiting for its job id and timestamp.
type eventDraft struct {
	typ     events.EventType
	payload any
}

func subTaskStatusDraft(st *domain.SubTask) eventDraft {
	return eventDraft{typ: events.EventStatus, payload: statusPayload{
		SubTaskID:     st.ID().String(),
		ProviderID:    st.ProviderID(),
		Status:        st.Status().String(),
		FailureReason: st.FailureReason().String(),
		ErrorMessage:  st.ErrorMessage(),
		RetryCount:    st.RetryCount(),
	}}
}

func jobStatusDraft(job *domain.Job) eventDraft {
	return eventDraft{typ: events.EventStatus, payload: statusPayload{
		Status:        job.Status().String(),
		FailureReason: job.FailureReason().String(),
		ErrorMessage:  job.ErrorMessage(),
		RetryCount:    job.RetryCount(),
	}}
}

// terminalEventType maps a settled job status to its terminal event type.
func terminalEventType(status domain.JobStatus) events.EventType {
	switch status {
	case domain.JobStatusFailed, domain.JobStatusTimeout:
		return events.EventError
	default:
		return events.EventComplete
	}
}

func terminalDraft(job *domain.Job) eventDraft {
	completedAt, _ := job.CompletedAt()
	return eventDraft{typ: terminalEventType(job.Status()), payload: finalPayload{
		Status:        job.Status().String(),
		FailureReason: job.FailureReason().String(),
		ErrorMessage:  job.ErrorMessage(),
		CompletedAt:   completedAt,
	}}
}

// TerminalEvent builds the terminal event for a settled job.
func TerminalEvent(job *domain.Job) (events.Event, error) {
	d := terminalDraft(job)
	completedAt, _ := job.CompletedAt()
	return events.New(job.ID(), d.typ, d.payload, completedAt)
}

// deriveEvents lists, in causal order, the events implied by the change from
// before to after: sub-task status changes (and results), the extras supplied
// by the caller, then the job status change and its terminal event.
func deriveEvents(before domain.JobSnapshot, after *domain.Job, extras []eventDraft) []eventDraft {
	prev := make(map[uuid.UUID]domain.SubTaskSnapshot, len(before.SubTasks))
	for _, s := range before.SubTasks {
		prev[s.ID] = s
	}

	var out []eventDraft
	for _, st := range after.SubTasks() {
		p, existed := prev[st.ID()]
		if existed && p.Status == st.Status() && p.RetryCount == st.RetryCount() {
			continue
		}

		out = append(out, subTaskStatusDraft(st))
		if st.Status() == domain.SubTaskStatusCompleted {
			out = append(out, eventDraft{typ: events.EventResultItem, payload: resultItemPayload{
				SubTaskID:  st.ID().String(),
				ProviderID: st.ProviderID(),
				Result:     st.ResultPayload(),
			}})
		}
	}

	out = append(out, extras...)

	if before.Status != after.Status() || before.RetryCount != after.RetryCount() {
		out = append(out, jobStatusDraft(after))
		if after.Status().IsTerminal() {
			out = append(out, terminalDraft(after))
		}
	}
	return out
}
