package jobs

import (
	"encoding/json"

	"github.com/ahrav/conductor/pkg/common/uuid"
)

// WorkRequest is the message sent to a provider for one sub-task. Workers
// reply by posting a Callback carrying the same ids, the token and attempt.
type WorkRequest struct {
	JobID         uuid.UUID       `json:"jobId"`
	SubTaskID     uuid.UUID       `json:"subTaskId"`
	ProviderID    string          `json:"providerId"`
	Kind          string          `json:"kind"`
	TaskType      string          `json:"taskType"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CallbackURL   string          `json:"callbackUrl"`
	CallbackToken string          `json:"callbackToken"`
	Attempt       int             `json:"attempt"`
}

// NewWorkRequest builds the work request for st.
func NewWorkRequest(job *Job, st *SubTask, callbackURL string) WorkRequest {
	return WorkRequest{
		JobID:         job.id,
		SubTaskID:     st.id,
		ProviderID:    st.providerID,
		Kind:          job.kind,
		TaskType:      st.taskType,
		Payload:       job.input,
		CallbackURL:   callbackURL,
		CallbackToken: job.callbackToken,
		Attempt:       st.retryCount,
	}
}
