package jobs

import (
	"encoding/json"
	"net/http"
	"time"

	domain "github.com/ahrav/conductor/internal/domain/jobs"
)

// createRequest is the payload for creating a job.
type createRequest struct {
	Kind       string          `json:"kind" validate:"required,max=128"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	// Providers optionally overrides the providers selected for Kind.
	Providers []string `json:"providers,omitempty" validate:"omitempty,max=32,dive,required"`
}

// createResponse is the acceptance receipt for a new job.
type createResponse struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	StreamURL string `json:"streamUrl"`
}

// Encode implements the web.Encoder interface.
func (cr createResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(cr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// HTTPStatus implements the httpStatus interface to set the response status code.
func (cr createResponse) HTTPStatus() int { return http.StatusAccepted } // 202

// jobResponse is the full view of a job and its sub-tasks.
type jobResponse struct {
	JobID           string            `json:"jobId"`
	Kind            string            `json:"kind"`
	Status          string            `json:"status"`
	FailureReason   string            `json:"failureReason,omitempty"`
	FailureCategory string            `json:"failureCategory,omitempty"`
	ErrorMessage    string            `json:"errorMessage,omitempty"`
	RetryCount      int               `json:"retryCount"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	StartedAt       time.Time         `json:"startedAt"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
	SubTasks        []subTaskResponse `json:"subTasks"`
}

type subTaskResponse struct {
	SubTaskID     string          `json:"subTaskId"`
	ProviderID    string          `json:"providerId"`
	TaskType      string          `json:"taskType"`
	Status        string          `json:"status"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	RetryCount    int             `json:"retryCount"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	DispatchedAt  *time.Time      `json:"dispatchedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
}

// Encode implements the web.Encoder interface.
func (jr jobResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(jr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func toJobResponse(job *domain.Job) jobResponse {
	resp := jobResponse{
		JobID:        job.ID().String(),
		Kind:         job.Kind(),
		Status:       job.Status().String(),
		ErrorMessage: job.ErrorMessage(),
		RetryCount:   job.RetryCount(),
		CreatedAt:    job.CreatedAt(),
		UpdatedAt:    job.UpdatedAt(),
		StartedAt:    job.StartedAt(),
		SubTasks:     make([]subTaskResponse, 0, len(job.SubTasks())),
	}
	if r := job.FailureReason(); r != domain.ReasonNone {
		resp.FailureReason = r.String()
		resp.FailureCategory = string(r.Category())
	}
	if at, ok := job.CompletedAt(); ok {
		resp.CompletedAt = &at
	}

	for _, st := range job.SubTasks() {
		sr := subTaskResponse{
			SubTaskID:     st.ID().String(),
			ProviderID:    st.ProviderID(),
			TaskType:      st.TaskType(),
			Status:        st.Status().String(),
			Result:        st.ResultPayload(),
			FailureReason: st.FailureReason().String(),
			ErrorMessage:  st.ErrorMessage(),
			RetryCount:    st.RetryCount(),
			CreatedAt:     st.CreatedAt(),
			UpdatedAt:     st.UpdatedAt(),
		}
		if at := st.DispatchedAt(); !at.IsZero() {
			sr.DispatchedAt = &at
		}
		if at, ok := st.CompletedAt(); ok {
			sr.CompletedAt = &at
		}
		resp.SubTasks = append(resp.SubTasks, sr)
	}
	return resp
}
