package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ahrav/conductor/pkg/common/uuid"
)

// EventType names the kind of an Event. Values double as the SSE event name.
type EventType string

const (
	// EventStatus reports a job or sub-task status change.
	EventStatus EventType = "status"

	// EventProgress reports that a worker is making progress on a sub-task.
	EventProgress EventType = "progress"

	// EventEvidence carries one intermediate item reported by a worker.
	EventEvidence EventType = "evidence"

	// EventResultItem carries the final result of a completed sub-task.
	EventResultItem EventType = "result-item"

	// EventComplete is the terminal event for COMPLETED, PARTIAL_SUCCESS and
	// CANCELLED jobs.
	EventComplete EventType = "complete"

	// EventError is the terminal event for FAILED and TIMEOUT jobs.
	EventError EventType = "error"

	// EventHeartbeat keeps idle streams alive. It is never published, only
	// generated per subscription.
	EventHeartbeat EventType = "heartbeat"
)

func (t EventType) String() string { return string(t) }

// IsTerminal reports whether no further events follow one of this type.
func (t EventType) IsTerminal() bool { return t == EventComplete || t == EventError }

// Event is an ephemeral notification about one job.
type Event struct {
	JobID     uuid.UUID       `json:"jobId"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// New builds an Event, marshalling payload to JSON.
func New(jobID uuid.UUID, typ EventType, payload any, ts time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}

	return Event{JobID: jobID, Type: typ, Payload: data, Timestamp: ts}, nil
}

// Heartbeat returns a heartbeat event for jobID.
func Heartbeat(jobID uuid.UUID, ts time.Time) Event {
	return Event{JobID: jobID, Type: EventHeartbeat, Payload: json.RawMessage(`{}`), Timestamp: ts}
}
