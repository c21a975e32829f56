package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_ValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		current JobStatus
		target  JobStatus
		valid   bool
	}{
		{name: "pending to in progress", current: JobStatusPending, target: JobStatusInProgress, valid: true},
		{name: "pending to failed", current: JobStatusPending, target: JobStatusFailed, valid: true},
		{name: "pending to pending", current: JobStatusPending, target: JobStatusPending, valid: false},
		{name: "in progress to partial", current: JobStatusInProgress, target: JobStatusPartialSuccess, valid: true},
		{name: "in progress to pending", current: JobStatusInProgress, target: JobStatusPending, valid: false},
		{name: "completed is terminal", current: JobStatusCompleted, target: JobStatusInProgress, valid: false},
		{name: "timeout is terminal", current: JobStatusTimeout, target: JobStatusFailed, valid: false},
		{name: "cancelled is terminal", current: JobStatusCancelled, target: JobStatusCompleted, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.current.validateTransition(tt.target)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestSubTaskStatus_ValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		current SubTaskStatus
		target  SubTaskStatus
		valid   bool
	}{
		{name: "pending to in progress", current: SubTaskStatusPending, target: SubTaskStatusInProgress, valid: true},
		{name: "pending to completed", current: SubTaskStatusPending, target: SubTaskStatusCompleted, valid: true},
		{name: "in progress to timeout", current: SubTaskStatusInProgress, target: SubTaskStatusTimeout, valid: true},
		{name: "in progress to pending", current: SubTaskStatusInProgress, target: SubTaskStatusPending, valid: false},
		{name: "completed to failed", current: SubTaskStatusCompleted, target: SubTaskStatusFailed, valid: false},
		{name: "failed to completed", current: SubTaskStatusFailed, target: SubTaskStatusCompleted, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.current.validateTransition(tt.target)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, JobStatusPartialSuccess, ParseJobStatus("PARTIAL_SUCCESS"))
	assert.Equal(t, JobStatus(""), ParseJobStatus("partial"))
	assert.Equal(t, SubTaskStatusTimeout, ParseSubTaskStatus("TIMEOUT"))
	assert.Equal(t, SubTaskStatus(""), ParseSubTaskStatus("PARTIAL_SUCCESS"))
}

func TestSubTaskStatus_IsFailure(t *testing.T) {
	assert.True(t, SubTaskStatusFailed.IsFailure())
	assert.True(t, SubTaskStatusCancelled.IsFailure())
	assert.True(t, SubTaskStatusTimeout.IsFailure())
	assert.False(t, SubTaskStatusCompleted.IsFailure())
	assert.False(t, SubTaskStatusPending.IsFailure())
}
