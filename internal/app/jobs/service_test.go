package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/conductor/internal/domain/events"
	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/internal/infra/storage/jobs/memory"
	"github.com/ahrav/conductor/pkg/common/uuid"
)

func TestService_CreateJob_DispatchesToEveryProvider(t *testing.T) {
	h := newHarness(t, nil)
	h.sendOK()

	created := h.create(t)
	assert.Equal(t, domain.JobStatusPending, created.Status())
	require.Len(t, created.SubTasks(), 3)
	assert.NotEmpty(t, created.CallbackToken())

	job := h.load(t, created.ID())
	assert.Equal(t, domain.JobStatusInProgress, job.Status())
	for _, st := range job.SubTasks() {
		assert.Equal(t, domain.SubTaskStatusPending, st.Status())
		assert.Equal(t, t0, st.DispatchedAt())
	}

	h.sender.AssertNumberOfCalls(t, "Send", 3)
	h.sender.AssertCalled(t, "Send", mock.Anything, mock.Anything, mock.MatchedBy(func(req domain.WorkRequest) bool {
		return req.JobID == created.ID() &&
			req.CallbackURL == "http://conductor/v1/callbacks" &&
			req.CallbackToken == created.CallbackToken() &&
			req.Attempt == 0
	}))
}

func TestService_CreateJob_ExplicitProviders(t *testing.T) {
	h := newHarness(t, nil)
	h.sendOK()

	created, err := h.svc.CreateJob(context.Background(), CreateJobRequest{
		Kind:      "search",
		Providers: []string{"beta", "beta"},
	})
	require.NoError(t, err)
	require.Len(t, created.SubTasks(), 1)
	assert.Equal(t, "beta", created.SubTasks()[0].ProviderID())
}

func TestService_CreateJob_RejectsUnknownProvider(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.CreateJob(context.Background(), CreateJobRequest{Kind: "search", Providers: []string{"nope"}})
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)
	h.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_CreateJob_PartialDispatchFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.sender.On("Send", mock.Anything, mock.MatchedBy(func(p domain.Provider) bool { return p.ID == "beta" }), mock.Anything).
		Return(errors.New("dial tcp: connection refused"))
	h.sender.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	created := h.create(t)
	job := h.load(t, created.ID())

	assert.Equal(t, domain.JobStatusInProgress, job.Status())
	beta := subTaskFor(t, job, "beta")
	assert.Equal(t, domain.SubTaskStatusFailed, beta.Status())
	assert.Equal(t, domain.ReasonServiceUnavailable, beta.FailureReason())
	assert.Contains(t, beta.ErrorMessage(), "connection refused")
	assert.Equal(t, domain.SubTaskStatusPending, subTaskFor(t, job, "alpha").Status())
}

func TestService_CreateJob_AllDispatchesFail(t *testing.T) {
	h := newHarness(t, nil)
	h.sender.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("503 service unavailable"))

	created := h.create(t)
	job := h.load(t, created.ID())

	assert.Equal(t, domain.JobStatusFailed, job.Status())
	assert.Equal(t, domain.ReasonServiceUnavailable, job.FailureReason())
	assert.Len(t, h.broker.ofType(events.EventError), 1)
}

// unwritableStore accepts new jobs but fails every later update.
type unwritableStore struct {
	*memory.JobStore
}

func (s unwritableStore) UpdateJob(context.Context, *domain.Job) error {
	return errors.New("db unavailable")
}

func TestService_CreateJob_ReturnsJobWhenOutcomeNotRecorded(t *testing.T) {
	store := unwritableStore{JobStore: memory.NewJobStore()}
	h := newHarness(t, store)
	h.sendOK()

	created, err := h.svc.CreateJob(context.Background(), CreateJobRequest{Kind: "search"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, created.Status())

	stored, err := store.GetJob(context.Background(), created.ID())
	require.NoError(t, err)
	assert.Len(t, stored.SubTasks(), 3)
	h.sender.AssertNumberOfCalls(t, "Send", 3)
}

// Three providers: alpha completes, beta reports a refused connection and
// gamma never answers.
func TestService_PartialSuccessThenRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.sendOK()

	created := h.create(t)
	sub, err := h.svc.StreamJob(ctx, created.ID())
	require.NoError(t, err)

	job := h.load(t, created.ID())
	alpha := subTaskFor(t, job, "alpha")
	beta := subTaskFor(t, job, "beta")
	_ = subTaskFor(t, job, "gamma")

	cbA := callbackFor(job, alpha, domain.SubTaskStatusCompleted)
	cbA.ResultPayload = json.RawMessage(`{"hits":3}`)
	outcome, err := h.svc.AcceptCallback(ctx, cbA)
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackApplied, outcome)

	cbB := callbackFor(job, beta, domain.SubTaskStatusFailed)
	cbB.ErrorMessage = "connection refused"
	_, err = h.svc.AcceptCallback(ctx, cbB)
	require.NoError(t, err)

	h.clock.Advance(11 * time.Minute)
	res, err := h.svc.Sweeper().SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SubTasksTimedOut)
	assert.Zero(t, res.JobsTimedOut)

	job = h.load(t, created.ID())
	assert.Equal(t, domain.JobStatusPartialSuccess, job.Status())
	assert.Equal(t, domain.SubTaskStatusCompleted, subTaskFor(t, job, "alpha").Status())
	assert.Equal(t, domain.ReasonConnectionRefused, subTaskFor(t, job, "beta").FailureReason())
	assert.Equal(t, domain.SubTaskStatusTimeout, subTaskFor(t, job, "gamma").Status())
	assert.Equal(t, domain.ReasonTimeoutSubTaskDeadline, subTaskFor(t, job, "gamma").FailureReason())

	var received []events.Event
	for len(sub.Events()) > 0 {
		received = append(received, <-sub.Events())
	}
	var terminal []events.Event
	for _, e := range received {
		if e.Type.IsTerminal() {
			terminal = append(terminal, e)
		}
	}
	require.Len(t, terminal, 1)
	assert.Equal(t, events.EventComplete, terminal[0].Type)
	assert.Len(t, h.broker.ofType(events.EventResultItem), 1)

	retried, err := h.svc.RetryJob(ctx, created.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusInProgress, retried.Status())
	assert.Equal(t, 1, retried.RetryCount())

	a := subTaskFor(t, retried, "alpha")
	assert.Equal(t, domain.SubTaskStatusCompleted, a.Status())
	assert.Zero(t, a.RetryCount())
	for _, id := range []string{"beta", "gamma"} {
		st := subTaskFor(t, retried, id)
		assert.Equal(t, domain.SubTaskStatusPending, st.Status(), id)
		assert.Equal(t, 1, st.RetryCount(), id)
		assert.Equal(t, domain.ReasonNone, st.FailureReason(), id)
	}

	// Initial fan-out plus the two retried sub-tasks.
	h.sender.AssertNumberOfCalls(t, "Send", 5)
	h.sender.AssertCalled(t, "Send", mock.Anything, mock.Anything, mock.MatchedBy(func(req domain.WorkRequest) bool {
		return req.SubTaskID == beta.ID() && req.Attempt == 1
	}))
}

func TestService_StaleCallbackAfterRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.sendOK()

	created, err := h.svc.CreateJob(ctx, CreateJobRequest{Kind: "search", Providers: []string{"alpha"}})
	require.NoError(t, err)
	job := h.load(t, created.ID())
	st := job.SubTasks()[0]

	fail := callbackFor(job, st, domain.SubTaskStatusFailed)
	fail.ErrorMessage = "500 internal server error"
	_, err = h.svc.AcceptCallback(ctx, fail)
	require.NoError(t, err)

	_, err = h.svc.RetryJob(ctx, created.ID())
	require.NoError(t, err)

	old := 0
	late := callbackFor(job, st, domain.SubTaskStatusCompleted)
	late.Attempt = &old
	outcome, err := h.svc.AcceptCallback(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackStale, outcome)
	assert.Equal(t, domain.SubTaskStatusPending, h.load(t, created.ID()).SubTasks()[0].Status())
}

func TestService_DuplicateCallbackIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.sendOK()

	created := h.create(t)
	job := h.load(t, created.ID())
	cb := callbackFor(job, subTaskFor(t, job, "alpha"), domain.SubTaskStatusCompleted)

	first, err := h.svc.AcceptCallback(ctx, cb)
	require.NoError(t, err)
	second, err := h.svc.AcceptCallback(ctx, cb)
	require.NoError(t, err)

	assert.Equal(t, domain.CallbackApplied, first)
	assert.Equal(t, domain.CallbackDuplicate, second)
	assert.Len(t, h.broker.ofType(events.EventResultItem), 1)
}

func TestService_CallbackRejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.sendOK()

	created := h.create(t)
	job := h.load(t, created.ID())
	st := subTaskFor(t, job, "alpha")

	tests := []struct {
		name    string
		mutate  func(cb *domain.Callback)
		wantErr error
	}{
		{"bad token", func(cb *domain.Callback) { cb.Token = "wrong" }, domain.ErrInvalidCallbackToken},
		{"unknown job", func(cb *domain.Callback) { cb.JobID = subTaskFor(t, job, "beta").ID() }, domain.ErrJobNotFound},
		{"unknown sub-task", func(cb *domain.Callback) { cb.SubTaskID = job.ID() }, domain.ErrSubTaskNotFound},
		{"provider mismatch", func(cb *domain.Callback) { cb.ProviderID = "beta" }, domain.ErrSubTaskNotFound},
		{"bad status", func(cb *domain.Callback) { cb.Status = domain.SubTaskStatusPending }, domain.ErrInvalidCallbackStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := callbackFor(job, st, domain.SubTaskStatusCompleted)
			tt.mutate(&cb)
			_, err := h.svc.AcceptCallback(ctx, cb)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, domain.SubTaskStatusPending, subTaskFor(t, h.load(t, job.ID()), "alpha").Status())
}

func TestService_ProgressAndEvidence(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.sendOK()

	created := h.create(t)
	job := h.load(t, created.ID())
	st := subTaskFor(t, job, "alpha")

	cb := callbackFor(job, st, domain.SubTaskStatusInProgress)
	cb.Items = []json.RawMessage{json.RawMessage(`{"url":"a"}`), json.RawMessage(`{"url":"b"}`)}
	outcome, err := h.svc.AcceptCallback(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackApplied, outcome)

	outcome, err = h.svc.AcceptCallback(ctx, callbackFor(job, st, domain.SubTaskStatusInProgress))
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackProgress, outcome)

	assert.Len(t, h.broker.ofType(events.EventProgress), 2)
	assert.Len(t, h.broker.ofType(events.EventEvidence), 2)
	assert.Equal(t, domain.SubTaskStatusInProgress, subTaskFor(t, h.load(t, job.ID()), "alpha").Status())
}

func TestService_CancelJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.sendOK()

	created := h.create(t)
	job := h.load(t, created.ID())
	_, err := h.svc.AcceptCallback(ctx, callbackFor(job, subTaskFor(t, job, "alpha"), domain.SubTaskStatusCompleted))
	require.NoError(t, err)

	cancelled, err := h.svc.CancelJob(ctx, created.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, cancelled.Status())
	assert.Equal(t, domain.SubTaskStatusCompleted, subTaskFor(t, cancelled, "alpha").Status())
	assert.Equal(t, domain.SubTaskStatusCancelled, subTaskFor(t, cancelled, "beta").Status())

	again, err := h.svc.CancelJob(ctx, created.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, again.Status())
	assert.Len(t, h.broker.ofType(events.EventComplete), 1)

	// A late callback on a cancelled sub-task is a duplicate.
	outcome, err := h.svc.AcceptCallback(ctx, callbackFor(job, subTaskFor(t, job, "beta"), domain.SubTaskStatusCompleted))
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackDuplicate, outcome)

	_, err = h.svc.RetryJob(ctx, created.ID())
	assert.ErrorIs(t, err, domain.ErrRetryNotAllowed)
}

func TestService_CancelSettledJobRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.sendOK()

	created, err := h.svc.CreateJob(ctx, CreateJobRequest{Kind: "search", Providers: []string{"alpha"}})
	require.NoError(t, err)
	job := h.load(t, created.ID())
	_, err = h.svc.AcceptCallback(ctx, callbackFor(job, job.SubTasks()[0], domain.SubTaskStatusCompleted))
	require.NoError(t, err)

	_, err = h.svc.CancelJob(ctx, created.ID())
	assert.ErrorIs(t, err, domain.ErrCancelNotAllowed)

	_, err = h.svc.RetryJob(ctx, created.ID())
	assert.ErrorIs(t, err, domain.ErrRetryNotAllowed)
}

func TestService_JobNotFound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	missing := uuid.New()

	_, err := h.svc.GetJob(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = h.svc.CancelJob(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = h.svc.RetryJob(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = h.svc.StreamJob(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestService_StreamJob_TerminalReplay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.sender.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection reset by peer"))

	created := h.create(t)
	sub, err := h.svc.StreamJob(ctx, created.ID())
	require.NoError(t, err)

	var got []events.Event
	for e := range sub.Events() {
		got = append(got, e)
	}
	require.Len(t, got, 1)
	assert.Equal(t, events.EventError, got[0].Type)
	assert.Equal(t, created.ID(), got[0].JobID)

	var payload finalPayload
	require.NoError(t, json.Unmarshal(got[0].Payload, &payload))
	assert.Equal(t, domain.JobStatusFailed.String(), payload.Status)
	assert.Equal(t, domain.ReasonServiceUnavailable.String(), payload.FailureReason)
}
