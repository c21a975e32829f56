package callbacks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/conductor/internal/api/mid"
	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/common/uuid"
	"github.com/ahrav/conductor/pkg/web"
)

type mockAcceptor struct{ mock.Mock }

func (m *mockAcceptor) AcceptCallback(ctx context.Context, cb domain.Callback) (domain.CallbackOutcome, error) {
	args := m.Called(ctx, cb)
	return args.Get(0).(domain.CallbackOutcome), args.Error(1)
}

func newTestApp(acc Acceptor) http.Handler {
	log := logger.Noop()
	app := web.NewApp(
		func(ctx context.Context, msg string, args ...any) { log.Info(ctx, msg, args...) },
		noop.NewTracerProvider().Tracer("test"),
		mid.Errors(log),
	)
	Routes(app, Config{Log: log, Callback: acc})
	return app
}

func callbackBody(t *testing.T, jobID, subTaskID uuid.UUID, token string) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"jobId":         jobID,
		"subTaskId":     subTaskID,
		"providerId":    "provider-a",
		"status":        "COMPLETED",
		"resultPayload": map[string]int{"pages": 3},
		"callbackToken": token,
	})
	require.NoError(t, err)
	return string(data)
}

func TestAccept_HeaderTokenOverridesBody(t *testing.T) {
	acc := new(mockAcceptor)
	jobID, subID := uuid.New(), uuid.New()
	acc.On("AcceptCallback", mock.Anything, mock.MatchedBy(func(cb domain.Callback) bool {
		return cb.Token == "header-token" && cb.JobID == jobID && cb.SubTaskID == subID &&
			cb.Status == domain.SubTaskStatusCompleted
	})).Return(domain.CallbackApplied, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/callbacks", strings.NewReader(callbackBody(t, jobID, subID, "body-token")))
	req.Header.Set(TokenHeader, "header-token")
	rec := httptest.NewRecorder()
	newTestApp(acc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"outcome":"applied"}`, rec.Body.String())
	acc.AssertExpectations(t)
}

func TestAccept_DuplicateIsOK(t *testing.T) {
	acc := new(mockAcceptor)
	acc.On("AcceptCallback", mock.Anything, mock.Anything).Return(domain.CallbackDuplicate, nil)

	rec := httptest.NewRecorder()
	body := callbackBody(t, uuid.New(), uuid.New(), "tok")
	newTestApp(acc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/callbacks", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"outcome":"duplicate"}`, rec.Body.String())
}

func TestAccept_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "malformed", body: `{"jobId":`, status: http.StatusBadRequest},
		{name: "missing ids", body: `{"status":"COMPLETED"}`, status: http.StatusBadRequest},
		{name: "bad token", body: callbackBody(t, uuid.New(), uuid.New(), "x"), err: domain.ErrInvalidCallbackToken, status: http.StatusUnauthorized},
		{name: "unknown job", body: callbackBody(t, uuid.New(), uuid.New(), "x"), err: domain.ErrJobNotFound, status: http.StatusNotFound},
		{name: "bad status", body: callbackBody(t, uuid.New(), uuid.New(), "x"), err: domain.ErrInvalidCallbackStatus, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := new(mockAcceptor)
			if tt.err != nil {
				acc.On("AcceptCallback", mock.Anything, mock.Anything).Return(domain.CallbackOutcome(0), tt.err)
			}

			rec := httptest.NewRecorder()
			newTestApp(acc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/callbacks", strings.NewReader(tt.body)))

			assert.Equal(t, tt.status, rec.Code)
			if tt.err == nil {
				acc.AssertNotCalled(t, "AcceptCallback", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestAccept_RequiredFieldsReported(t *testing.T) {
	acc := new(mockAcceptor)

	rec := httptest.NewRecorder()
	body := `{"jobId":"00000000-0000-0000-0000-000000000000","providerId":"provider-a"}`
	newTestApp(acc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/callbacks", strings.NewReader(body)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	for _, field := range []string{"jobId", "subTaskId", "status"} {
		assert.Contains(t, rec.Body.String(), field)
	}
	acc.AssertNotCalled(t, "AcceptCallback", mock.Anything, mock.Anything)
}

func TestCallbackRequest_ToCallback(t *testing.T) {
	attempt := 2
	req := callbackRequest{
		JobID:        uuid.New(),
		SubTaskID:    uuid.New(),
		ProviderID:   "provider-a",
		Status:       domain.SubTaskStatusFailed,
		ErrorMessage: "upstream 503",
		Attempt:      &attempt,
		Token:        "tok",
	}

	cb := req.toCallback()
	assert.Equal(t, req.JobID, cb.JobID)
	assert.Equal(t, req.SubTaskID, cb.SubTaskID)
	assert.Equal(t, domain.SubTaskStatusFailed, cb.Status)
	assert.Equal(t, "upstream 503", cb.ErrorMessage)
	assert.Equal(t, &attempt, cb.Attempt)
	assert.Equal(t, "tok", cb.Token)
}
