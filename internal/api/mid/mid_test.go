package mid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/conductor/internal/api/errs"
	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/web"
)

func run(mw web.MidFunc, resp web.Encoder) web.Encoder {
	h := mw(func(context.Context, *http.Request) web.Encoder { return resp })
	return h(context.Background(), httptest.NewRequest(http.MethodGet, "/v1/jobs/x", nil))
}

func TestErrors_MapsDomainErrors(t *testing.T) {
	tests := []struct {
		err  error
		code errs.ErrCode
		http int
	}{
		{fmt.Errorf("load: %w", domain.ErrJobNotFound), errs.NotFound, http.StatusNotFound},
		{domain.ErrSubTaskNotFound, errs.NotFound, http.StatusNotFound},
		{domain.ErrInvalidCallbackToken, errs.Unauthenticated, http.StatusUnauthorized},
		{domain.ErrInvalidCallbackStatus, errs.InvalidArgument, http.StatusBadRequest},
		{domain.ErrUnknownProvider, errs.InvalidArgument, http.StatusBadRequest},
		{domain.ErrRetryNotAllowed, errs.FailedPrecondition, http.StatusConflict},
		{domain.ErrRetryLimitExceeded, errs.FailedPrecondition, http.StatusConflict},
		{domain.ErrCancelNotAllowed, errs.FailedPrecondition, http.StatusConflict},
		{errs.Newf(errs.InvalidArgument, "bad id"), errs.InvalidArgument, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			resp := run(Errors(logger.Noop()), encErr{tt.err})
			appErr, ok := resp.(*errs.Error)
			require.True(t, ok)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.http, appErr.HTTPStatus())
		})
	}
}

// encErr lets plain errors travel through the handler chain in tests.
type encErr struct{ error }

func (e encErr) Encode() ([]byte, string, error) { return nil, "", nil }
func (e encErr) Unwrap() error                   { return e.error }

func TestErrors_HidesInternalDetail(t *testing.T) {
	resp := run(Errors(logger.Noop()), encErr{errors.New("pq: connection refused at 10.0.0.3")})
	appErr, ok := resp.(*errs.Error)
	require.True(t, ok)
	assert.Equal(t, errs.Internal, appErr.Code)
	assert.Equal(t, "Internal Server Error", appErr.Message)
}

func TestErrors_PassesThroughSuccess(t *testing.T) {
	ok := web.NewNoResponse()
	assert.Equal(t, ok, run(Errors(logger.Noop()), ok))
}

func TestPanics_Recovers(t *testing.T) {
	h := Panics()(func(context.Context, *http.Request) web.Encoder { panic("boom") })
	resp := h(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))

	appErr, ok := resp.(*errs.Error)
	require.True(t, ok)
	assert.Equal(t, errs.InternalOnlyLog, appErr.Code)
	assert.Contains(t, appErr.Message, "PANIC [boom]")
}

func TestErrors_MapsWrappedDomainError(t *testing.T) {
	resp := run(Errors(logger.Noop()), errs.Domain(fmt.Errorf("cancel: %w", domain.ErrCancelNotAllowed)))
	appErr, ok := resp.(*errs.Error)
	require.True(t, ok)
	assert.Equal(t, errs.FailedPrecondition, appErr.Code)
	assert.Contains(t, appErr.FileName, "mid_test.go")
}
