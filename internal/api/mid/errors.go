package mid

import (
	"context"
	"errors"
	"net/http"
	"path"

	"github.com/ahrav/conductor/internal/api/errs"
	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/web"
)

// domainCodes maps domain sentinel errors to API error codes. Errors that are
// not listed become internal errors.
var domainCodes = []struct {
	target error
	code   errs.ErrCode
}{
	{domain.ErrJobNotFound, errs.NotFound},
	{domain.ErrSubTaskNotFound, errs.NotFound},
	{domain.ErrInvalidCallbackToken, errs.Unauthenticated},
	{domain.ErrInvalidCallbackStatus, errs.InvalidArgument},
	{domain.ErrUnknownProvider, errs.InvalidArgument},
	{domain.ErrNoProviders, errs.InvalidArgument},
	{domain.ErrRetryNotAllowed, errs.FailedPrecondition},
	{domain.ErrRetryLimitExceeded, errs.FailedPrecondition},
	{domain.ErrCancelNotAllowed, errs.FailedPrecondition},
	{domain.ErrInvalidTransition, errs.FailedPrecondition},
	{domain.ErrConcurrentUpdate, errs.Aborted},
}

// toAppError converts err into the *errs.Error returned to the client.
func toAppError(err error) *errs.Error {
	var appErr *errs.Error
	if errors.As(err, &appErr) && appErr.Code != errs.Unknown {
		return appErr
	}

	var fields errs.FieldErrors
	if errors.As(err, &fields) {
		return fields.ToError()
	}

	code := errs.InternalOnlyLog
	for _, m := range domainCodes {
		if errors.Is(err, m.target) {
			code = m.code
			break
		}
	}

	out := errs.New(code, err)
	if appErr != nil {
		out.FuncName, out.FileName = appErr.FuncName, appErr.FileName
	}
	return out
}

// Errors handles errors coming out of the call chain. Domain errors are
// translated to client-facing codes; anything unexpected is logged in full
// and reported as a generic internal error.
func Errors(log *logger.Logger) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			resp := next(ctx, r)
			err := isError(resp)
			if err == nil {
				return resp
			}

			appErr := toAppError(err)

			log.Error(ctx, "handled error during request",
				"err", err,
				"code", appErr.Code.String(),
				"source_err_file", path.Base(appErr.FileName),
				"source_err_func", path.Base(appErr.FuncName))

			if appErr.Code == errs.InternalOnlyLog {
				appErr = errs.Newf(errs.Internal, "%s", http.StatusText(http.StatusInternalServerError))
			}

			return appErr
		}

		return h
	}

	return m
}
