package mid

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ahrav/conductor/internal/api/errs"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/web"
)

// Logger writes information about the request to the logs.
func Logger(log *logger.Logger) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			now := time.Now()

			path := r.URL.Path
			if r.URL.RawQuery != "" {
				path = fmt.Sprintf("%s?%s", path, r.URL.RawQuery)
			}

			log.Info(ctx, "request started", "method", r.Method, "path", path, "remoteaddr", r.RemoteAddr)

			resp := next(ctx, r)
			err := isError(resp)

			var statusCode = errs.OK
			if err != nil {
				statusCode = errs.Internal
				if appErr := errs.GetError(err); appErr != nil {
					statusCode = appErr.Code
				}
			}

			log.Info(ctx, "request completed", "method", r.Method, "path", path, "remoteaddr", r.RemoteAddr,
				"statuscode", statusCode.String(), "since", time.Since(now).String())

			return resp
		}

		return h
	}

	return m
}
