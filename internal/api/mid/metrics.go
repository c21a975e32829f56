package mid

import (
	"context"
	"net/http"
	"time"

	"github.com/ahrav/conductor/internal/api"
	"github.com/ahrav/conductor/internal/api/errs"
	"github.com/ahrav/conductor/pkg/web"
)

// Metrics records request counts, latencies and error codes. Requests are
// labelled with their route pattern so that path parameters do not explode
// the label set.
func Metrics(m api.APIMetrics) web.MidFunc {
	mw := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			start := time.Now()

			resp := next(ctx, r)

			route := r.Pattern
			if route == "" {
				route = r.URL.Path
			}

			status := http.StatusOK
			switch v := resp.(type) {
			case web.HTTPStatusSetter:
				status = v.HTTPStatus()
			case error:
				status = http.StatusInternalServerError
			}
			if err := isError(resp); err != nil {
				code := errs.Internal
				if appErr := errs.GetError(err); appErr != nil {
					code = appErr.Code
				}
				m.IncRequestErrors(ctx, code.String())
			}

			m.IncRequestsTotal(ctx, r.Method, route, status)
			m.ObserveRequestDuration(ctx, r.Method, route, time.Since(start))

			return resp
		}

		return h
	}

	return mw
}
