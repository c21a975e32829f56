package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/web"
)

func newTestApp(checks map[string]Checker) http.Handler {
	app := web.NewApp(func(context.Context, string, ...any) {}, noop.NewTracerProvider().Tracer("test"))
	Routes(app, Config{Build: "test", Log: logger.Noop(), Checks: checks})
	return app
}

func TestLiveness(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestApp(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/liveness", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","build":"test"}`, rec.Body.String())
}

func TestReadiness(t *testing.T) {
	ok := CheckFunc(func(context.Context) error { return nil })
	down := CheckFunc(func(context.Context) error { return errors.New("connection refused") })

	t.Run("all checks pass", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestApp(map[string]Checker{"store": ok}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/readiness", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
	})

	t.Run("failing check", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestApp(map[string]Checker{"store": ok, "redis": down}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/readiness", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"status":"not ready","failed":{"redis":"connection refused"}}`, rec.Body.String())
	})
}
