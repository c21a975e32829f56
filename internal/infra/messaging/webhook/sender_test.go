package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/common/uuid"
)

func newTestSender() *Sender {
	return NewSender(nil, Config{InitialBackoff: time.Millisecond}, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

func TestSender_PostsJSON(t *testing.T) {
	req := domain.WorkRequest{JobID: uuid.New(), SubTaskID: uuid.New(), ProviderID: "alpha", CallbackToken: "tok"}

	var got domain.WorkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := newTestSender().Send(context.Background(), domain.Provider{ID: "alpha", Target: srv.URL}, req)
	require.NoError(t, err)
	assert.Equal(t, req.SubTaskID, got.SubTaskID)
	assert.Equal(t, "tok", got.CallbackToken)
}

func TestSender_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestSender().Send(context.Background(), domain.Provider{ID: "alpha", Target: srv.URL}, domain.WorkRequest{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSender_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := newTestSender().Send(context.Background(), domain.Provider{ID: "alpha", Target: srv.URL}, domain.WorkRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSender_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestSender().Send(context.Background(), domain.Provider{ID: "alpha", Target: srv.URL}, domain.WorkRequest{})
	require.Error(t, err)
	assert.Equal(t, domain.ReasonServiceUnavailable, domain.ClassifyError(err))
	assert.Equal(t, int32(4), calls.Load())
}
