package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesJSONWithServiceAndTraceID(t *testing.T) {
	var buf bytes.Buffer
	traceFn := func(context.Context) string { return "trace-123" }

	log := NewWithMetadata(&buf, LevelDebug, "conductor", traceFn, Events{}, map[string]string{"hostname": "h1"})
	log.With("component", "test").Info(context.Background(), "hello", "job_id", "j1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "conductor", rec["service"])
	assert.Equal(t, "h1", rec["hostname"])
	assert.Equal(t, "test", rec["component"])
	assert.Equal(t, "j1", rec["job_id"])
	assert.Equal(t, "trace-123", rec["trace_id"])
	assert.Contains(t, rec["file"], "logger_test.go")
}

func TestLogger_ErrorEventFires(t *testing.T) {
	var got Record
	events := Events{Error: func(_ context.Context, r Record) { got = r }}

	var buf bytes.Buffer
	log := NewWithEvents(&buf, LevelInfo, "svc", nil, events)
	log.Error(context.Background(), "boom", "err", "bad")

	assert.Equal(t, "boom", got.Message)
	assert.Equal(t, LevelError, got.Level)
	assert.Equal(t, "bad", got.Attributes["err"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelWarn, "svc", nil)
	log.Info(context.Background(), "dropped")
	assert.Zero(t, buf.Len())

	log.Warn(context.Background(), "kept")
	assert.NotZero(t, buf.Len())
}

func TestLoggerContext_Add(t *testing.T) {
	var buf bytes.Buffer
	lc := NewLoggerContext(New(&buf, LevelDebug, "svc", nil))
	lc.Add("sub_task_id", "s1")
	lc.Warn(context.Background(), "stale")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "s1", rec["sub_task_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}
