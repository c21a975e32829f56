package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/conductor/internal/domain/events"
	"github.com/ahrav/conductor/internal/infra/eventbus/memory"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/common/uuid"
)

func newRelay(t *testing.T, addr string) *Relay {
	t.Helper()

	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	local, err := memory.NewBroker(memory.Config{Heartbeat: time.Hour}, logger.Noop(), nil)
	require.NoError(t, err)
	t.Cleanup(local.Close)

	return NewRelay(rdb, "", local, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

func TestRelay_CrossReplicaDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producer := newRelay(t, mr.Addr())
	consumer := newRelay(t, mr.Addr())
	require.NoError(t, producer.Start(ctx))
	require.NoError(t, consumer.Start(ctx))

	jobID := uuid.New()
	sub, err := consumer.Subscribe(ctx, jobID)
	require.NoError(t, err)

	status, err := events.New(jobID, events.EventStatus, map[string]string{"status": "IN_PROGRESS"}, time.Now().UTC())
	require.NoError(t, err)
	done, err := events.New(jobID, events.EventComplete, map[string]string{"status": "COMPLETED"}, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, producer.Publish(ctx, status))
	require.NoError(t, producer.Publish(ctx, done))

	var got []events.Event
	for e := range sub.Events() {
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, events.EventStatus, got[0].Type)
	assert.JSONEq(t, string(status.Payload), string(got[0].Payload))
	assert.Equal(t, events.EventComplete, got[1].Type)
	assert.Equal(t, jobID, got[1].JobID)
}

func TestRelay_PublishFallsBackToLocal(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	relay := newRelay(t, mr.Addr())
	jobID := uuid.New()
	sub, err := relay.Subscribe(ctx, jobID)
	require.NoError(t, err)

	mr.Close()

	e, err := events.New(jobID, events.EventError, map[string]string{"status": "FAILED"}, time.Now().UTC())
	require.NoError(t, err)
	assert.Error(t, relay.Publish(ctx, e))

	select {
	case got, ok := <-sub.Events():
		require.True(t, ok)
		assert.Equal(t, events.EventError, got.Type)
	case <-time.After(time.Second):
		t.Fatal("event not delivered locally")
	}
}

func TestRelay_Ping(t *testing.T) {
	mr := miniredis.RunT(t)
	relay := newRelay(t, mr.Addr())
	assert.NoError(t, relay.Ping(context.Background()))
}
