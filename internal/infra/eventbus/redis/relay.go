// Package redis relays job events between replicas over Redis pub/sub so a
// client streaming from one replica sees events produced on any other.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/conductor/internal/domain/events"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/common/uuid"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "conductor:job-events"

var _ events.Broker = (*Relay)(nil)

// Relay is an events.Broker that publishes through Redis and feeds every
// message received from Redis, including its own, into a local broker.
// Subscriptions are always served by the local broker.
type Relay struct {
	rdb     goredis.UniversalClient
	channel string
	local   events.Broker

	logger *logger.Logger
	tracer trace.Tracer
}

// NewRelay wraps local with a Redis relay on channel.
func NewRelay(
	rdb goredis.UniversalClient,
	channel string,
	local events.Broker,
	log *logger.Logger,
	tracer trace.Tracer,
) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{
		rdb:     rdb,
		channel: channel,
		local:   local,
		logger:  log.With("component", "redis_event_relay", "channel", channel),
		tracer:  tracer,
	}
}

// Publish sends e to every replica. When Redis is unreachable the event is
// still delivered to local subscribers and the error is returned.
func (r *Relay) Publish(ctx context.Context, e events.Event) error {
	ctx, span := r.tracer.Start(ctx, "redis_event_relay.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("job_id", e.JobID.String()),
			attribute.String("event_type", e.Type.String()),
		),
	)
	defer span.End()

	raw, err := json.Marshal(e)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := r.rdb.Publish(ctx, r.channel, raw).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redis publish failed")
		localErr := r.local.Publish(ctx, e)
		return errors.Join(fmt.Errorf("redis publish: %w", err), localErr)
	}
	return nil
}

// Subscribe opens a local stream for jobID.
func (r *Relay) Subscribe(ctx context.Context, jobID uuid.UUID) (events.Subscription, error) {
	return r.local.Subscribe(ctx, jobID)
}

// Start subscribes to the channel and forwards messages to the local broker
// until ctx is done. It returns once the subscription is confirmed.
func (r *Relay) Start(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)

	// Wait for the subscription confirmation so nothing published after Start
	// returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	r.logger.Info(ctx, "Redis event relay started")

	go func() {
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var e events.Event
				if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
					r.logger.Warn(ctx, "Dropping malformed relayed event", "err", err)
					continue
				}
				if err := r.local.Publish(ctx, e); err != nil {
					r.logger.Error(ctx, "Failed to publish relayed event", "job_id", e.JobID, "err", err)
				}
			}
		}
	}()
	return nil
}

// Ping checks the Redis connection.
func (r *Relay) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }
