package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/logger"
)

// CallbackAcceptor applies a worker callback.
type CallbackAcceptor interface {
	Accept(ctx context.Context, cb domain.Callback) (domain.CallbackOutcome, error)
}

// CallbackConsumer feeds callbacks published on a Kafka topic through the
// same acceptor as the HTTP endpoint. An offset is committed only once its
// callback has been applied or permanently rejected.
type CallbackConsumer struct {
	group    sarama.ConsumerGroup
	topic    string
	acceptor CallbackAcceptor

	maxAttempts uint64

	metrics Metrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewCallbackConsumer creates a consumer for topic.
func NewCallbackConsumer(
	group sarama.ConsumerGroup,
	topic string,
	acceptor CallbackAcceptor,
	metrics Metrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *CallbackConsumer {
	return &CallbackConsumer{
		group:       group,
		topic:       topic,
		acceptor:    acceptor,
		maxAttempts: 3,
		metrics:     metrics,
		logger:      logger.With("component", "kafka_callback_consumer", "topic", topic),
		tracer:      tracer,
	}
}

// Run consumes until ctx is done, rejoining the group after each rebalance.
func (c *CallbackConsumer) Run(ctx context.Context) {
	c.logger.Info(ctx, "Starting callback consumer")

	go func() {
		for err := range c.group.Errors() {
			c.logger.Error(ctx, "Error from consumer group", "err", err)
		}
	}()

	for {
		if err := c.group.Consume(ctx, []string{c.topic}, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			c.logger.Error(ctx, "Error from consumer group", "err", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *CallbackConsumer) Setup(sess sarama.ConsumerGroupSession) error {
	c.logger.Info(context.Background(),
		"Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (c *CallbackConsumer) Cleanup(sess sarama.ConsumerGroupSession) error {
	c.logger.Info(context.Background(),
		"Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim handles callbacks from one partition. Malformed messages and
// rejected callbacks are logged and skipped. A transient failure is retried a
// few times; if it persists the claim ends without marking the message so it
// is redelivered from the last committed offset.
func (c *CallbackConsumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	c.logger.Info(ctx, "Starting to consume from partition",
		"partition", claim.Partition(),
		"member_id", sess.MemberID(),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.handle(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("handling callback at offset %d: %w", msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
			sess.Commit()
		}
	}
}

// handle decodes and applies one callback. It returns an error only when the
// callback could not be processed and should be redelivered.
func (c *CallbackConsumer) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ctx = extractTraceContext(ctx, msg)
	ctx, span := startConsumerSpan(ctx, msg, c.tracer)
	defer span.End()

	var cb domain.Callback
	if err := json.Unmarshal(msg.Value, &cb); err != nil {
		c.metrics.IncConsumeError(ctx, msg.Topic)
		span.RecordError(err)
		c.logger.Warn(ctx, "Dropping malformed callback", "offset", msg.Offset, "err", err)
		return nil
	}
	span.SetAttributes(
		attribute.String("job_id", cb.JobID.String()),
		attribute.String("sub_task_id", cb.SubTaskID.String()),
	)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	operation := func() error {
		_, err := c.acceptor.Accept(ctx, cb)
		if err != nil && isRejection(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxAttempts), ctx))
	if err == nil {
		c.metrics.IncMessageConsumed(ctx, msg.Topic)
		return nil
	}

	c.metrics.IncConsumeError(ctx, msg.Topic)
	span.RecordError(err)
	if isRejection(err) {
		c.logger.Warn(ctx, "Callback rejected",
			"job_id", cb.JobID,
			"sub_task_id", cb.SubTaskID,
			"offset", msg.Offset,
			"err", err,
		)
		return nil
	}
	c.logger.Error(ctx, "Callback not applied, leaving for redelivery",
		"job_id", cb.JobID,
		"sub_task_id", cb.SubTaskID,
		"offset", msg.Offset,
		"err", err,
	)
	return err
}

// isRejection reports whether err is a permanent verdict on the callback
// itself rather than a failure to process it.
func isRejection(err error) bool {
	return errors.Is(err, domain.ErrInvalidCallbackToken) ||
		errors.Is(err, domain.ErrJobNotFound) ||
		errors.Is(err, domain.ErrSubTaskNotFound) ||
		errors.Is(err, domain.ErrInvalidCallbackStatus)
}
