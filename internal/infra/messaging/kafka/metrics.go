package kafka

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics tracks successful and failed Kafka message handling.
type Metrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
}

type metrics struct {
	published     metric.Int64Counter
	consumed      metric.Int64Counter
	publishErrors metric.Int64Counter
	consumeErrors metric.Int64Counter
}

// NewMetrics registers the Kafka instruments on mp.
func NewMetrics(mp metric.MeterProvider) (Metrics, error) {
	meter := mp.Meter("conductor", metric.WithInstrumentationVersion("v0.1.0"))

	m := new(metrics)
	var err error

	if m.published, err = meter.Int64Counter(
		"kafka_messages_published_total",
		metric.WithDescription("Total number of messages published to Kafka"),
	); err != nil {
		return nil, err
	}

	if m.consumed, err = meter.Int64Counter(
		"kafka_messages_consumed_total",
		metric.WithDescription("Total number of messages consumed from Kafka"),
	); err != nil {
		return nil, err
	}

	if m.publishErrors, err = meter.Int64Counter(
		"kafka_publish_errors_total",
		metric.WithDescription("Total number of failed Kafka publishes"),
	); err != nil {
		return nil, err
	}

	if m.consumeErrors, err = meter.Int64Counter(
		"kafka_consume_errors_total",
		metric.WithDescription("Total number of Kafka messages that could not be handled"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func topicAttr(topic string) metric.AddOption {
	return metric.WithAttributes(attribute.String("topic", topic))
}

func (m *metrics) IncMessagePublished(ctx context.Context, topic string) {
	m.published.Add(ctx, 1, topicAttr(topic))
}

func (m *metrics) IncMessageConsumed(ctx context.Context, topic string) {
	m.consumed.Add(ctx, 1, topicAttr(topic))
}

func (m *metrics) IncPublishError(ctx context.Context, topic string) {
	m.publishErrors.Add(ctx, 1, topicAttr(topic))
}

func (m *metrics) IncConsumeError(ctx context.Context, topic string) {
	m.consumeErrors.Add(ctx, 1, topicAttr(topic))
}
