package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/logger"
)

var _ domain.WorkSender = (*WorkSender)(nil)

// WorkSender publishes work requests to the provider's topic, keyed by job id
// so every sub-task of a job lands on the same partition.
type WorkSender struct {
	producer sarama.SyncProducer

	metrics Metrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewWorkSender creates a WorkSender on producer.
func NewWorkSender(producer sarama.SyncProducer, metrics Metrics, logger *logger.Logger, tracer trace.Tracer) *WorkSender {
	return &WorkSender{
		producer: producer,
		metrics:  metrics,
		logger:   logger.With("component", "kafka_work_sender"),
		tracer:   tracer,
	}
}

// Send publishes req to provider.Target.
func (s *WorkSender) Send(ctx context.Context, provider domain.Provider, req domain.WorkRequest) error {
	topic := provider.Target
	ctx, span := startProducerSpan(ctx, topic, s.tracer)
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", req.JobID.String()),
		attribute.String("sub_task_id", req.SubTaskID.String()),
		attribute.String("provider_id", provider.ID),
	)

	value, err := json.Marshal(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal work request")
		return fmt.Errorf("marshal work request: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(req.JobID.String()), // Used for partition routing
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("task-type"), Value: []byte(req.TaskType)},
			{Key: []byte("attempt"), Value: []byte(strconv.Itoa(req.Attempt))},
		},
	}
	injectTraceContext(ctx, msg)

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		s.metrics.IncPublishError(ctx, topic)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send work request")
		return fmt.Errorf("failed to send work request to kafka topic %s: %w", topic, err)
	}

	s.metrics.IncMessagePublished(ctx, topic)
	span.SetStatus(codes.Ok, "work request sent")
	s.logger.Debug(ctx, "Published work request",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"job_id", req.JobID,
		"sub_task_id", req.SubTaskID,
	)
	return nil
}
