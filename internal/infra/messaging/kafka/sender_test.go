package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/common/uuid"
)

func testMetrics(t *testing.T) Metrics {
	t.Helper()
	m, err := NewMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)
	return m
}

func TestWorkSender_Send(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	req := domain.WorkRequest{
		JobID:         uuid.New(),
		SubTaskID:     uuid.New(),
		ProviderID:    "gamma",
		Kind:          "search",
		TaskType:      "web-search",
		CallbackURL:   "http://conductor/v1/callbacks",
		CallbackToken: "tok",
		Attempt:       2,
	}

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "gamma-work" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != req.JobID.String() {
			return errors.New("message not keyed by job id")
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var got domain.WorkRequest
		if err := json.Unmarshal(value, &got); err != nil {
			return err
		}
		if got.SubTaskID != req.SubTaskID || got.Attempt != req.Attempt || got.CallbackToken != req.CallbackToken {
			return errors.New("work request mismatch")
		}
		return nil
	})

	sender := NewWorkSender(producer, testMetrics(t), logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	err := sender.Send(context.Background(), domain.Provider{ID: "gamma", Target: "gamma-work"}, req)
	assert.NoError(t, err)
}

func TestWorkSender_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()
	producer.ExpectSendMessageAndFail(sarama.ErrLeaderNotAvailable)

	sender := NewWorkSender(producer, testMetrics(t), logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	err := sender.Send(context.Background(), domain.Provider{ID: "gamma", Target: "gamma-work"}, domain.WorkRequest{JobID: uuid.New()})
	assert.ErrorIs(t, err, sarama.ErrLeaderNotAvailable)
}
