// Package webhook delivers work requests to providers that accept them over
// HTTP.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common"
	"github.com/ahrav/conductor/pkg/common/logger"
)

// Config tunes webhook delivery.
type Config struct {
	// MaxRetries bounds redelivery of a request that failed transiently.
	MaxRetries uint64
	// InitialBackoff is the first wait between deliveries.
	InitialBackoff time.Duration
}

var _ domain.WorkSender = (*Sender)(nil)

// Sender POSTs work requests as JSON to provider.Target. Connection errors and
// 5xx/429 responses are retried with exponential backoff; other 4xx responses
// fail immediately. Each provider is throttled to its RateLimit.
type Sender struct {
	client   *http.Client
	limiters *common.KeyedRateLimiter
	cfg      Config

	logger *logger.Logger
	tracer trace.Tracer
}

// NewSender creates a Sender. A nil client gets a default one with
// OpenTelemetry instrumentation.
func NewSender(client *http.Client, cfg Config, logger *logger.Logger, tracer trace.Tracer) *Sender {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	return &Sender{
		client:   client,
		limiters: common.NewKeyedRateLimiter(),
		cfg:      cfg,
		logger:   logger.With("component", "webhook_work_sender"),
		tracer:   tracer,
	}
}

// Send delivers req to the provider's endpoint.
func (s *Sender) Send(ctx context.Context, provider domain.Provider, req domain.WorkRequest) error {
	ctx, span := s.tracer.Start(ctx, "webhook.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider_id", provider.ID),
			attribute.String("job_id", req.JobID.String()),
			attribute.String("sub_task_id", req.SubTaskID.String()),
		),
	)
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("marshal work request: %w", err)
	}

	if err := s.limiters.Wait(ctx, provider.ID, provider.RateLimit, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limiter wait aborted")
		return fmt.Errorf("waiting for provider %s rate limit: %w", provider.ID, err)
	}

	var attempts int
	operation := func() error {
		attempts++
		return s.post(ctx, provider.Target, body)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialBackoff
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, s.cfg.MaxRetries), ctx)); err != nil {
		span.SetAttributes(attribute.Int("attempts", attempts))
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook delivery failed")
		return err
	}

	span.SetAttributes(attribute.Int("attempts", attempts))
	span.SetStatus(codes.Ok, "webhook delivered")
	s.logger.Debug(ctx, "Delivered work request",
		"provider_id", provider.ID,
		"job_id", req.JobID,
		"sub_task_id", req.SubTaskID,
		"attempts", attempts,
	)
	return nil
}

func (s *Sender) post(ctx context.Context, url string, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	default:
		return backoff.Permanent(fmt.Errorf("webhook returned %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}
}
