// Package api holds pieces shared by the HTTP surface.
package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const namespace = "conductor_api"

// APIMetrics defines metrics operations needed by the HTTP API.
type APIMetrics interface {
	IncRequestsTotal(ctx context.Context, method, path string, status int)
	ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration)
	IncRequestErrors(ctx context.Context, code string)
	AddOpenStreams(ctx context.Context, delta int64)
}

type apiMetrics struct {
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestErrors   metric.Int64Counter
	openStreams     metric.Int64UpDownCounter
}

// NewAPIMetrics registers the API instruments with mp.
func NewAPIMetrics(mp metric.MeterProvider) (*apiMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(apiMetrics)
	var err error

	if m.requestsTotal, err = meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.requestErrors, err = meter.Int64Counter(
		"request_errors_total",
		metric.WithDescription("Total number of HTTP requests that ended in an error, by error code"),
	); err != nil {
		return nil, err
	}

	if m.openStreams, err = meter.Int64UpDownCounter(
		"open_event_streams",
		metric.WithDescription("Number of open server-sent event streams"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *apiMetrics) IncRequestsTotal(ctx context.Context, method, path string, status int) {
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	))
}

func (m *apiMetrics) ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration) {
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}

func (m *apiMetrics) IncRequestErrors(ctx context.Context, code string) {
	m.requestErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

func (m *apiMetrics) AddOpenStreams(ctx context.Context, delta int64) {
	m.openStreams.Add(ctx, delta)
}
