package jobs

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OrchestrationMetrics defines the metrics recorded by the job services.
type OrchestrationMetrics interface {
	IncJobsCreated(ctx context.Context, kind string)
	IncJobsSettled(ctx context.Context, status string)
	IncSubTasksDispatched(ctx context.Context, providerID string)
	IncDispatchFailures(ctx context.Context, providerID, reason string)
	IncCallbacks(ctx context.Context, outcome string)
	IncSubTaskTimeouts(ctx context.Context)
	IncJobTimeouts(ctx context.Context)
	IncRetries(ctx context.Context)
	IncConflicts(ctx context.Context)
	AddJobsDeleted(ctx context.Context, n int64)
}

type orchestrationMetrics struct {
	jobsCreated        metric.Int64Counter
	jobsSettled        metric.Int64Counter
	subTasksDispatched metric.Int64Counter
	dispatchFailures   metric.Int64Counter
	callbacks          metric.Int64Counter
	subTaskTimeouts    metric.Int64Counter
	jobTimeouts        metric.Int64Counter
	retries            metric.Int64Counter
	conflicts          metric.Int64Counter
	jobsDeleted        metric.Int64Counter
}

const namespace = "conductor"

// NewOrchestrationMetrics registers the orchestration instruments on mp.
func NewOrchestrationMetrics(mp metric.MeterProvider) (*orchestrationMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(orchestrationMetrics)
	var err error

	if m.jobsCreated, err = meter.Int64Counter(
		"jobs_created_total",
		metric.WithDescription("Total number of jobs accepted"),
	); err != nil {
		return nil, err
	}

	if m.jobsSettled, err = meter.Int64Counter(
		"jobs_settled_total",
		metric.WithDescription("Total number of jobs reaching a terminal status"),
	); err != nil {
		return nil, err
	}

	if m.subTasksDispatched, err = meter.Int64Counter(
		"subtasks_dispatched_total",
		metric.WithDescription("Total number of work requests delivered to providers"),
	); err != nil {
		return nil, err
	}

	if m.dispatchFailures, err = meter.Int64Counter(
		"dispatch_failures_total",
		metric.WithDescription("Total number of work requests that could not be delivered"),
	); err != nil {
		return nil, err
	}

	if m.callbacks, err = meter.Int64Counter(
		"callbacks_total",
		metric.WithDescription("Total number of worker callbacks by outcome"),
	); err != nil {
		return nil, err
	}

	if m.subTaskTimeouts, err = meter.Int64Counter(
		"subtask_timeouts_total",
		metric.WithDescription("Total number of sub-tasks timed out by the sweeper"),
	); err != nil {
		return nil, err
	}

	if m.jobTimeouts, err = meter.Int64Counter(
		"job_timeouts_total",
		metric.WithDescription("Total number of jobs timed out by the sweeper"),
	); err != nil {
		return nil, err
	}

	if m.retries, err = meter.Int64Counter(
		"job_retries_total",
		metric.WithDescription("Total number of accepted job retries"),
	); err != nil {
		return nil, err
	}

	if m.conflicts, err = meter.Int64Counter(
		"job_update_conflicts_total",
		metric.WithDescription("Total number of optimistic concurrency conflicts on job updates"),
	); err != nil {
		return nil, err
	}

	if m.jobsDeleted, err = meter.Int64Counter(
		"jobs_deleted_total",
		metric.WithDescription("Total number of terminal jobs removed by the retention sweep"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *orchestrationMetrics) IncJobsCreated(ctx context.Context, kind string) {
	m.jobsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *orchestrationMetrics) IncJobsSettled(ctx context.Context, status string) {
	m.jobsSettled.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *orchestrationMetrics) IncSubTasksDispatched(ctx context.Context, providerID string) {
	m.subTasksDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("provider_id", providerID)))
}

func (m *orchestrationMetrics) IncDispatchFailures(ctx context.Context, providerID, reason string) {
	m.dispatchFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider_id", providerID),
		attribute.String("reason", reason),
	))
}

func (m *orchestrationMetrics) IncCallbacks(ctx context.Context, outcome string) {
	m.callbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *orchestrationMetrics) IncSubTaskTimeouts(ctx context.Context) { m.subTaskTimeouts.Add(ctx, 1) }
func (m *orchestrationMetrics) IncJobTimeouts(ctx context.Context)     { m.jobTimeouts.Add(ctx, 1) }
func (m *orchestrationMetrics) IncRetries(ctx context.Context)         { m.retries.Add(ctx, 1) }
func (m *orchestrationMetrics) IncConflicts(ctx context.Context)       { m.conflicts.Add(ctx, 1) }

func (m *orchestrationMetrics) AddJobsDeleted(ctx context.Context, n int64) {
	m.jobsDeleted.Add(ctx, n)
}
