package jobs

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/conductor/internal/domain/events"
	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/logger"
)

// CallbackGateway accepts worker callbacks from any transport and applies
// them to their sub-task. Duplicate and stale callbacks are accepted without
// change; only authentication, unknown ids and malformed statuses are
// rejected.
type CallbackGateway struct {
	tracker *stateTracker

	metrics OrchestrationMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

func newCallbackGateway(
	tracker *stateTracker,
	metrics OrchestrationMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *CallbackGateway {
	return &CallbackGateway{
		tracker: tracker,
		metrics: metrics,
		logger:  logger.With("component", "callback_gateway"),
		tracer:  tracer,
	}
}

// Accept applies cb to its job. The returned outcome is only meaningful when
// err is nil.
func (g *CallbackGateway) Accept(ctx context.Context, cb domain.Callback) (domain.CallbackOutcome, error) {
	logger := g.logger.With(
		"operation", "accept",
		"job_id", cb.JobID,
		"sub_task_id", cb.SubTaskID,
		"provider_id", cb.ProviderID,
		"status", cb.Status,
	)
	ctx, span := g.tracer.Start(ctx, "callback_gateway.accept",
		trace.WithAttributes(
			attribute.String("job_id", cb.JobID.String()),
			attribute.String("sub_task_id", cb.SubTaskID.String()),
			attribute.String("provider_id", cb.ProviderID),
			attribute.String("status", cb.Status.String()),
		),
	)
	defer span.End()

	var outcome domain.CallbackOutcome
	_, err := g.tracker.mutate(ctx, cb.JobID, func(job *domain.Job, now time.Time) ([]eventDraft, error) {
		o, err := job.ApplyCallback(cb, now)
		if err != nil {
			return nil, err
		}
		outcome = o
		return callbackExtras(cb, o), nil
	})
	if err != nil {
		g.metrics.IncCallbacks(ctx, "rejected")
		span.RecordError(err)
		span.SetStatus(codes.Error, "callback rejected")
		if isClientError(err) {
			logger.Warn(ctx, "Callback rejected", "err", err)
		} else {
			logger.Error(ctx, "Failed to apply callback", "err", err)
		}
		return 0, err
	}

	g.metrics.IncCallbacks(ctx, outcome.String())
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	span.SetStatus(codes.Ok, "callback accepted")
	logger.Debug(ctx, "Callback accepted", "outcome", outcome)
	return outcome, nil
}

// callbackExtras returns the progress and evidence events a callback carries
// in addition to the status change it caused.
func callbackExtras(cb domain.Callback, outcome domain.CallbackOutcome) []eventDraft {
	if outcome != domain.CallbackApplied && outcome != domain.CallbackProgress {
		return nil
	}

	var out []eventDraft
	if cb.Status == domain.SubTaskStatusInProgress {
		out = append(out, eventDraft{typ: events.EventProgress, payload: progressPayload{
			SubTaskID:  cb.SubTaskID.String(),
			ProviderID: cb.ProviderID,
			Payload:    cb.ResultPayload,
		}})
	}
	for _, item := range cb.Items {
		out = append(out, eventDraft{typ: events.EventEvidence, payload: evidencePayload{
			SubTaskID:  cb.SubTaskID.String(),
			ProviderID: cb.ProviderID,
			Item:       item,
		}})
	}
	return out
}

func isClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidCallbackToken) ||
		errors.Is(err, domain.ErrJobNotFound) ||
		errors.Is(err, domain.ErrSubTaskNotFound) ||
		errors.Is(err, domain.ErrInvalidCallbackStatus)
}
