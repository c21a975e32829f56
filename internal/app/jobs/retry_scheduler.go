package jobs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/common/uuid"
)

// RetryScheduler re-dispatches the failed sub-tasks of a settled job on
// explicit request. Nothing is retried automatically.
type RetryScheduler struct {
	tracker    *stateTracker
	dispatcher *Dispatcher
	policy     domain.RetryPolicy

	metrics OrchestrationMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

func newRetryScheduler(
	tracker *stateTracker,
	dispatcher *Dispatcher,
	policy domain.RetryPolicy,
	metrics OrchestrationMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *RetryScheduler {
	return &RetryScheduler{
		tracker:    tracker,
		dispatcher: dispatcher,
		policy:     policy,
		metrics:    metrics,
		logger:     logger.With("component", "retry_scheduler"),
		tracer:     tracer,
	}
}

// Retry resets the job's failed sub-tasks to PENDING, returns the job to
// IN_PROGRESS and dispatches the reset sub-tasks again. It returns the job as
// it stands after dispatch. Rejected retries leave the job untouched.
func (r *RetryScheduler) Retry(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	logger := r.logger.With("operation", "retry", "job_id", jobID)
	ctx, span := r.tracer.Start(ctx, "retry_scheduler.retry",
		trace.WithAttributes(attribute.String("job_id", jobID.String())),
	)
	defer span.End()

	var resetIDs []uuid.UUID
	job, err := r.tracker.mutate(ctx, jobID, func(job *domain.Job, now time.Time) ([]eventDraft, error) {
		reset, err := job.Retry(r.policy, now)
		if err != nil {
			return nil, err
		}
		resetIDs = resetIDs[:0]
		for _, st := range reset {
			resetIDs = append(resetIDs, st.ID())
		}
		return nil, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retry rejected")
		return nil, err
	}
	r.metrics.IncRetries(ctx)
	span.SetAttributes(attribute.Int("reset_count", len(resetIDs)), attribute.Int("retry_count", job.RetryCount()))
	span.AddEvent("sub_tasks_reset")
	logger.Info(ctx, "Job retry accepted", "reset_count", len(resetIDs), "retry_count", job.RetryCount())

	if err := r.dispatcher.Dispatch(ctx, jobID, resetIDs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to dispatch retried sub-tasks")
		return nil, fmt.Errorf("dispatching retried sub-tasks (job_id: %s): %w", jobID, err)
	}

	job, err = r.tracker.get(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "job retried")
	return job, nil
}
