package jobs

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/conductor/internal/domain/events"
	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/common/timeutil"
	"github.com/ahrav/conductor/pkg/common/uuid"
)

// mutation changes a freshly loaded job and returns any events beyond those
// implied by the status changes it made. It may run more than once when a
// concurrent writer wins the race, so it must not have side effects outside
// the job.
type mutation func(job *domain.Job, now time.Time) ([]eventDraft, error)

// stateTracker is the single write path for jobs. Every mutation runs under a
// per-job lock: load, apply, save with an optimistic version check (retrying
// on conflict with another replica), then publish the resulting events while
// still holding the lock so subscribers observe them in mutation order.
type stateTracker struct {
	repo      domain.JobRepository
	publisher events.Publisher
	locker    *jobLocker

	maxConflictRetries uint64
	timeProvider       timeutil.Provider

	metrics OrchestrationMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

func newStateTracker(
	repo domain.JobRepository,
	publisher events.Publisher,
	timeProvider timeutil.Provider,
	metrics OrchestrationMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *stateTracker {
	return &stateTracker{
		repo:               repo,
		publisher:          publisher,
		locker:             newJobLocker(),
		maxConflictRetries: 5,
		timeProvider:       timeProvider,
		metrics:            metrics,
		logger:             logger.With("component", "job_state_tracker"),
		tracer:             tracer,
	}
}

// get returns the stored job without taking the job lock.
func (t *stateTracker) get(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	return t.repo.GetJob(ctx, jobID)
}

// mutate applies op to the job and persists and publishes the outcome. It
// returns the job as saved. Errors from op are returned unchanged and leave
// the stored job untouched.
func (t *stateTracker) mutate(ctx context.Context, jobID uuid.UUID, op mutation) (*domain.Job, error) {
	ctx, span := t.tracer.Start(ctx, "job_state_tracker.mutate",
		trace.WithAttributes(attribute.String("job_id", jobID.String())),
	)
	defer span.End()

	unlock := t.locker.lock(jobID)
	defer unlock()
	span.AddEvent("job_lock_acquired")

	var (
		job    *domain.Job
		before domain.JobSnapshot
		extras []eventDraft
		now    time.Time
		saved  bool
	)

	attempt := func() error {
		j, err := t.repo.GetJob(ctx, jobID)
		if err != nil {
			return backoff.Permanent(err)
		}

		before = j.Snapshot()
		now = t.timeProvider.Now()

		drafts, err := op(j, now)
		if err != nil {
			return backoff.Permanent(err)
		}
		job, extras, saved = j, drafts, false

		if reflect.DeepEqual(before, j.Snapshot()) {
			return nil
		}

		if err := t.repo.UpdateJob(ctx, j); err != nil {
			if errors.Is(err, domain.ErrConcurrentUpdate) {
				t.metrics.IncConflicts(ctx)
				span.AddEvent("job_update_conflict")
				return err
			}
			return backoff.Permanent(err)
		}
		saved = true
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 200 * time.Millisecond
	if err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, t.maxConflictRetries), ctx)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job mutation failed")
		return nil, err
	}

	if !saved {
		// Nothing to persist; extras (progress on a running sub-task) still go out.
		t.publish(ctx, job.ID(), extras, now)
		span.AddEvent("job_unchanged")
		return job, nil
	}

	if before.Status != job.Status() && job.Status().IsTerminal() {
		t.metrics.IncJobsSettled(ctx, job.Status().String())
	}

	t.publish(ctx, job.ID(), deriveEvents(before, job, extras), now)
	span.AddEvent("job_mutation_saved")
	span.SetStatus(codes.Ok, "job mutation saved")
	return job, nil
}

// publish sends the drafted events. The job state is already stored, so a
// failed publish is logged and not returned.
func (t *stateTracker) publish(ctx context.Context, jobID uuid.UUID, drafts []eventDraft, now time.Time) {
	for _, d := range drafts {
		evt, err := events.New(jobID, d.typ, d.payload, now)
		if err != nil {
			t.logger.Error(ctx, "Failed to build event", "job_id", jobID, "type", d.typ, "err", err)
			continue
		}
		if err := t.publisher.Publish(ctx, evt); err != nil {
			t.logger.Error(ctx, "Failed to publish event", "job_id", jobID, "type", d.typ, "err", err)
		}
	}
}
