package jobs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/common/uuid"
)

// DispatcherConfig tunes how work requests are sent.
type DispatcherConfig struct {
	// CallbackURL is embedded in every work request.
	CallbackURL string
	// SendTimeout bounds one send, including transport retries.
	SendTimeout time.Duration
	// MaxConcurrentSends bounds parallel sends for one job.
	MaxConcurrentSends int
}

// Dispatcher sends one work request per sub-task to its provider. Sends for a
// job run concurrently; each outcome is recorded on its own sub-task so a
// failed send never affects siblings. The first successful send moves the job
// to IN_PROGRESS, and a job with no successful send fails.
type Dispatcher struct {
	tracker  *stateTracker
	sender   domain.WorkSender
	registry *domain.ProviderRegistry
	cfg      DispatcherConfig

	metrics OrchestrationMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

func newDispatcher(
	tracker *stateTracker,
	sender domain.WorkSender,
	registry *domain.ProviderRegistry,
	cfg DispatcherConfig,
	metrics OrchestrationMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.MaxConcurrentSends <= 0 {
		cfg.MaxConcurrentSends = 8
	}
	return &Dispatcher{
		tracker:  tracker,
		sender:   sender,
		registry: registry,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With("component", "task_dispatcher"),
		tracer:   tracer,
	}
}

// Dispatch sends the work requests for the given sub-tasks of jobID and
// records the outcome of each. It returns once every send has finished. The
// sends are detached from ctx cancellation so a disconnecting client cannot
// abandon a half-dispatched job.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID uuid.UUID, subTaskIDs []uuid.UUID) error {
	logger := d.logger.With("operation", "dispatch", "job_id", jobID)
	ctx, span := d.tracer.Start(ctx, "task_dispatcher.dispatch",
		trace.WithAttributes(
			attribute.String("job_id", jobID.String()),
			attribute.Int("sub_task_count", len(subTaskIDs)),
		),
	)
	defer span.End()

	job, err := d.tracker.get(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load job")
		return fmt.Errorf("loading job for dispatch (job_id: %s): %w", jobID, err)
	}

	sendCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(d.cfg.MaxConcurrentSends)
	for _, id := range subTaskIDs {
		st, ok := job.SubTask(id)
		if !ok {
			logger.Warn(ctx, "Sub-task vanished before dispatch", "sub_task_id", id)
			continue
		}
		req := domain.NewWorkRequest(job, st, d.cfg.CallbackURL)

		g.Go(func() error {
			return d.sendOne(sendCtx, req)
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to record dispatch outcome")
		return err
	}

	span.AddEvent("dispatch_complete")
	span.SetStatus(codes.Ok, "dispatch complete")
	logger.Debug(ctx, "Dispatch complete", "sub_task_count", len(subTaskIDs))
	return nil
}

// sendOne delivers one work request and records the result on its sub-task.
// Only failures to record the result are returned.
func (d *Dispatcher) sendOne(ctx context.Context, req domain.WorkRequest) error {
	lc := logger.NewLoggerContext(d.logger.With("operation", "send_work_request"))
	lc.Add("job_id", req.JobID, "sub_task_id", req.SubTaskID, "provider_id", req.ProviderID, "attempt", req.Attempt)

	ctx, span := d.tracer.Start(ctx, "task_dispatcher.send",
		trace.WithAttributes(
			attribute.String("job_id", req.JobID.String()),
			attribute.String("sub_task_id", req.SubTaskID.String()),
			attribute.String("provider_id", req.ProviderID),
			attribute.Int("attempt", req.Attempt),
		),
	)
	defer span.End()

	sendErr := d.send(ctx, req)

	var op mutation
	if sendErr == nil {
		d.metrics.IncSubTasksDispatched(ctx, req.ProviderID)
		span.AddEvent("work_request_sent")
		op = func(job *domain.Job, now time.Time) ([]eventDraft, error) {
			if err := job.MarkDispatched(req.SubTaskID, now); err != nil {
				return nil, err
			}
			job.MarkInProgress(now)
			return nil, nil
		}
	} else {
		reason := domain.ClassifyError(sendErr)
		d.metrics.IncDispatchFailures(ctx, req.ProviderID, reason.String())
		span.RecordError(sendErr)
		lc.Warn(ctx, "Failed to send work request", "err", sendErr, "reason", reason)
		op = func(job *domain.Job, now time.Time) ([]eventDraft, error) {
			if err := job.FailDispatch(req.SubTaskID, sendErr, now); err != nil {
				return nil, err
			}
			job.Reconcile(now)
			return nil, nil
		}
	}

	if _, err := d.tracker.mutate(ctx, req.JobID, op); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to record dispatch outcome")
		lc.Error(ctx, "Failed to record dispatch outcome", "err", err)
		return fmt.Errorf("recording dispatch outcome (sub_task_id: %s): %w", req.SubTaskID, err)
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, req domain.WorkRequest) error {
	provider, ok := d.registry.Get(req.ProviderID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownProvider, req.ProviderID)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	return d.sender.Send(ctx, provider, req)
}
