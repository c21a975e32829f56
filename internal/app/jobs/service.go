// Package jobs implements the job orchestration use cases: creating and
// dispatching jobs, accepting worker callbacks, retrying, cancelling, timing
// out and streaming job events.
package jobs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/conductor/internal/domain/events"
	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/common/timeutil"
	"github.com/ahrav/conductor/pkg/common/uuid"
)

// Config gathers the tunables of the orchestration service.
type Config struct {
	Dispatcher DispatcherConfig
	Sweeper    SweeperConfig
	Retry      domain.RetryPolicy
}

// CreateJobRequest describes a job to create.
type CreateJobRequest struct {
	Kind  string
	Input json.RawMessage
	// Providers optionally names the providers to fan out to. When empty every
	// provider serving Kind is used.
	Providers []string
}

// Service is the entry point for every job use case. All job mutations go
// through its components, which share one state tracker and therefore one
// per-job lock.
type Service struct {
	repo     domain.JobRepository
	registry *domain.ProviderRegistry
	broker   events.Broker

	tracker    *stateTracker
	dispatcher *Dispatcher
	gateway    *CallbackGateway
	retrier    *RetryScheduler
	sweeper    *TimeoutSweeper

	timeProvider timeutil.Provider

	metrics OrchestrationMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewService wires the orchestration components together.
func NewService(
	cfg Config,
	repo domain.JobRepository,
	registry *domain.ProviderRegistry,
	sender domain.WorkSender,
	broker events.Broker,
	timeProvider timeutil.Provider,
	metrics OrchestrationMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Service {
	if timeProvider == nil {
		timeProvider = timeutil.Default()
	}

	tracker := newStateTracker(repo, broker, timeProvider, metrics, logger, tracer)
	dispatcher := newDispatcher(tracker, sender, registry, cfg.Dispatcher, metrics, logger, tracer)

	return &Service{
		repo:         repo,
		registry:     registry,
		broker:       broker,
		tracker:      tracker,
		dispatcher:   dispatcher,
		gateway:      newCallbackGateway(tracker, metrics, logger, tracer),
		retrier:      newRetryScheduler(tracker, dispatcher, cfg.Retry, metrics, logger, tracer),
		sweeper:      newTimeoutSweeper(repo, tracker, cfg.Sweeper, timeProvider, metrics, logger, tracer),
		timeProvider: timeProvider,
		metrics:      metrics,
		logger:       logger.With("component", "job_service"),
		tracer:       tracer,
	}
}

// CallbackGateway returns the gateway shared by every callback transport.
func (s *Service) CallbackGateway() *CallbackGateway { return s.gateway }

// Sweeper returns the timeout sweeper so the caller can start it and feed it
// leadership changes.
func (s *Service) Sweeper() *TimeoutSweeper { return s.sweeper }

// CreateJob stores a new job with one sub-task per selected provider and
// dispatches it. Dispatch outcomes are recorded on the job, so only request
// errors and storage failures are returned. The returned job is the accepted
// PENDING job; its dispatch results are visible through GetJob.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*domain.Job, error) {
	logger := s.logger.With("operation", "create_job", "kind", req.Kind)
	ctx, span := s.tracer.Start(ctx, "job_service.create_job",
		trace.WithAttributes(attribute.String("kind", req.Kind)),
	)
	defer span.End()

	providers, err := s.registry.Select(req.Kind, req.Providers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to select providers")
		return nil, err
	}

	token, err := newCallbackToken()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to generate callback token")
		return nil, fmt.Errorf("generating callback token: %w", err)
	}

	now := s.timeProvider.Now()
	job := domain.NewJob(req.Kind, req.Input, token, now)
	subTaskIDs := make([]uuid.UUID, 0, len(providers))
	for _, p := range providers {
		st, err := job.AddSubTask(p.ID, p.TaskType, now)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		subTaskIDs = append(subTaskIDs, st.ID())
	}
	accepted := job.Clone()

	if err := s.repo.CreateJob(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to store job")
		return nil, fmt.Errorf("storing job: %w", err)
	}
	s.metrics.IncJobsCreated(ctx, req.Kind)
	span.SetAttributes(
		attribute.String("job_id", job.ID().String()),
		attribute.Int("sub_task_count", len(subTaskIDs)),
	)
	span.AddEvent("job_created")
	logger.Info(ctx, "Job created", "job_id", job.ID(), "sub_task_count", len(subTaskIDs))

	// The job is stored and may already be running, so the caller still gets
	// its ID. Sub-tasks whose outcome went unrecorded are settled by the sweeper.
	if err := s.dispatcher.Dispatch(ctx, job.ID(), subTaskIDs); err != nil {
		span.RecordError(err)
		logger.Error(ctx, "Failed to record dispatch outcome", "job_id", job.ID(), "err", err)
	}

	span.SetStatus(codes.Ok, "job created")
	return accepted, nil
}

// GetJob returns the current state of a job.
func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	ctx, span := s.tracer.Start(ctx, "job_service.get_job",
		trace.WithAttributes(attribute.String("job_id", jobID.String())),
	)
	defer span.End()

	job, err := s.tracker.get(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return job, nil
}

// CancelJob cancels an open job and its open sub-tasks. Cancelling an already
// cancelled job returns it unchanged; any other settled job is rejected.
func (s *Service) CancelJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	logger := s.logger.With("operation", "cancel_job", "job_id", jobID)
	ctx, span := s.tracer.Start(ctx, "job_service.cancel_job",
		trace.WithAttributes(attribute.String("job_id", jobID.String())),
	)
	defer span.End()

	job, err := s.tracker.mutate(ctx, jobID, func(job *domain.Job, now time.Time) ([]eventDraft, error) {
		_, err := job.Cancel(now)
		return nil, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel rejected")
		return nil, err
	}

	span.SetStatus(codes.Ok, "job cancelled")
	logger.Info(ctx, "Job cancelled")
	return job, nil
}

// RetryJob re-dispatches the failed sub-tasks of a settled job.
func (s *Service) RetryJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	return s.retrier.Retry(ctx, jobID)
}

// AcceptCallback applies a worker callback.
func (s *Service) AcceptCallback(ctx context.Context, cb domain.Callback) (domain.CallbackOutcome, error) {
	return s.gateway.Accept(ctx, cb)
}

// StreamJob opens an event stream for a job. A job that has already settled
// yields exactly one terminal event and then closes.
func (s *Service) StreamJob(ctx context.Context, jobID uuid.UUID) (events.Subscription, error) {
	ctx, span := s.tracer.Start(ctx, "job_service.stream_job",
		trace.WithAttributes(attribute.String("job_id", jobID.String())),
	)
	defer span.End()

	// Subscribe before reading the job so a transition in between is
	// delivered live rather than lost.
	sub, err := s.broker.Subscribe(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to subscribe")
		return nil, fmt.Errorf("subscribing to job events (job_id: %s): %w", jobID, err)
	}

	job, err := s.tracker.get(ctx, jobID)
	if err != nil {
		sub.Close()
		span.RecordError(err)
		return nil, err
	}

	if !job.Status().IsTerminal() {
		span.AddEvent("live_stream_opened")
		return sub, nil
	}

	sub.Close()
	evt, err := TerminalEvent(job)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.AddEvent("terminal_replay")
	return newFinishedSubscription(evt), nil
}

// finishedSubscription replays a single terminal event for a settled job.
type finishedSubscription struct{ ch chan events.Event }

var _ events.Subscription = (*finishedSubscription)(nil)

func newFinishedSubscription(evt events.Event) *finishedSubscription {
	ch := make(chan events.Event, 1)
	ch <- evt
	close(ch)
	return &finishedSubscription{ch: ch}
}

func (f *finishedSubscription) Events() <-chan events.Event { return f.ch }
func (f *finishedSubscription) Close()                      {}

// newCallbackToken returns a random hex token shared by the sub-tasks of a
// job.
func newCallbackToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
