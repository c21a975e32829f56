package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/common/timeutil"
	"github.com/ahrav/conductor/pkg/common/uuid"
)

// SweeperConfig holds the deadlines enforced by the TimeoutSweeper.
type SweeperConfig struct {
	Interval        time.Duration
	JobDeadline     time.Duration
	SubTaskDeadline time.Duration
	// Retention is how long settled jobs are kept; zero keeps them forever.
	Retention time.Duration
	BatchSize int
}

// SweepResult summarises one sweep.
type SweepResult struct {
	SubTasksTimedOut int
	JobsTimedOut     int
	JobsDeleted      int64
}

// TimeoutSweeper periodically times out sub-tasks and jobs stuck in an open
// state past their deadline, and removes settled jobs past retention. Only
// the leader sweeps; followers skip their ticks.
type TimeoutSweeper struct {
	repo    domain.JobRepository
	tracker *stateTracker
	cfg     SweeperConfig

	leader atomic.Bool
	cancel context.CancelCauseFunc
	done   chan struct{}

	timeProvider timeutil.Provider

	metrics OrchestrationMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

func newTimeoutSweeper(
	repo domain.JobRepository,
	tracker *stateTracker,
	cfg SweeperConfig,
	timeProvider timeutil.Provider,
	metrics OrchestrationMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *TimeoutSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &TimeoutSweeper{
		repo:         repo,
		tracker:      tracker,
		cfg:          cfg,
		timeProvider: timeProvider,
		metrics:      metrics,
		logger:       logger.With("component", "timeout_sweeper"),
		tracer:       tracer,
	}
}

// SetLeader records whether this instance currently holds leadership. It is
// meant to be registered as a leadership change callback.
func (s *TimeoutSweeper) SetLeader(isLeader bool) {
	s.leader.Store(isLeader)
	s.logger.Info(context.Background(), "Sweeper leadership changed", "is_leader", isLeader)
}

// IsLeader reports whether this instance sweeps.
func (s *TimeoutSweeper) IsLeader() bool { return s.leader.Load() }

// Start launches the sweep loop. It returns immediately.
func (s *TimeoutSweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancelCause(ctx)
	s.done = make(chan struct{})

	s.logger.Info(ctx, "Starting timeout sweeper",
		"interval", s.cfg.Interval,
		"job_deadline", s.cfg.JobDeadline,
		"sub_task_deadline", s.cfg.SubTaskDeadline,
		"retention", s.cfg.Retention,
	)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !s.IsLeader() {
					continue
				}
				if _, err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error(ctx, "Sweep failed", "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the sweep loop and waits for an in-flight sweep to finish.
func (s *TimeoutSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel(errors.New("timeout sweeper stopped"))
	<-s.done
}

// SweepOnce runs one sweep: open sub-tasks past the sub-task deadline become
// TIMEOUT, open jobs past the job deadline become TIMEOUT, then settled jobs
// past retention are deleted. Errors on individual items are logged and the
// sweep continues; only repository scan failures are returned.
func (s *TimeoutSweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "timeout_sweeper.sweep")
	defer span.End()

	var res SweepResult
	now := s.timeProvider.Now()

	if s.cfg.SubTaskDeadline > 0 {
		n, err := s.sweepSubTasks(ctx, now.Add(-s.cfg.SubTaskDeadline))
		res.SubTasksTimedOut = n
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sub-task sweep failed")
			return res, err
		}
	}

	if s.cfg.JobDeadline > 0 {
		n, err := s.sweepJobs(ctx, now.Add(-s.cfg.JobDeadline))
		res.JobsTimedOut = n
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "job sweep failed")
			return res, err
		}
	}

	if s.cfg.Retention > 0 {
		deleted, err := s.repo.DeleteJobsCompletedBefore(ctx, now.Add(-s.cfg.Retention))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "retention sweep failed")
			return res, err
		}
		res.JobsDeleted = deleted
		if deleted > 0 {
			s.metrics.AddJobsDeleted(ctx, deleted)
		}
	}

	span.SetAttributes(
		attribute.Int("sub_tasks_timed_out", res.SubTasksTimedOut),
		attribute.Int("jobs_timed_out", res.JobsTimedOut),
		attribute.Int64("jobs_deleted", res.JobsDeleted),
	)
	span.SetStatus(codes.Ok, "sweep complete")
	if res != (SweepResult{}) {
		s.logger.Info(ctx, "Sweep complete",
			"sub_tasks_timed_out", res.SubTasksTimedOut,
			"jobs_timed_out", res.JobsTimedOut,
			"jobs_deleted", res.JobsDeleted,
		)
	}
	return res, nil
}

func (s *TimeoutSweeper) sweepSubTasks(ctx context.Context, cutoff time.Time) (int, error) {
	refs, err := s.repo.FindExpiredSubTasks(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var count int
	for _, ref := range refs {
		lc := logger.NewLoggerContext(s.logger.With("operation", "timeout_sub_task"))
		lc.Add("job_id", ref.JobID, "sub_task_id", ref.SubTaskID)

		var changed bool
		_, err := s.tracker.mutate(ctx, ref.JobID, func(job *domain.Job, now time.Time) ([]eventDraft, error) {
			st, ok := job.SubTask(ref.SubTaskID)
			// The sub-task may have been answered or reset since the scan.
			if !ok || st.DeadlineFrom().After(cutoff) {
				changed = false
				return nil, nil
			}
			c, err := job.TimeOutSubTask(ref.SubTaskID, now)
			changed = c
			return nil, err
		})
		if err != nil {
			lc.Error(ctx, "Failed to time out sub-task", "err", err)
			continue
		}
		if changed {
			count++
			s.metrics.IncSubTaskTimeouts(ctx)
			lc.Info(ctx, "Sub-task timed out")
		}
	}
	return count, nil
}

func (s *TimeoutSweeper) sweepJobs(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.repo.FindExpiredJobs(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var count int
	for _, id := range ids {
		if s.timeOutJob(ctx, id, cutoff) {
			count++
		}
	}
	return count, nil
}

func (s *TimeoutSweeper) timeOutJob(ctx context.Context, jobID uuid.UUID, cutoff time.Time) bool {
	var changed bool
	_, err := s.tracker.mutate(ctx, jobID, func(job *domain.Job, now time.Time) ([]eventDraft, error) {
		// A retry since the scan restarts the deadline.
		if job.StartedAt().After(cutoff) {
			changed = false
			return nil, nil
		}
		changed = job.TimeOut(now)
		return nil, nil
	})
	if err != nil {
		s.logger.Error(ctx, "Failed to time out job", "job_id", jobID, "err", err)
		return false
	}
	if changed {
		s.metrics.IncJobTimeouts(ctx)
		s.logger.Info(ctx, "Job timed out", "job_id", jobID)
	}
	return changed
}
