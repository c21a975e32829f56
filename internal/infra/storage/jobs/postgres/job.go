// Package postgres provides the PostgreSQL-backed JobRepository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/conductor/internal/db"
	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/internal/infra/storage"
	"github.com/ahrav/conductor/pkg/common/uuid"
)

var _ domain.JobRepository = (*JobStore)(nil)

// JobStore implements domain.JobRepository using PostgreSQL. A job row and its
// sub-task rows are written in one transaction, guarded by the job's version
// column.
type JobStore struct {
	q      *db.Queries
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewJobStore creates a new PostgreSQL-backed job repository with tracing capabilities.
func NewJobStore(pool *pgxpool.Pool, tracer trace.Tracer) *JobStore {
	return &JobStore{
		q:      db.New(pool),
		db:     pool,
		tracer: tracer,
	}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

func dbAttrs(extra ...attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(defaultDBAttributes)+len(extra))
	attrs = append(attrs, defaultDBAttributes...)
	return append(attrs, extra...)
}

func pgUUID(id uuid.UUID) pgtype.UUID { return pgtype.UUID{Bytes: id, Valid: true} }

// CreateJob persists a new job and its sub-tasks at version 1.
func (s *JobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	attrs := dbAttrs(
		attribute.String("job_id", job.ID().String()),
		attribute.String("kind", job.Kind()),
		attribute.Int("sub_task_count", len(job.SubTasks())),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_job", attrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer tx.Rollback(ctx)

		qtx := s.q.WithTx(tx)
		snap := job.Snapshot()

		err = qtx.CreateJob(ctx, db.CreateJobParams{
			ID:            pgUUID(snap.ID),
			Kind:          snap.Kind,
			Input:         snap.Input,
			Status:        db.JobStatus(snap.Status),
			CallbackToken: snap.CallbackToken,
			ErrorMessage:  snap.ErrorMessage,
			FailureReason: string(snap.FailureReason),
			RetryCount:    int32(snap.RetryCount),
			Version:       1,
			CreatedAt:     storage.PgTimestamptz(snap.CreatedAt),
			UpdatedAt:     storage.PgTimestamptz(snap.UpdatedAt),
			StartedAt:     storage.PgTimestamptz(snap.StartedAt),
			CompletedAt:   storage.PgTimestamptz(snap.CompletedAt),
		})
		if err != nil {
			return fmt.Errorf("CreateJob insert error: %w", err)
		}

		if err := upsertSubTasks(ctx, qtx, snap.SubTasks); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit transaction error: %w", err)
		}
		job.SetVersion(1)
		return nil
	})
}

// GetJob loads a job with its sub-tasks in creation order.
func (s *JobStore) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	var job *domain.Job
	attrs := dbAttrs(attribute.String("job_id", jobID.String()))

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_job", attrs, func(ctx context.Context) error {
		row, err := s.q.GetJob(ctx, pgUUID(jobID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrJobNotFound
			}
			return fmt.Errorf("GetJob query error: %w", err)
		}

		subRows, err := s.q.ListSubTasksByJob(ctx, row.ID)
		if err != nil {
			return fmt.Errorf("ListSubTasksByJob query error: %w", err)
		}

		job = domain.ReconstructJob(jobSnapshot(row, subRows))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJob saves the job and its sub-tasks if the stored version still
// matches, bumping it by one.
func (s *JobStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	attrs := dbAttrs(
		attribute.String("job_id", job.ID().String()),
		attribute.String("status", job.Status().String()),
		attribute.Int64("version", job.Version()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_job", attrs, func(ctx context.Context) error {
		span := trace.SpanFromContext(ctx)

		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer tx.Rollback(ctx)

		qtx := s.q.WithTx(tx)
		snap := job.Snapshot()

		rowsAffected, err := qtx.UpdateJob(ctx, db.UpdateJobParams{
			ID:            pgUUID(snap.ID),
			Version:       snap.Version,
			Status:        db.JobStatus(snap.Status),
			ErrorMessage:  snap.ErrorMessage,
			FailureReason: string(snap.FailureReason),
			RetryCount:    int32(snap.RetryCount),
			UpdatedAt:     storage.PgTimestamptz(snap.UpdatedAt),
			StartedAt:     storage.PgTimestamptz(snap.StartedAt),
			CompletedAt:   storage.PgTimestamptz(snap.CompletedAt),
		})
		if err != nil {
			return fmt.Errorf("UpdateJob query error: %w", err)
		}

		if rowsAffected == 0 {
			exists, err := qtx.JobExists(ctx, pgUUID(snap.ID))
			if err != nil {
				return fmt.Errorf("JobExists query error: %w", err)
			}
			if !exists {
				return domain.ErrJobNotFound
			}
			span.AddEvent("version_conflict")
			return domain.ErrConcurrentUpdate
		}

		if err := upsertSubTasks(ctx, qtx, snap.SubTasks); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit transaction error: %w", err)
		}
		job.SetVersion(snap.Version + 1)
		return nil
	})
}

// FindExpiredJobs returns open jobs whose current attempt started before
// cutoff, oldest first.
func (s *JobStore) FindExpiredJobs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	attrs := dbAttrs(attribute.String("cutoff", cutoff.String()), attribute.Int("limit", limit))

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.find_expired_jobs", attrs, func(ctx context.Context) error {
		rows, err := s.q.FindExpiredJobs(ctx, db.FindExpiredJobsParams{
			StartedAt: storage.PgTimestamptz(cutoff),
			Limit:     queryLimit(limit),
		})
		if err != nil {
			return fmt.Errorf("FindExpiredJobs query error: %w", err)
		}

		ids = make([]uuid.UUID, 0, len(rows))
		for _, id := range rows {
			ids = append(ids, uuid.UUID(id.Bytes))
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("expired_count", len(ids)))
		return nil
	})
	return ids, err
}

// FindExpiredSubTasks returns open sub-tasks of open jobs whose deadline
// reference is before cutoff, oldest first.
func (s *JobStore) FindExpiredSubTasks(ctx context.Context, cutoff time.Time, limit int) ([]domain.SubTaskRef, error) {
	var refs []domain.SubTaskRef
	attrs := dbAttrs(attribute.String("cutoff", cutoff.String()), attribute.Int("limit", limit))

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.find_expired_sub_tasks", attrs, func(ctx context.Context) error {
		rows, err := s.q.FindExpiredSubTasks(ctx, db.FindExpiredSubTasksParams{
			Cutoff: storage.PgTimestamptz(cutoff),
			Limit:  queryLimit(limit),
		})
		if err != nil {
			return fmt.Errorf("FindExpiredSubTasks query error: %w", err)
		}

		refs = make([]domain.SubTaskRef, 0, len(rows))
		for _, r := range rows {
			refs = append(refs, domain.SubTaskRef{
				JobID:     uuid.UUID(r.JobID.Bytes),
				SubTaskID: uuid.UUID(r.ID.Bytes),
			})
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("expired_count", len(refs)))
		return nil
	})
	return refs, err
}

// DeleteJobsCompletedBefore removes terminal jobs that settled before cutoff;
// their sub-tasks go with them through the foreign key cascade.
func (s *JobStore) DeleteJobsCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	attrs := dbAttrs(attribute.String("cutoff", cutoff.String()))

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.delete_jobs_completed_before", attrs, func(ctx context.Context) error {
		var err error
		deleted, err = s.q.DeleteJobsCompletedBefore(ctx, storage.PgTimestamptz(cutoff))
		if err != nil {
			return fmt.Errorf("DeleteJobsCompletedBefore query error: %w", err)
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("deleted_count", deleted))
		return nil
	})
	return deleted, err
}

// Ping checks database connectivity.
func (s *JobStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func upsertSubTasks(ctx context.Context, q *db.Queries, subTasks []domain.SubTaskSnapshot) error {
	for i, st := range subTasks {
		err := q.UpsertSubTask(ctx, db.UpsertSubTaskParams{
			ID:            pgUUID(st.ID),
			JobID:         pgUUID(st.JobID),
			Position:      int32(i),
			ProviderID:    st.ProviderID,
			TaskType:      st.TaskType,
			Status:        db.SubTaskStatus(st.Status),
			ResultPayload: st.ResultPayload,
			ErrorMessage:  st.ErrorMessage,
			FailureReason: string(st.FailureReason),
			RetryCount:    int32(st.RetryCount),
			CreatedAt:     storage.PgTimestamptz(st.CreatedAt),
			UpdatedAt:     storage.PgTimestamptz(st.UpdatedAt),
			DispatchedAt:  storage.PgTimestamptz(st.DispatchedAt),
			CompletedAt:   storage.PgTimestamptz(st.CompletedAt),
		})
		if err != nil {
			return fmt.Errorf("UpsertSubTask error for sub-task %s: %w", st.ID, err)
		}
	}
	return nil
}

func jobSnapshot(row db.Job, subRows []db.SubTask) domain.JobSnapshot {
	snap := domain.JobSnapshot{
		ID:            uuid.UUID(row.ID.Bytes),
		Kind:          row.Kind,
		Input:         row.Input,
		Status:        domain.JobStatus(row.Status),
		CallbackToken: row.CallbackToken,
		ErrorMessage:  row.ErrorMessage,
		FailureReason: domain.ParseFailureReason(row.FailureReason),
		RetryCount:    int(row.RetryCount),
		Version:       row.Version,
		CreatedAt:     storage.TimeFromPg(row.CreatedAt),
		UpdatedAt:     storage.TimeFromPg(row.UpdatedAt),
		StartedAt:     storage.TimeFromPg(row.StartedAt),
		CompletedAt:   storage.TimeFromPg(row.CompletedAt),
		SubTasks:      make([]domain.SubTaskSnapshot, 0, len(subRows)),
	}
	for _, st := range subRows {
		snap.SubTasks = append(snap.SubTasks, domain.SubTaskSnapshot{
			ID:            uuid.UUID(st.ID.Bytes),
			JobID:         uuid.UUID(st.JobID.Bytes),
			ProviderID:    st.ProviderID,
			TaskType:      st.TaskType,
			Status:        domain.SubTaskStatus(st.Status),
			ResultPayload: st.ResultPayload,
			ErrorMessage:  st.ErrorMessage,
			FailureReason: domain.ParseFailureReason(st.FailureReason),
			RetryCount:    int(st.RetryCount),
			CreatedAt:     storage.TimeFromPg(st.CreatedAt),
			UpdatedAt:     storage.TimeFromPg(st.UpdatedAt),
			DispatchedAt:  storage.TimeFromPg(st.DispatchedAt),
			CompletedAt:   storage.TimeFromPg(st.CompletedAt),
		})
	}
	return snap
}

func queryLimit(limit int) int32 {
	if limit <= 0 || limit > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(limit)
}
