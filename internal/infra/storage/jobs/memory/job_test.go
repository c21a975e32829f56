package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/uuid"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newJob(t *testing.T, now time.Time, providers ...string) *domain.Job {
	t.Helper()
	job := domain.NewJob("search", json.RawMessage(`{"q":"x"}`), "tok", now)
	for _, p := range providers {
		_, err := job.AddSubTask(p, p, now)
		require.NoError(t, err)
	}
	return job
}

func TestJobStore_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()
	job := newJob(t, t0, "alpha", "beta")

	require.NoError(t, store.CreateJob(ctx, job))
	assert.Equal(t, int64(1), job.Version())

	loaded, err := store.GetJob(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, job.Snapshot(), loaded.Snapshot())

	// Mutating the loaded copy does not leak into the store.
	require.NoError(t, loaded.MarkDispatched(loaded.SubTasks()[0].ID(), t0.Add(time.Second)))
	again, err := store.GetJob(ctx, job.ID())
	require.NoError(t, err)
	assert.True(t, again.SubTasks()[0].DispatchedAt().IsZero())

	require.NoError(t, store.UpdateJob(ctx, loaded))
	assert.Equal(t, int64(2), loaded.Version())

	again, err = store.GetJob(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Second), again.SubTasks()[0].DispatchedAt())
}

func TestJobStore_GetMissing(t *testing.T) {
	_, err := NewJobStore().GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobStore_UpdateConflict(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()
	job := newJob(t, t0, "alpha")
	require.NoError(t, store.CreateJob(ctx, job))

	first, err := store.GetJob(ctx, job.ID())
	require.NoError(t, err)
	second, err := store.GetJob(ctx, job.ID())
	require.NoError(t, err)

	require.NoError(t, store.UpdateJob(ctx, first))
	assert.ErrorIs(t, store.UpdateJob(ctx, second), domain.ErrConcurrentUpdate)
}

func TestJobStore_FindExpired(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()

	old := newJob(t, t0, "alpha")
	fresh := newJob(t, t0.Add(time.Hour), "alpha")
	settled := newJob(t, t0, "alpha")
	_, err := settled.Cancel(t0)
	require.NoError(t, err)

	for _, j := range []*domain.Job{old, fresh, settled} {
		require.NoError(t, store.CreateJob(ctx, j))
	}

	cutoff := t0.Add(30 * time.Minute)
	ids, err := store.FindExpiredJobs(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{old.ID()}, ids)

	refs, err := store.FindExpiredSubTasks(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, old.ID(), refs[0].JobID)
	assert.Equal(t, old.SubTasks()[0].ID(), refs[0].SubTaskID)
}

func TestJobStore_FindExpiredRespectsLimit(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()
	for i := range 3 {
		require.NoError(t, store.CreateJob(ctx, newJob(t, t0.Add(time.Duration(i)*time.Minute), "alpha")))
	}

	ids, err := store.FindExpiredJobs(ctx, t0.Add(time.Hour), 2)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestJobStore_DeleteJobsCompletedBefore(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()

	open := newJob(t, t0, "alpha")
	settled := newJob(t, t0, "alpha")
	_, err := settled.Cancel(t0)
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(ctx, open))
	require.NoError(t, store.CreateJob(ctx, settled))

	n, err := store.DeleteJobsCompletedBefore(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.GetJob(ctx, settled.ID())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = store.GetJob(ctx, open.ID())
	assert.NoError(t, err)
}
