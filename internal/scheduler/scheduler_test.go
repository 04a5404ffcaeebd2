package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"vitalis/internal/config"
	"vitalis/internal/store"
	"vitalis/internal/types"
)

func newScheduler(t *testing.T, jobs []Job) (*Scheduler, *store.Store) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, config.Default(), jobs), s
}

func TestIdempotencyKey(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 20, 10, 17, 0, 0, time.UTC)

	t.Run("same bucket shares a key", func(t *testing.T) {
		a := IdempotencyKey("run_insights", "", base, time.Hour)
		b := IdempotencyKey("run_insights", "", base.Add(20*time.Minute), time.Hour)
		assert.Equal(t, a, b)
	})

	t.Run("next bucket gets a fresh key", func(t *testing.T) {
		a := IdempotencyKey("run_insights", "", base, time.Hour)
		b := IdempotencyKey("run_insights", "", base.Add(time.Hour), time.Hour)
		assert.NotEqual(t, a, b)
	})

	t.Run("job and params feed the key", func(t *testing.T) {
		a := IdempotencyKey("run_insights", "", base, time.Hour)
		b := IdempotencyKey("sync_providers", "", base, time.Hour)
		c := IdempotencyKey("run_insights", "user=u1", base, time.Hour)
		assert.NotEqual(t, a, b)
		assert.NotEqual(t, a, c)
	})
}

func TestExecute(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	t.Run("completed run recorded", func(t *testing.T) {
		var calls int32
		job := Job{ID: "j1", Interval: time.Hour, Run: func(ctx context.Context) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "did things", nil
		}}
		sched, st := newScheduler(t, nil)

		run, err := sched.Execute(context.Background(), job, now)
		require.NoError(t, err)
		assert.Equal(t, types.JobCompleted, run.Status)
		assert.Equal(t, "did things", run.ResultSummary)
		assert.EqualValues(t, 1, calls)

		runs, err := st.RunsForJob(context.Background(), "j1", 10)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, types.JobCompleted, runs[0].Status)
	})

	t.Run("second execution in the bucket skips", func(t *testing.T) {
		var calls int32
		job := Job{ID: "j2", Interval: time.Hour, Run: func(ctx context.Context) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "ok", nil
		}}
		sched, st := newScheduler(t, nil)

		_, err := sched.Execute(context.Background(), job, now)
		require.NoError(t, err)
		run, err := sched.Execute(context.Background(), job, now.Add(10*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, types.JobSkipped, run.Status)
		assert.Equal(t, SkipReasonIdempotency, run.ResultSummary)
		assert.EqualValues(t, 1, calls, "the job body must run once per bucket")

		// Only the completed run was persisted; skips are synthetic.
		runs, err := st.RunsForJob(context.Background(), "j2", 10)
		require.NoError(t, err)
		assert.Len(t, runs, 1)
	})

	t.Run("next bucket runs again", func(t *testing.T) {
		var calls int32
		job := Job{ID: "j3", Interval: time.Hour, Run: func(ctx context.Context) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "ok", nil
		}}
		sched, _ := newScheduler(t, nil)

		_, err := sched.Execute(context.Background(), job, now)
		require.NoError(t, err)
		_, err = sched.Execute(context.Background(), job, now.Add(time.Hour))
		require.NoError(t, err)
		assert.EqualValues(t, 2, calls)
	})

	t.Run("failure recorded and returned", func(t *testing.T) {
		boom := errors.New("boom")
		job := Job{ID: "j4", Interval: time.Hour, Run: func(ctx context.Context) (string, error) {
			return "", boom
		}}
		sched, st := newScheduler(t, nil)

		run, err := sched.Execute(context.Background(), job, now)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, types.JobFailed, run.Status)
		assert.Equal(t, "boom", run.Error)

		runs, err := st.RunsForJob(context.Background(), "j4", 10)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, types.JobFailed, runs[0].Status)
	})

	t.Run("failed run does not block a retry in the bucket", func(t *testing.T) {
		var calls int32
		job := Job{ID: "j5", Interval: time.Hour, Run: func(ctx context.Context) (string, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return "", errors.New("transient")
			}
			return "recovered", nil
		}}
		sched, _ := newScheduler(t, nil)

		_, _ = sched.Execute(context.Background(), job, now)
		// A failed run holds the key; only completed runs short-circuit the
		// idempotency check, but the unique index still blocks re-creation.
		run, err := sched.Execute(context.Background(), job, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, types.JobSkipped, run.Status)
	})
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls int32
	job := Job{ID: "tick", Interval: time.Hour, Run: func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	}}
	sched, st := newScheduler(t, []Job{job})
	defer st.Close()
	sched.cfg.Scheduler.TickSeconds = 1

	sched.Start(context.Background())
	sched.Start(context.Background()) // idempotent

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&calls) == 0 {
		time.Sleep(50 * time.Millisecond)
	}
	sched.Stop()
	sched.Stop() // idempotent

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestJobsAccessor(t *testing.T) {
	job := Job{ID: "a", Interval: time.Hour}
	sched, _ := newScheduler(t, []Job{job})
	require.Len(t, sched.Jobs(), 1)
	assert.Equal(t, "a", sched.Jobs()[0].ID)
}
