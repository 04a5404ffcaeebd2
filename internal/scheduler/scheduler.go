// Package scheduler runs the periodic jobs with idempotency keys and run
// tracking. Multiple jobs execute in parallel on independent workers;
// each job iterates users sequentially.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vitalis/internal/config"
	"vitalis/internal/logging"
	"vitalis/internal/store"
	"vitalis/internal/types"
)

// SkipReasonIdempotency is returned on duplicate executions within a
// bucket.
const SkipReasonIdempotency = "idempotency_check"

// Job is one schedulable unit. Run returns a human-readable result
// summary.
type Job struct {
	ID       string
	Interval time.Duration
	Params   string
	Run      func(ctx context.Context) (string, error)
}

// IdempotencyKey hashes (job, params, time bucket). Two executions of
// the same job in the same bucket share a key, and the unique run-record
// index turns the second into a skip.
func IdempotencyKey(jobID, params string, now time.Time, window time.Duration) string {
	bucket := now.UTC().Truncate(window).Format(time.RFC3339)
	h := sha256.Sum256([]byte(jobID + "|" + params + "|" + bucket))
	return hex.EncodeToString(h[:])
}

// Scheduler dispatches jobs on a ticker.
type Scheduler struct {
	store *store.Store
	cfg   *config.Config
	jobs  []Job

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a scheduler over a job set.
func New(s *store.Store, cfg *config.Config, jobs []Job) *Scheduler {
	return &Scheduler{store: s, cfg: cfg, jobs: jobs}
}

// Execute runs one job now under the idempotency guard. A completed run
// with the same key within the bucket short-circuits to a skipped record.
func (s *Scheduler) Execute(ctx context.Context, job Job, now time.Time) (*types.JobRun, error) {
	log := logging.Get(logging.CategoryScheduler)
	key := IdempotencyKey(job.ID, job.Params, now, job.Interval)

	done, err := s.store.CompletedRunWithKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if done {
		log.Debug("job %s skipped: completed run exists for bucket", job.ID)
		logging.EmitEvent(logging.AuditJobSkipped, "", job.ID, SkipReasonIdempotency, true)
		return &types.JobRun{
			JobID:          job.ID,
			IdempotencyKey: key,
			Status:         types.JobSkipped,
			ResultSummary:  SkipReasonIdempotency,
		}, nil
	}

	started := now
	run := &types.JobRun{
		JobID:          job.ID,
		IdempotencyKey: key,
		Status:         types.JobRunning,
		StartedAt:      &started,
	}
	if err := s.store.CreateJobRun(ctx, run); err != nil {
		if errors.Is(err, store.ErrDuplicateRun) {
			// Concurrent execution in the same bucket.
			log.Debug("job %s skipped: concurrent run holds the key", job.ID)
			logging.EmitEvent(logging.AuditJobSkipped, "", job.ID, SkipReasonIdempotency, true)
			return &types.JobRun{
				JobID:          job.ID,
				IdempotencyKey: key,
				Status:         types.JobSkipped,
				ResultSummary:  SkipReasonIdempotency,
			}, nil
		}
		return nil, err
	}

	summary, runErr := job.Run(ctx)
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.DurationMs = completed.Sub(started).Milliseconds()
	if runErr != nil {
		run.Status = types.JobFailed
		run.Error = runErr.Error()
		logging.EmitEvent(logging.AuditJobFailed, "", job.ID, runErr.Error(), false)
		log.Error("job %s failed after %dms: %v", job.ID, run.DurationMs, runErr)
	} else {
		run.Status = types.JobCompleted
		run.ResultSummary = summary
		logging.EmitEvent(logging.AuditJobCompleted, "", job.ID, summary, true)
		log.Info("job %s completed in %dms: %s", job.ID, run.DurationMs, summary)
	}
	if err := s.store.UpdateJobRun(ctx, run); err != nil {
		return nil, err
	}
	return run, runErr
}

// Start begins the dispatch loop. Non-blocking; Stop waits for the loop
// and all in-flight jobs to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	tick := time.Duration(s.cfg.Scheduler.TickSeconds) * time.Second
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.dispatch(ctx, now.UTC())
		}
	}
}

// dispatch runs every due job in parallel, bounded by the worker count.
// The idempotency guard makes re-dispatch within a bucket harmless.
func (s *Scheduler) dispatch(ctx context.Context, now time.Time) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Scheduler.Workers)
	for _, job := range s.jobs {
		job := job
		g.Go(func() error {
			if _, err := s.Execute(gctx, job, now); err != nil {
				logging.Get(logging.CategoryScheduler).Error("dispatch %s: %v", job.ID, err)
			}
			return nil
		})
	}
	g.Wait()
}

// Stop halts dispatch and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// Jobs returns the configured job set. Exposed for CLI inspection.
func (s *Scheduler) Jobs() []Job {
	return s.jobs
}
