package scheduler

import (
	"context"
	"fmt"
	"time"

	"vitalis/internal/attribution"
	"vitalis/internal/baseline"
	"vitalis/internal/causal"
	"vitalis/internal/config"
	"vitalis/internal/consent"
	"vitalis/internal/evaluation"
	"vitalis/internal/logging"
	"vitalis/internal/loop"
	"vitalis/internal/narrative"
	"vitalis/internal/provider"
	"vitalis/internal/series"
	"vitalis/internal/store"
	"vitalis/internal/trust"
	"vitalis/internal/types"
)

// Deps bundles what the standard job set needs.
type Deps struct {
	Store       *store.Store
	Cfg         *config.Config
	Loop        *loop.Runner
	Baselines   *baseline.Service
	Evaluator   *evaluation.Service
	Attribution *attribution.Engine
	Causal      *causal.Updater
	Narratives  *narrative.Synthesizer
	Trust       *trust.Engine
	Providers   *provider.Manager
}

// StandardJobs builds the periodic job set. Each job iterates users
// sequentially; per-user failures skip that user, never the job.
func StandardJobs(d Deps) []Job {
	return []Job{
		{ID: "run_insights", Interval: time.Hour, Run: d.runInsights},
		{ID: "recompute_baselines", Interval: 24 * time.Hour, Run: d.recomputeBaselines},
		{ID: "evaluate_due_experiments", Interval: 24 * time.Hour, Run: d.evaluateDue},
		{ID: "sync_providers", Interval: 6 * time.Hour, Run: d.syncProviders},
		{ID: "recompute_personal_drivers", Interval: 24 * time.Hour, Run: d.recomputeDrivers},
		{ID: "generate_daily_narrative", Interval: 24 * time.Hour, Run: d.dailyNarratives},
		{ID: "weekly_trust_rollup", Interval: 7 * 24 * time.Hour, Run: d.trustRollup},
		{ID: "dispatch_notifications", Interval: 15 * time.Minute, Run: d.dispatchNotifications},
	}
}

func (d Deps) eachUser(ctx context.Context, fn func(ctx context.Context, user types.UserID) error) (int, int, error) {
	users, err := d.Store.DistinctUsersWithPoints(ctx)
	if err != nil {
		return 0, 0, err
	}
	ok, skipped := 0, 0
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return ok, skipped, err
		}
		if err := fn(ctx, user); err != nil {
			skipped++
			if _, denied := consent.IsDenied(err); !denied {
				logging.Get(logging.CategoryScheduler).Warn("user %s skipped: %v", user, err)
			}
			continue
		}
		ok++
	}
	return ok, skipped, nil
}

func (d Deps) runInsights(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	ok, skipped, err := d.eachUser(ctx, func(ctx context.Context, user types.UserID) error {
		_, err := d.Loop.Run(ctx, user, now)
		return err
	})
	return fmt.Sprintf("users_ok=%d users_skipped=%d", ok, skipped), err
}

func (d Deps) recomputeBaselines(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	total := 0
	ok, skipped, err := d.eachUser(ctx, func(ctx context.Context, user types.UserID) error {
		if _, err := d.Baselines.UpdateFreeze(ctx, user, now); err != nil {
			return err
		}
		n, err := d.Baselines.RecomputeAll(ctx, user, now)
		total += n
		return err
	})
	return fmt.Sprintf("baselines=%d users_ok=%d users_skipped=%d", total, ok, skipped), err
}

// evaluateDue evaluates every experiment whose intervention window has
// elapsed and folds each outcome into the causal memory. Per-experiment
// failures skip that experiment only.
func (d Deps) evaluateDue(ctx context.Context) (string, error) {
	log := logging.Get(logging.CategoryEvaluation)
	now := time.Now().UTC()
	due, err := d.Store.DueExperiments(ctx, now)
	if err != nil {
		return "", err
	}
	evaluated, skipped := 0, 0
	for i := range due {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		exp := &due[i]
		ev, err := d.Evaluator.Evaluate(ctx, exp, now)
		if err != nil {
			log.Error("experiment=%d: %v", exp.ID, err)
			skipped++
			continue
		}
		if _, err := d.Causal.Observe(ctx, exp.InterventionKey, ev); err != nil {
			log.Error("experiment=%d: causal update: %v", exp.ID, err)
		}
		ended := now
		if err := d.Store.UpdateExperimentStatus(ctx, exp.ID, types.ExperimentCompleted, &ended); err != nil {
			log.Error("experiment=%d: complete: %v", exp.ID, err)
			skipped++
			continue
		}
		evaluated++
	}
	return fmt.Sprintf("experiments_evaluated=%d experiments_skipped=%d", evaluated, skipped), nil
}

func (d Deps) syncProviders(ctx context.Context) (string, error) {
	if d.Providers == nil || len(d.Providers.Adapters()) == 0 {
		return "no_adapters_registered", nil
	}
	now := time.Now().UTC()
	synced := 0
	ok, skipped, err := d.eachUser(ctx, func(ctx context.Context, user types.UserID) error {
		for _, name := range d.Providers.Adapters() {
			since := now.AddDate(0, 0, -7)
			if latest, err := d.Store.LatestPointTime(ctx, user, name); err == nil {
				since = latest
			}
			if _, err := d.Providers.Sync(ctx, user, name, since, now); err != nil {
				if _, denied := consent.IsDenied(err); denied {
					continue // not every user grants every vendor
				}
				return err
			}
			synced++
		}
		return nil
	})
	return fmt.Sprintf("syncs=%d users_ok=%d users_skipped=%d", synced, ok, skipped), err
}

func (d Deps) recomputeDrivers(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	total := 0
	ok, skipped, err := d.eachUser(ctx, func(ctx context.Context, user types.UserID) error {
		// Paused learning: low-quality recent data skips the update.
		since := now.AddDate(0, 0, -d.Cfg.Windows.AttributionDays)
		avg, err := d.Store.AvgQualitySince(ctx, user, since)
		if err != nil {
			return err
		}
		if avg < d.Cfg.Degradation.PausedLearningQuality {
			logging.Get(logging.CategoryAttribution).Info(
				"user=%s learning paused: avg quality %.2f", user, avg)
			return nil
		}
		findings, err := d.Attribution.Recompute(ctx, user, now)
		total += len(findings)
		return err
	})
	return fmt.Sprintf("drivers=%d users_ok=%d users_skipped=%d", total, ok, skipped), err
}

func (d Deps) dailyNarratives(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	end := series.Day(now)
	start := end.AddDate(0, 0, -1)
	ok, skipped, err := d.eachUser(ctx, func(ctx context.Context, user types.UserID) error {
		_, err := d.Narratives.Synthesize(ctx, user, narrative.PeriodDaily, start, end)
		return err
	})
	return fmt.Sprintf("narratives_ok=%d users_skipped=%d", ok, skipped), err
}

func (d Deps) trustRollup(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	ok, skipped, err := d.eachUser(ctx, func(ctx context.Context, user types.UserID) error {
		_, err := d.Trust.Rollup(ctx, user, now)
		return err
	})
	return fmt.Sprintf("rollups_ok=%d users_skipped=%d", ok, skipped), err
}

// dispatchNotifications surfaces the day's pending non-suppressed
// insights to the notification channel. Delivery itself is a
// collaborator concern; here we count and log.
func (d Deps) dispatchNotifications(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	day := series.Day(now)
	total := 0
	ok, skipped, err := d.eachUser(ctx, func(ctx context.Context, user types.UserID) error {
		n, err := d.Store.CountSurfacedBetween(ctx, user, day, day.AddDate(0, 0, 1))
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	return fmt.Sprintf("pending=%d users_ok=%d users_skipped=%d", total, ok, skipped), err
}
