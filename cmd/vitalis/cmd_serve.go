package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vitalis/internal/scheduler"
)

// serveCmd runs the scheduler daemon
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analytics scheduler until interrupted",
	Long: `Starts the periodic job set: hourly insight loops, nightly baseline
and driver recomputation, daily experiment evaluation and narratives,
provider syncs, and the weekly trust rollup. Threshold overrides in
<data_dir>/thresholds.yaml hot-reload without a restart.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := a.thresholds.Start(ctx); err != nil {
		return err
	}
	defer a.thresholds.Stop()

	sched := scheduler.New(a.store, a.cfg, scheduler.StandardJobs(scheduler.Deps{
		Store:       a.store,
		Cfg:         a.cfg,
		Loop:        a.loop,
		Baselines:   a.baselines,
		Evaluator:   a.evaluator,
		Attribution: a.attributor,
		Causal:      a.causal,
		Narratives:  a.narratives,
		Trust:       a.trust,
		Providers:   a.providers,
	}))
	sched.Start(ctx)
	logger.Info("scheduler started",
		zap.Int("jobs", len(sched.Jobs())),
		zap.Int("workers", a.cfg.Scheduler.Workers),
		zap.String("db", a.cfg.DatabasePath))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	sched.Stop()
	return nil
}
