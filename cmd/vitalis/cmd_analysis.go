package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vitalis/internal/consent"
	"vitalis/internal/narrative"
	"vitalis/internal/safety"
	"vitalis/internal/series"
	"vitalis/internal/trust"
	"vitalis/internal/types"
)

var (
	expKey       string
	expName      string
	expDosage    string
	expSchedule  string
	expMetric    string
	expDirection string
	expBaseDays  int
	expIntDays   int
	expTaken     bool

	narrativePeriod string
)

// runCmd executes one insight loop pass
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one insight loop pass for a user",
	Long: `Executes the full analytical pass: consent check, safety gate,
change/trend/instability detection against baselines, claim governance,
guardrails, and suppression. Insights commit atomically with their
audit trail and explanation edges.`,
	RunE: runLoop,
}

func runLoop(cmd *cobra.Command, args []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.loop.Run(cmd.Context(), types.UserID(user), time.Now().UTC())
	if err != nil {
		return err
	}
	logger.Info("loop complete",
		zap.String("run_id", res.RunID),
		zap.Int("insights", len(res.Insights)),
		zap.Bool("safety_fired", res.SafetyFired),
		zap.Duration("elapsed", res.Elapsed))
	for _, ins := range res.Insights {
		state := "surfaced"
		if ins.Suppressed {
			state = "suppressed (" + ins.SuppressionReason + ")"
		}
		fmt.Printf("[%s L%d conf=%.2f] %s: %s [%s]\n",
			ins.Type, ins.ClaimLevel, ins.Confidence, ins.Title, ins.Description, state)
	}
	if len(res.Insights) == 0 {
		fmt.Println("no insights this run")
	}
	return nil
}

// baselinesCmd recomputes baselines
var baselinesCmd = &cobra.Command{
	Use:   "baselines",
	Short: "Recompute all baselines for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser()
		if err != nil {
			return err
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		now := time.Now().UTC()
		frozen, err := a.baselines.UpdateFreeze(cmd.Context(), types.UserID(user), now)
		if err != nil {
			return err
		}
		n, err := a.baselines.RecomputeAll(cmd.Context(), types.UserID(user), now)
		if err != nil {
			return err
		}
		fmt.Printf("recomputed %d baselines (frozen=%v)\n", n, frozen)
		return nil
	},
}

// driversCmd recomputes and lists personal drivers
var driversCmd = &cobra.Command{
	Use:   "drivers",
	Short: "Recompute and list personal drivers",
	Long: `Runs lagged attribution of behaviors and interventions against
outcome metrics and prints the surviving findings. Findings that fail
the multiple-comparison and stability guardrails are dropped before
persistence.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser()
		if err != nil {
			return err
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		findings, err := a.attributor.Recompute(cmd.Context(), types.UserID(user), time.Now().UTC())
		if err != nil {
			return err
		}
		if len(findings) == 0 {
			fmt.Println("no drivers passed the guardrails")
			return nil
		}
		for _, f := range findings {
			label := ""
			if f.Label != "" {
				label = " [" + f.Label + "]"
			}
			fmt.Printf("%s -> %s lag=%dd d=%.2f %s conf=%.2f n=%d%s\n",
				f.DriverKey, f.OutcomeMetric, f.LagDays, f.EffectSize,
				f.Direction, f.Confidence, f.SampleSize, label)
		}
		return nil
	},
}

// experimentCmd manages intervention experiments
var experimentCmd = &cobra.Command{
	Use:   "experiment [start|adhere|evaluate]",
	Short: "Start, log adherence for, or evaluate experiments",
	Long: `start opens a quasi-experimental window pair around an intervention.
High-risk interventions (prescription changes, fasting protocols) are
refused at creation. adhere records whether today's dose was taken.
evaluate closes out every experiment whose window has elapsed and folds
the outcomes into the causal memory.`,
	Args: cobra.ExactArgs(1),
	RunE: runExperiment,
}

func runExperiment(cmd *cobra.Command, args []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()
	now := time.Now().UTC()

	switch args[0] {
	case "start":
		if expKey == "" || expMetric == "" {
			return fmt.Errorf("--key and --metric are required")
		}
		if err := a.gate.Check(ctx, types.UserID(user), consent.ScopeExperimental); err != nil {
			return err
		}
		decision := safety.Assess(expName, expDosage)
		if err := safety.CheckCreatable(decision); err != nil {
			return err
		}
		iv := &types.Intervention{
			User:     types.UserID(user),
			Key:      expKey,
			Name:     expName,
			Dosage:   expDosage,
			Schedule: expSchedule,
			Safety:   decision,
		}
		if err := a.store.CreateIntervention(ctx, iv); err != nil {
			return err
		}
		exp := &types.Experiment{
			User:                   types.UserID(user),
			InterventionKey:        expKey,
			PrimaryMetric:          types.MetricKey(expMetric),
			ExpectedDirection:      expDirection,
			StartedAt:              now,
			Status:                 types.ExperimentActive,
			BaselineWindowDays:     expBaseDays,
			InterventionWindowDays: expIntDays,
		}
		if err := a.store.CreateExperiment(ctx, exp); err != nil {
			return err
		}
		fmt.Printf("experiment %d started: %s -> %s (risk=%s)\n",
			exp.ID, expKey, expMetric, decision.RiskLevel)
	case "adhere":
		active, err := a.store.ExperimentsByStatus(ctx, types.UserID(user), types.ExperimentActive)
		if err != nil {
			return err
		}
		if expKey != "" {
			filtered := active[:0]
			for _, e := range active {
				if e.InterventionKey == expKey {
					filtered = append(filtered, e)
				}
			}
			active = filtered
		}
		if len(active) == 0 {
			return fmt.Errorf("no active experiment found")
		}
		for _, e := range active {
			ev := &types.AdherenceEvent{
				User:         types.UserID(user),
				ExperimentID: e.ID,
				Timestamp:    now,
				Taken:        expTaken,
				Dose:         expDosage,
			}
			if err := a.store.InsertAdherence(ctx, ev); err != nil {
				return err
			}
			fmt.Printf("adherence logged for experiment %d (taken=%v)\n", e.ID, expTaken)
		}
	case "evaluate":
		n, err := a.evaluator.EvaluateDue(ctx, now)
		if err != nil {
			return err
		}
		fmt.Printf("evaluated %d experiments\n", n)
	default:
		return fmt.Errorf("unknown experiment action %q", args[0])
	}
	return nil
}

// narrativeCmd synthesizes a narrative for the most recent period
var narrativeCmd = &cobra.Command{
	Use:   "narrative",
	Short: "Synthesize the latest daily or weekly narrative",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser()
		if err != nil {
			return err
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		end := series.Day(time.Now().UTC())
		days := 1
		period := narrative.PeriodDaily
		if narrativePeriod == "weekly" {
			days = 7
			period = narrative.PeriodWeekly
		}
		n, err := a.narratives.Synthesize(cmd.Context(), types.UserID(user),
			period, end.AddDate(0, 0, -days), end)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n\n%s\n", n.Title, n.Summary)
		for _, kp := range n.KeyPoints {
			fmt.Printf("  - %s\n", kp.Text)
		}
		for _, r := range n.Risks {
			fmt.Printf("  ! [%s] %s\n", r.Severity, r.Text)
		}
		for _, act := range n.Actions {
			fmt.Printf("  > %s\n", act.Action)
		}
		return nil
	},
}

// statusCmd prints the trust score and recent activity
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show trust score and recent insight activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser()
		if err != nil {
			return err
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()
		now := time.Now().UTC()

		ts, err := a.trust.Rollup(ctx, types.UserID(user), now)
		if err != nil {
			return err
		}
		fmt.Printf("trust: %.0f/100 (%s)\n", ts.Overall, trust.Level(ts.Overall))
		fmt.Printf("  coverage=%.0f adherence=%.0f success=%.0f stability=%.0f\n",
			ts.Components.DataCoverage, ts.Components.Adherence,
			ts.Components.EvaluationSuccess, ts.Components.Stability)

		day := series.Day(now)
		surfaced, err := a.store.CountSurfacedBetween(ctx, types.UserID(user), day, day.AddDate(0, 0, 1))
		if err != nil {
			return err
		}
		fmt.Printf("insights surfaced today: %d\n", surfaced)

		drivers, err := a.store.DriversForUser(ctx, types.UserID(user))
		if err != nil {
			return err
		}
		fmt.Printf("active drivers: %d\n", len(drivers))
		return nil
	},
}

func init() {
	experimentCmd.Flags().StringVar(&expKey, "key", "", "intervention key (e.g. magnesium)")
	experimentCmd.Flags().StringVar(&expName, "name", "", "intervention display name")
	experimentCmd.Flags().StringVar(&expDosage, "dosage", "", "dose description")
	experimentCmd.Flags().StringVar(&expSchedule, "schedule", "daily", "dosing schedule")
	experimentCmd.Flags().StringVar(&expMetric, "metric", "", "primary outcome metric key")
	experimentCmd.Flags().StringVar(&expDirection, "direction", "", "expected direction (positive/negative)")
	experimentCmd.Flags().IntVar(&expBaseDays, "baseline-days", 14, "baseline window length")
	experimentCmd.Flags().IntVar(&expIntDays, "window-days", 14, "intervention window length")
	experimentCmd.Flags().BoolVar(&expTaken, "taken", true, "dose taken")

	narrativeCmd.Flags().StringVar(&narrativePeriod, "period", "daily", "daily or weekly")
}
