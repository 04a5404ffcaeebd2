package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vitalis/internal/series"
	"vitalis/internal/types"
)

var (
	ingestSource string

	checkinMood   float64
	checkinEnergy float64
	checkinStress float64
	checkinTags   []string
	checkinNote   string
	checkinDate   string

	consentExperimental bool
	consentProviders    []string
)

// ingestCmd loads a JSON batch of observations
var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a JSON batch of health observations",
	Long: `Reads a JSON array of points and ingests them atomically:

  [{"metric_key": "sleep_duration", "value": 432, "unit": "min",
    "timestamp": "2026-08-23T07:10:00Z"}]

Units are converted to the metric's canonical unit where compatible.
Out-of-range or unknown-metric points reject the batch row, not the run.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

type pointInput struct {
	MetricKey string  `json:"metric_key"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Timestamp string  `json:"timestamp"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var raw []pointInput
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	batch := make([]types.NormalizedPoint, 0, len(raw))
	for i, p := range raw {
		ts, err := time.Parse(time.RFC3339, p.Timestamp)
		if err != nil {
			return fmt.Errorf("point %d: bad timestamp %q: %w", i, p.Timestamp, err)
		}
		batch = append(batch, types.NormalizedPoint{
			User:      types.UserID(user),
			MetricKey: types.MetricKey(p.MetricKey),
			Value:     p.Value,
			Unit:      p.Unit,
			Timestamp: ts.UTC(),
			Source:    ingestSource,
		})
	}

	res, err := a.ingestor.Ingest(cmd.Context(), types.UserID(user), ingestSource, batch)
	if err != nil {
		return err
	}
	logger.Info("batch ingested",
		zap.Int("inserted", res.Inserted),
		zap.Int("rejected", res.Rejected),
		zap.Float64("quality", res.Quality.Overall),
		zap.String("run_id", res.RunID))
	for _, e := range res.Errors {
		fmt.Fprintf(os.Stderr, "rejected: %s\n", e)
	}
	fmt.Printf("inserted=%d rejected=%d quality=%.2f\n", res.Inserted, res.Rejected, res.Quality.Overall)
	return nil
}

// checkinCmd records a daily subjective check-in
var checkinCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Record a daily check-in (mood, energy, stress, tags)",
	Long: `Stores the day's check-in and mirrors mood, energy, and stress as
subjective metric points so they enter the same analytical pipeline as
wearable data. Tags become candidate drivers for attribution.`,
	RunE: runCheckin,
}

func runCheckin(cmd *cobra.Command, args []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	day := series.Day(time.Now().UTC())
	if checkinDate != "" {
		d, err := time.Parse("2006-01-02", checkinDate)
		if err != nil {
			return fmt.Errorf("bad --date %q: %w", checkinDate, err)
		}
		day = series.Day(d)
	}

	ci := &types.CheckIn{
		User:   types.UserID(user),
		Date:   day,
		Mood:   checkinMood,
		Energy: checkinEnergy,
		Stress: checkinStress,
		Tags:   checkinTags,
		Note:   checkinNote,
	}
	if err := a.store.UpsertCheckIn(cmd.Context(), ci); err != nil {
		return err
	}

	// Mirror the scores into the metric stream. Noon keeps the points
	// inside the check-in's day bucket.
	ts := day.Add(12 * time.Hour)
	batch := []types.NormalizedPoint{
		{User: ci.User, MetricKey: "mood", Value: ci.Mood, Unit: "score", Timestamp: ts, Source: "checkin"},
		{User: ci.User, MetricKey: "energy", Value: ci.Energy, Unit: "score", Timestamp: ts, Source: "checkin"},
		{User: ci.User, MetricKey: "stress", Value: ci.Stress, Unit: "score", Timestamp: ts, Source: "checkin"},
	}
	if _, err := a.ingestor.Ingest(cmd.Context(), ci.User, "checkin", batch); err != nil {
		return err
	}

	fmt.Printf("check-in recorded for %s (tags: %s)\n",
		day.Format("2006-01-02"), strings.Join(ci.Tags, ", "))
	return nil
}

// consentCmd manages the consent record
var consentCmd = &cobra.Command{
	Use:   "consent [grant|revoke]",
	Short: "Grant or revoke analysis consent",
	Long: `Consent gates all analysis. Revocation takes effect on the next loop
run; historical data is retained but no new insights are generated.
Provider scopes are granted per vendor and are independent of the
analysis scope.`,
	Args: cobra.ExactArgs(1),
	RunE: runConsent,
}

func runConsent(cmd *cobra.Command, args []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	switch args[0] {
	case "grant":
		scopes := make(map[string]bool, len(consentProviders))
		for _, p := range consentProviders {
			scopes[p] = true
		}
		c := types.Consent{
			User:                        types.UserID(user),
			DataAnalysis:                true,
			ExperimentalRecommendations: consentExperimental,
			StopAnytime:                 true,
			ProviderScopes:              scopes,
			Version:                     "1",
		}
		if err := a.store.UpsertConsent(cmd.Context(), c); err != nil {
			return err
		}
		fmt.Println("consent granted")
	case "revoke":
		if err := a.store.RevokeConsent(cmd.Context(), types.UserID(user), time.Now().UTC()); err != nil {
			return err
		}
		fmt.Println("consent revoked; analysis stops on the next run")
	default:
		return fmt.Errorf("unknown consent action %q (want grant or revoke)", args[0])
	}
	return nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "manual", "batch source label")

	checkinCmd.Flags().Float64Var(&checkinMood, "mood", 5, "mood 1-10")
	checkinCmd.Flags().Float64Var(&checkinEnergy, "energy", 5, "energy 1-10")
	checkinCmd.Flags().Float64Var(&checkinStress, "stress", 5, "stress 1-10")
	checkinCmd.Flags().StringSliceVar(&checkinTags, "tags", nil, "behavior tags (e.g. caffeine,late_meal)")
	checkinCmd.Flags().StringVar(&checkinNote, "note", "", "free-form note")
	checkinCmd.Flags().StringVar(&checkinDate, "date", "", "date YYYY-MM-DD (default today)")

	consentCmd.Flags().BoolVar(&consentExperimental, "experimental", false, "allow experimental recommendations")
	consentCmd.Flags().StringSliceVar(&consentProviders, "providers", nil, "provider scopes to grant")
}
