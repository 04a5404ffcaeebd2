package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string
	userID     string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vitalis",
	Short: "vitalis - personal longitudinal health analytics",
	Long: `vitalis ingests health observations from wearables, check-ins, and
manual logs, maintains per-metric baselines, and runs a governed insight
loop: change/trend/instability detection, driver attribution, experiment
evaluation, causal memory, narratives, and trust rollups.

All analysis is per-user and consent-gated. Claims are capped by evidence
level; safety rules override everything else.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config YAML")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "user id for per-user commands")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(checkinCmd)
	rootCmd.AddCommand(consentCmd)
	rootCmd.AddCommand(baselinesCmd)
	rootCmd.AddCommand(driversCmd)
	rootCmd.AddCommand(experimentCmd)
	rootCmd.AddCommand(narrativeCmd)
	rootCmd.AddCommand(statusCmd)
}

// requireUser validates the --user flag for commands that need it.
func requireUser() (string, error) {
	if userID == "" {
		return "", fmt.Errorf("--user is required")
	}
	return userID, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
