package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/pulsejobs/cmd/pulsejobs/commands"
	"github.com/teranos/pulsejobs/logger"
)

var rootCmd = &cobra.Command{
	Use:   "pulsejobs",
	Short: "pulsejobs - scheduled job lifecycle orchestrator",
	Long: `pulsejobs - schedule jobs once or on a recurring cadence, retry failures
with backoff, and keep a history of every attempt.

Available commands:
  serve   - Run the Pulse daemon (wake-ups, worker pool, metrics)
  job     - Create and manage jobs
  am      - Manage pulsejobs configuration ("I am")
  db      - Manage the pulsejobs database
  version - Show version information

Examples:
  pulsejobs serve                                     # Run the daemon
  pulsejobs job create --name report --at +10m        # One-time job in 10 minutes
  pulsejobs job create --name rollup --recurring daily --at 2026-01-01T09:00:00Z
  pulsejobs job ls                                    # List your jobs
  pulsejobs am show                                   # Show current configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip for commands whose output is meant for piping
		if cmd.Name() == "show" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.InitializeWithLevel(jsonLogs, logger.LevelFromVerbosity(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&commands.ConfigFile, "config", "", "Config file (default: am.toml discovery)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.JobCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
