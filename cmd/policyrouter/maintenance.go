package main

import (
	"fmt"

	"github.com/router-for-me/PolicyRouter/internal/app"
	"github.com/spf13/cobra"
)

var rotateDays int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Migrate(cmd.Context(), appConfig())
	},
}

var resequenceCmd = &cobra.Command{
	Use:   "resequence",
	Short: "Rewrite rule priorities to 1..N in evaluation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		changed, errResequence := app.Resequence(cmd.Context(), appConfig())
		if errResequence != nil {
			return errResequence
		}
		fmt.Fprintf(cmd.OutOrStdout(), "resequenced rules, %d priorities changed\n", changed)
		return nil
	},
}

var rotateLogsCmd = &cobra.Command{
	Use:   "rotate-logs",
	Short: "Delete request log entries older than the retention window",
	Long: `Delete request log entries older than --days. Without --days the configured
retention applies, including runtime overrides from the settings table.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deleted, errRotate := app.RotateLogs(cmd.Context(), appConfig(), rotateDays)
		if errRotate != nil {
			return errRotate
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d request log entries\n", deleted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, resequenceCmd, rotateLogsCmd)
	rotateLogsCmd.Flags().IntVar(&rotateDays, "days", 0, "Delete entries older than this many days")
}
