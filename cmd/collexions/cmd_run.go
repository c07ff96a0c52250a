/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/friendsincode/collexions/internal/pinning"
	"github.com/friendsincode/collexions/internal/server"
)

var (
	runDryRun bool
	runJSON   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one pinning cycle and exit",
	Long: `Run a single pinning cycle: unpin the previous selection, pick new
collections for every configured library, pin them and record them in the
recency ledger.

Examples:
  # Pin now
  collexions run

  # Show what would be pinned without touching Plex or the ledger
  collexions run --dry-run
`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Select without pinning, unpinning or recording")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run report as JSON")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, stop := commandContext(cmd)
	defer stop()

	shutdownTracer, err := initTracer(ctx)
	if err != nil {
		return err
	}
	defer shutdownTracer()

	rt, err := server.NewRuntime(ctx, cfg, !runDryRun, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, runErr := rt.Coordinator.Run(ctx, pinning.RunOptions{
		RunID:  uuid.NewString(),
		DryRun: runDryRun,
	})
	if !runDryRun {
		rt.Notifier.Flush(ctx)
	}

	if report != nil {
		out := cmd.OutOrStdout()
		if runJSON {
			if err := writeJSONOut(out, report); err != nil {
				return err
			}
		} else {
			printReport(out, report)
		}
	}
	return runErr
}
