/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/collexions/internal/server"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs from the recency ledger, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show (0 = all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print entries as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, stop := commandContext(cmd)
	defer stop()

	rt, err := server.NewRuntime(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	l, _, err := rt.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	entries := l.Entries()
	if historyLimit > 0 && historyLimit < len(entries) {
		entries = entries[:historyLimit]
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		return writeJSONOut(out, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}
	fmt.Fprintln(out, historyTable(entries))
	return nil
}
