/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"github.com/spf13/cobra"

	"github.com/friendsincode/collexions/internal/server"
)

var previewJSON bool

var previewCmd = &cobra.Command{
	Use:   "preview <library>",
	Short: "Show the collections one library would get, without changing anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runPreview,
}

func init() {
	previewCmd.Flags().BoolVar(&previewJSON, "json", false, "Print the selection as JSON")
	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
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

	lr, err := rt.Coordinator.Preview(ctx, args[0])
	if err != nil {
		return err
	}

	if previewJSON {
		return writeJSONOut(cmd.OutOrStdout(), lr)
	}
	printLibrary(cmd.OutOrStdout(), *lr)
	return nil
}
